package peerview

import (
	"sync"
	"testing"
	"time"

	"logosnode/protocol"
)

type recordingSink struct {
	mu       sync.Mutex
	observed []string
	statuses map[string]string
	removed  []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{statuses: make(map[string]string)}
}

func (s *recordingSink) PeerObserved(p PeerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = append(s.observed, p.NodeID)
}

func (s *recordingSink) PeerStatusChanged(nodeID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[nodeID] = status
}

func (s *recordingSink) PeerRemoved(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, nodeID)
}

func digest(node string, clock uint64, slots int) protocol.NodeSync {
	return protocol.NodeSync{
		NodeID:     node,
		Tier:       "PUBLIC",
		Clock:      clock,
		SlotsInUse: slots,
		SlotsTotal: 400,
	}
}

func TestObserveReplacesWholesale(t *testing.T) {
	v := NewView("PUBLIC-001", nil)
	now := time.Now().UTC()

	if !v.Observe(digest("PUBLIC-002", 1, 10), now) {
		t.Fatal("first digest rejected")
	}
	if !v.Observe(digest("PUBLIC-002", 2, 99), now.Add(time.Second)) {
		t.Fatal("newer digest rejected")
	}
	p, ok := v.Peer("PUBLIC-002")
	if !ok {
		t.Fatal("peer missing")
	}
	if p.SlotsInUse != 99 || p.Clock != 2 {
		t.Fatalf("peer = clock %d slots %d, want clock 2 slots 99", p.Clock, p.SlotsInUse)
	}
}

func TestObserveDiscardsStaleClock(t *testing.T) {
	v := NewView("PUBLIC-001", nil)
	now := time.Now().UTC()

	v.Observe(digest("PUBLIC-002", 5, 10), now)
	if v.Observe(digest("PUBLIC-002", 5, 20), now.Add(time.Second)) {
		t.Fatal("equal clock accepted")
	}
	if v.Observe(digest("PUBLIC-002", 3, 30), now.Add(2*time.Second)) {
		t.Fatal("older clock accepted")
	}
	p, _ := v.Peer("PUBLIC-002")
	if p.SlotsInUse != 10 {
		t.Fatalf("stale digest overwrote state: slots = %d, want 10", p.SlotsInUse)
	}
}

func TestObserveIgnoresSelf(t *testing.T) {
	v := NewView("PUBLIC-001", nil)
	if v.Observe(digest("PUBLIC-001", 1, 0), time.Now().UTC()) {
		t.Fatal("accepted own digest")
	}
	if len(v.Peers()) != 0 {
		t.Fatal("self entered the peer table")
	}
}

func TestMarkStaleAndRecovery(t *testing.T) {
	sink := newRecordingSink()
	v := NewView("PUBLIC-001", sink)
	now := time.Now().UTC()

	v.Observe(digest("PUBLIC-002", 1, 0), now)
	v.Observe(digest("PUBLIC-003", 1, 0), now.Add(25*time.Second))

	flipped := v.MarkStale(30*time.Second, now.Add(40*time.Second))
	if len(flipped) != 1 || flipped[0] != "PUBLIC-002" {
		t.Fatalf("flipped = %v, want [PUBLIC-002]", flipped)
	}
	p, _ := v.Peer("PUBLIC-002")
	if p.Status != protocol.PeerUnreachable {
		t.Fatalf("status = %s, want unreachable", p.Status)
	}
	if p.Clock != 1 {
		t.Fatal("unreachable peer lost its last snapshot")
	}
	if sink.statuses["PUBLIC-002"] != protocol.PeerUnreachable {
		t.Fatal("sink not told about the flip")
	}

	// A second pass must not flip it again.
	if flipped := v.MarkStale(30*time.Second, now.Add(41*time.Second)); len(flipped) != 0 {
		t.Fatalf("re-flipped peers: %v", flipped)
	}

	// A fresh digest brings it back.
	v.Observe(digest("PUBLIC-002", 2, 5), now.Add(50*time.Second))
	p, _ = v.Peer("PUBLIC-002")
	if p.Status != protocol.PeerReachable {
		t.Fatalf("status after fresh digest = %s, want reachable", p.Status)
	}
}

func TestRemove(t *testing.T) {
	sink := newRecordingSink()
	v := NewView("PUBLIC-001", sink)

	v.Observe(digest("PUBLIC-002", 1, 0), time.Now().UTC())
	v.Remove("PUBLIC-002")
	if _, ok := v.Peer("PUBLIC-002"); ok {
		t.Fatal("removed peer still present")
	}
	if len(sink.removed) != 1 {
		t.Fatalf("sink removals = %d, want 1", len(sink.removed))
	}
	// Removing an unknown peer is a no-op.
	v.Remove("PUBLIC-009")
	if len(sink.removed) != 1 {
		t.Fatal("sink notified for unknown peer")
	}
}

func TestSeedStartsUnreachable(t *testing.T) {
	v := NewView("PUBLIC-001", nil)
	v.Seed([]PeerState{
		{NodeSync: digest("PUBLIC-002", 7, 3), Status: protocol.PeerReachable},
		{NodeSync: digest("PUBLIC-001", 1, 0)},
	})
	peers := v.Peers()
	if len(peers) != 1 {
		t.Fatalf("peer count = %d, want 1 (self excluded)", len(peers))
	}
	if peers[0].Status != protocol.PeerUnreachable {
		t.Fatalf("seeded status = %s, want unreachable", peers[0].Status)
	}
	// The seeded clock still gates stale digests.
	if v.Observe(digest("PUBLIC-002", 6, 0), time.Now().UTC()) {
		t.Fatal("accepted digest older than seeded clock")
	}
}
