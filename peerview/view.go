package peerview

import (
	"log"
	"sort"
	"sync"
	"time"

	"logosnode/protocol"
)

// PeerState is the last accepted digest from one peer plus local
// bookkeeping. The digest is replaced wholesale on each accepted round;
// nothing is merged.
type PeerState struct {
	protocol.NodeSync
	Status     string
	ReceivedAt time.Time
}

// Sink receives peer table changes for persistence. Implementations must
// tolerate concurrent calls; a nil sink disables persistence.
type Sink interface {
	PeerObserved(p PeerState)
	PeerStatusChanged(nodeID, status string)
	PeerRemoved(nodeID string)
}

// View is the node's best-effort picture of its peers. It never feeds back
// into local admission; slots and mirrors answer only to local state.
type View struct {
	self string
	sink Sink

	mu    sync.Mutex
	peers map[string]*PeerState
}

func NewView(self string, sink Sink) *View {
	return &View{
		self:  self,
		sink:  sink,
		peers: make(map[string]*PeerState),
	}
}

// Observe ingests a peer digest. Digests from this node itself, and digests
// whose logical clock does not advance past the last accepted one, are
// discarded. Returns whether the digest was accepted.
func (v *View) Observe(s protocol.NodeSync, at time.Time) bool {
	if s.NodeID == v.self {
		return false
	}
	v.mu.Lock()
	prev, known := v.peers[s.NodeID]
	if known && s.Clock <= prev.Clock {
		v.mu.Unlock()
		log.Printf("peerview: stale digest from %s (clock %d <= %d)", s.NodeID, s.Clock, prev.Clock)
		return false
	}
	p := &PeerState{NodeSync: s, Status: protocol.PeerReachable, ReceivedAt: at}
	v.peers[s.NodeID] = p
	v.mu.Unlock()

	if !known {
		log.Printf("peerview: discovered peer %s (tier %s)", s.NodeID, s.Tier)
	}
	if v.sink != nil {
		v.sink.PeerObserved(*p)
	}
	return true
}

// Remove drops a peer that announced departure.
func (v *View) Remove(nodeID string) {
	v.mu.Lock()
	_, known := v.peers[nodeID]
	delete(v.peers, nodeID)
	v.mu.Unlock()
	if !known {
		return
	}
	log.Printf("peerview: peer %s said goodbye", nodeID)
	if v.sink != nil {
		v.sink.PeerRemoved(nodeID)
	}
}

// MarkStale flips peers without a digest since the cutoff to unreachable.
// Their last snapshot is kept; a fresh digest flips them back. Returns the
// IDs that changed status this pass.
func (v *View) MarkStale(staleAfter time.Duration, now time.Time) []string {
	cutoff := now.Add(-staleAfter)
	var flipped []string
	v.mu.Lock()
	for id, p := range v.peers {
		if p.Status == protocol.PeerReachable && p.ReceivedAt.Before(cutoff) {
			p.Status = protocol.PeerUnreachable
			flipped = append(flipped, id)
		}
	}
	v.mu.Unlock()

	for _, id := range flipped {
		log.Printf("peerview: peer %s unreachable (no digest for %s)", id, staleAfter)
		if v.sink != nil {
			v.sink.PeerStatusChanged(id, protocol.PeerUnreachable)
		}
	}
	return flipped
}

// Peer returns a copy of one peer's state.
func (v *View) Peer(nodeID string) (PeerState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.peers[nodeID]
	if !ok {
		return PeerState{}, false
	}
	return *p, true
}

// Peers returns copies of all known peers, ordered by node ID.
func (v *View) Peers() []PeerState {
	v.mu.Lock()
	out := make([]PeerState, 0, len(v.peers))
	for _, p := range v.peers {
		out = append(out, *p)
	}
	v.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Seed preloads the table from persisted snapshots at startup. Seeded
// peers start unreachable until a live digest arrives.
func (v *View) Seed(states []PeerState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range states {
		if s.NodeID == v.self {
			continue
		}
		p := s
		p.Status = protocol.PeerUnreachable
		v.peers[s.NodeID] = &p
	}
}
