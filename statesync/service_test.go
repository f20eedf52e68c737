package statesync

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"logosnode/config"
	"logosnode/messaging"
	"logosnode/mirrors"
	"logosnode/model"
	"logosnode/peerview"
	"logosnode/protocol"
	"logosnode/slots"
)

// loopbackBus is an in-memory messaging.Client shared between services in a
// test. Publishes are delivered synchronously to every subscriber,
// including the publisher itself, which exercises the self-filter.
type loopbackBus struct {
	mu        sync.Mutex
	subs      map[string][]messaging.Handler
	published map[string][][]byte
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{
		subs:      make(map[string][]messaging.Handler),
		published: make(map[string][][]byte),
	}
}

func (b *loopbackBus) Connect() error { return nil }

func (b *loopbackBus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	b.published[topic] = append(b.published[topic], payload)
	handlers := make([]messaging.Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.Unlock()
	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

func (b *loopbackBus) Subscribe(topic string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
	return nil
}

func (b *loopbackBus) IsConnected() bool { return true }
func (b *loopbackBus) Close() error     { return nil }

// Handler aliases messaging.Handler so Subscribe satisfies the interface.
type Handler = messaging.Handler

func (b *loopbackBus) messages(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[topic]))
	copy(out, b.published[topic])
	return out
}

func newService(t *testing.T, nodeID string, bus messaging.Client) (*Service, *peerview.View, *slots.Ledger) {
	t.Helper()
	ledger := slots.NewLedger(400, nil)
	pool := mirrors.NewPool(model.NewSimBackend(0), mirrors.Options{
		Limit:             3,
		HeartbeatInterval: time.Second,
		MissedHeartbeats:  3,
		DeadAfter:         10 * time.Second,
	}, nil, nil)
	view := peerview.NewView(nodeID, nil)
	svc := NewService(nodeID, "PUBLIC", config.SyncConfig{
		Interval:   5 * time.Second,
		StaleAfter: 30 * time.Second,
	}, "logos.sync", bus, ledger, pool, view)
	if err := bus.Subscribe("logos.sync", func(_ string, payload []byte) {
		svc.ingestor.HandleRaw(payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return svc, view, ledger
}

func TestTickPublishesDigest(t *testing.T) {
	bus := newLoopbackBus()
	svc, _, ledger := newService(t, "PUBLIC-001", bus)

	tk1, _ := ledger.Acquire("task-1")
	_, _ = ledger.Acquire("task-2")
	_ = tk1

	now := time.Now().UTC()
	svc.Tick(now)
	svc.Tick(now.Add(5 * time.Second))

	msgs := bus.messages("logos.sync")
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	var env protocol.Envelope
	if err := json.Unmarshal(msgs[1], &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != protocol.TypeNodeSync {
		t.Fatalf("type = %s, want %s", env.Type, protocol.TypeNodeSync)
	}
	if env.Src.Node != "PUBLIC-001" || env.Src.Role != protocol.RoleNode {
		t.Fatalf("src = %+v", env.Src)
	}
	var digest protocol.NodeSync
	if err := env.DecodePayload(&digest); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if digest.Clock != 2 {
		t.Fatalf("clock on second tick = %d, want 2", digest.Clock)
	}
	if digest.SlotsInUse != 2 || digest.SlotsTotal != 400 {
		t.Fatalf("slots = %d/%d, want 2/400", digest.SlotsInUse, digest.SlotsTotal)
	}
}

func TestTwoNodesExchangeDigests(t *testing.T) {
	bus := newLoopbackBus()
	svcA, viewA, _ := newService(t, "PUBLIC-001", bus)
	svcB, viewB, ledgerB := newService(t, "PUBLIC-002", bus)

	_, _ = ledgerB.Acquire("task-1")

	now := time.Now().UTC()
	svcA.Tick(now)
	svcB.Tick(now)

	if _, ok := viewA.Peer("PUBLIC-002"); !ok {
		t.Fatal("node A never saw node B")
	}
	if _, ok := viewB.Peer("PUBLIC-001"); !ok {
		t.Fatal("node B never saw node A")
	}
	if _, ok := viewA.Peer("PUBLIC-001"); ok {
		t.Fatal("node A ingested its own digest")
	}
	p, _ := viewA.Peer("PUBLIC-002")
	if p.SlotsInUse != 1 {
		t.Fatalf("A's view of B slots = %d, want 1", p.SlotsInUse)
	}
}

func TestStaleDigestDiscarded(t *testing.T) {
	bus := newLoopbackBus()
	_, view, _ := newService(t, "PUBLIC-001", bus)

	publish := func(clock uint64, slotsInUse int) {
		env, err := protocol.NewEnvelope(protocol.TypeNodeSync,
			protocol.Address{Role: protocol.RoleNode, Node: "PUBLIC-002", Tier: "PUBLIC"},
			protocol.Address{Role: protocol.RoleNode},
			protocol.NodeSync{NodeID: "PUBLIC-002", Tier: "PUBLIC", Clock: clock, SlotsInUse: slotsInUse, SlotsTotal: 400})
		if err != nil {
			t.Fatalf("build envelope: %v", err)
		}
		data, _ := env.Encode()
		if err := bus.Publish("logos.sync", data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	publish(5, 10)
	publish(3, 77) // late arrival from an earlier round

	p, ok := view.Peer("PUBLIC-002")
	if !ok {
		t.Fatal("peer missing")
	}
	if p.Clock != 5 || p.SlotsInUse != 10 {
		t.Fatalf("peer = clock %d slots %d, stale digest was applied", p.Clock, p.SlotsInUse)
	}
}

func TestGoodbyeRemovesPeer(t *testing.T) {
	bus := newLoopbackBus()
	svcA, viewA, _ := newService(t, "PUBLIC-001", bus)
	svcB, _, _ := newService(t, "PUBLIC-002", bus)

	now := time.Now().UTC()
	svcA.Tick(now)
	svcB.Tick(now)
	if _, ok := viewA.Peer("PUBLIC-002"); !ok {
		t.Fatal("node A never saw node B")
	}

	svcB.Stop()
	if _, ok := viewA.Peer("PUBLIC-002"); ok {
		t.Fatal("peer still present after goodbye")
	}
	_ = svcA
}

func TestQuietPeerGoesUnreachable(t *testing.T) {
	bus := newLoopbackBus()
	svcA, viewA, _ := newService(t, "PUBLIC-001", bus)
	svcB, _, _ := newService(t, "PUBLIC-002", bus)

	now := time.Now().UTC()
	svcB.Tick(now)
	svcA.Tick(now)

	// B goes quiet; A keeps ticking past the staleness window.
	svcA.Tick(now.Add(31 * time.Second))
	p, ok := viewA.Peer("PUBLIC-002")
	if !ok {
		t.Fatal("quiet peer dropped instead of marked")
	}
	if p.Status != protocol.PeerUnreachable {
		t.Fatalf("status = %s, want unreachable", p.Status)
	}

	// It comes back.
	svcB.Tick(now.Add(35 * time.Second))
	p, _ = viewA.Peer("PUBLIC-002")
	if p.Status != protocol.PeerReachable {
		t.Fatalf("status after return = %s, want reachable", p.Status)
	}
}
