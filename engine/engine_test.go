package engine

import (
	"path/filepath"
	"testing"
	"time"

	"logosnode/config"
	"logosnode/messaging"
	"logosnode/model"
	"logosnode/store"
)

// silentBus satisfies messaging.Client without a broker.
type silentBus struct{}

func (silentBus) Connect() error                           { return nil }
func (silentBus) Publish(string, []byte) error             { return nil }
func (silentBus) Subscribe(string, messaging.Handler) error { return nil }
func (silentBus) IsConnected() bool                        { return true }
func (silentBus) Close() error                             { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Defaults()
	cfg.Node.ID = "PUBLIC-001"
	cfg.Tier.SlotLimit = 4
	cfg.Tier.MirrorLimit = 1
	cfg.Engine.HeartbeatInterval = 10 * time.Millisecond
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "engine.db")

	db, err := store.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng := New(Config{
		AppConfig: cfg,
		DB:        db,
		Backend:   model.NewSimBackend(0),
		MsgClient: silentBus{},
		LogFunc:   func(string, ...any) {},
	})
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(eng.Stop)
	return eng
}

func TestReclaimExpiredTickets(t *testing.T) {
	eng := newTestEngine(t)

	if _, err := eng.Ledger().Acquire("task-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := eng.Ledger().Acquire("task-2"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A cutoff in the past touches nothing.
	if n := eng.reclaimExpiredTickets(time.Now().UTC().Add(-time.Hour)); n != 0 {
		t.Fatalf("reclaimed %d tickets with past cutoff, want 0", n)
	}
	if eng.Ledger().InUse() != 2 {
		t.Fatalf("slots in use = %d, want 2", eng.Ledger().InUse())
	}

	if n := eng.reclaimExpiredTickets(time.Now().UTC().Add(time.Hour)); n != 2 {
		t.Fatalf("reclaimed %d tickets, want 2", n)
	}
	if eng.Ledger().InUse() != 0 {
		t.Fatalf("slots in use after reclaim = %d, want 0", eng.Ledger().InUse())
	}
}

func TestDrainResumeEmitBusEvents(t *testing.T) {
	eng := newTestEngine(t)

	var seen []EventType
	eng.Events.SubscribeTypes(func(evt Event) { seen = append(seen, evt.Type) },
		EventNodeDraining, EventNodeResumed)

	eng.Drain()
	if !eng.Dispatcher().Draining() {
		t.Fatal("dispatcher not draining")
	}
	eng.Resume()
	if eng.Dispatcher().Draining() {
		t.Fatal("dispatcher still draining")
	}

	if len(seen) != 2 || seen[0] != EventNodeDraining || seen[1] != EventNodeResumed {
		t.Fatalf("bus events = %v, want [node.draining node.resumed]", seen)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)

	eng.Stop()
	eng.Stop() // second call must not panic or block
}
