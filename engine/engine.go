package engine

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"logosnode/config"
	"logosnode/dispatch"
	"logosnode/messaging"
	"logosnode/mirrors"
	"logosnode/model"
	"logosnode/peerview"
	"logosnode/protocol"
	"logosnode/slots"
	"logosnode/statesync"
	"logosnode/store"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Backend    model.Backend
	MsgClient  messaging.Client
	Cache      *peerview.Cache
	LogFunc    LogFunc
	Debug      bool
}

// Engine owns the node's moving parts and the event bus that ties them
// together. Construction wires nothing; Start does.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	backend    model.Backend
	msgClient  messaging.Client
	cache      *peerview.Cache

	ledger     *slots.Ledger
	pool       *mirrors.Pool
	dispatcher *dispatch.Dispatcher
	view       *peerview.View
	sync       *statesync.Service

	Events *EventBus
	logFn  LogFunc

	connections      atomic.Int64
	stopChan         chan struct{}
	stopOnce         sync.Once
	engineConnected  bool
	msgConnected     bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		backend:    c.Backend,
		msgClient:  c.MsgClient,
		cache:      c.Cache,
		Events:     NewEventBus(),
		logFn:      logFn,
		stopChan:   make(chan struct{}),
	}
}

func (e *Engine) Start() error {
	e.reconcile()

	// Build the core components with their persistence and bus adapters.
	e.ledger = slots.NewLedger(e.cfg.Tier.SlotLimit, &ticketJournal{db: e.db})
	e.pool = mirrors.NewPool(e.backend, mirrors.Options{
		Limit:             e.cfg.Tier.MirrorLimit,
		HeartbeatInterval: e.cfg.Engine.HeartbeatInterval,
		MissedHeartbeats:  e.cfg.Engine.MissedHeartbeats,
		DeadAfter:         e.cfg.Engine.DeadAfter,
		ErrorThreshold:    e.cfg.Engine.ErrorThreshold,
	}, &mirrorEmitter{bus: e.Events}, &mirrorRecorder{db: e.db})

	e.dispatcher = dispatch.NewDispatcher(
		e.cfg.Node.ID,
		e.cfg.Tier,
		e.ledger,
		e.pool,
		e.backend,
		&dispatchEmitter{bus: e.Events},
		&taskRecorder{db: e.db},
		dispatch.NewMessageLog(200),
	)

	e.view = peerview.NewView(e.cfg.Node.ID, &peerSink{
		bus:      e.Events,
		db:       e.db,
		cache:    e.cache,
		cacheTTL: 3 * e.cfg.Sync.StaleAfter,
	})
	e.seedPeers()

	e.sync = statesync.NewService(
		e.cfg.Node.ID,
		e.cfg.Tier.Name,
		e.cfg.Sync,
		e.cfg.Messaging.SyncTopic,
		e.msgClient,
		e.ledger,
		e.pool,
		e.view,
	)

	e.wireEventHandlers()
	e.pool.Start()
	e.prewarmMirrors()
	if err := e.sync.Start(); err != nil {
		return err
	}

	e.checkConnectionStatus()
	go e.housekeepingLoop()

	e.logFn("engine: started as %s (tier %s, %d slots, %d mirrors)",
		e.cfg.Node.ID, e.cfg.Tier.Name, e.cfg.Tier.SlotLimit, e.cfg.Tier.MirrorLimit)
	return nil
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	if e.sync != nil {
		e.sync.Stop()
	}
	if e.pool != nil {
		e.pool.Stop()
	}
	e.logFn("engine: stopped")
}

// reconcile clears state left behind by a crash. The in-memory registries
// start empty, so open tickets, live tasks and mirror rows from a previous
// run describe nothing that exists anymore.
func (e *Engine) reconcile() {
	if n, err := e.db.ReleaseAllOpenTickets(); err != nil {
		e.logFn("engine: release stale tickets: %v", err)
	} else if n > 0 {
		e.logFn("engine: released %d stale tickets from previous run", n)
	}
	if n, err := e.db.FailOrphanedTasks(protocol.ErrCodeMirrorLost, "node restarted"); err != nil {
		e.logFn("engine: fail orphaned tasks: %v", err)
	} else if n > 0 {
		e.logFn("engine: failed %d orphaned tasks from previous run", n)
	}
	if n, err := e.db.EvictAllMirrors(); err != nil {
		e.logFn("engine: evict stale mirrors: %v", err)
	} else if n > 0 {
		e.logFn("engine: evicted %d stale mirror rows from previous run", n)
	}
}

// seedPeers warms the peer table from redis first, the sql store second.
// Seeded peers stay unreachable until live digests arrive.
func (e *Engine) seedPeers() {
	var seeded []peerview.PeerState
	if e.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if cached, err := e.cache.LoadPeers(ctx); err != nil {
			e.logFn("engine: load cached peers: %v", err)
		} else {
			seeded = cached
		}
		cancel()
	}
	if len(seeded) == 0 {
		records, err := e.db.ListPeerSnapshots()
		if err != nil {
			e.logFn("engine: load persisted peers: %v", err)
			return
		}
		for _, r := range records {
			var s protocol.NodeSync
			if err := json.Unmarshal(r.Snapshot, &s); err != nil {
				continue
			}
			seeded = append(seeded, peerview.PeerState{NodeSync: s, ReceivedAt: r.ReceivedAt})
		}
	}
	if len(seeded) > 0 {
		e.view.Seed(seeded)
		e.logFn("engine: seeded %d known peers", len(seeded))
	}
}

// prewarmMirrors brings the pool up to its configured size for the first
// allowed model, so early requests do not pay the spawn latency.
func (e *Engine) prewarmMirrors() {
	if len(e.cfg.Tier.AllowedModels) == 0 {
		return
	}
	modelName := e.cfg.Tier.AllowedModels[0]
	for i := 0; i < e.cfg.Tier.MirrorLimit; i++ {
		if _, err := e.pool.Prewarm(modelName); err != nil {
			e.logFn("engine: prewarm mirror %d: %v", i, err)
			break
		}
	}
}

// Drain pauses admission and announces the change on the bus.
func (e *Engine) Drain() {
	e.dispatcher.Drain()
	e.Events.Emit(Event{Type: EventNodeDraining})
}

// Resume reopens admission.
func (e *Engine) Resume() {
	e.dispatcher.Resume()
	e.Events.Emit(Event{Type: EventNodeResumed})
}

// ClientConnected counts a gateway connection in and announces it.
func (e *Engine) ClientConnected(remoteAddr string) {
	n := e.connections.Add(1)
	e.Events.Emit(Event{Type: EventClientConnected, Payload: ClientConnectionEvent{
		RemoteAddr:  remoteAddr,
		Connections: int(n),
	}})
}

// ClientDisconnected counts a gateway connection out.
func (e *Engine) ClientDisconnected(remoteAddr string) {
	n := e.connections.Add(-1)
	e.Events.Emit(Event{Type: EventClientDisconnected, Payload: ClientConnectionEvent{
		RemoteAddr:  remoteAddr,
		Connections: int(n),
	}})
}

// Connections reports the live gateway connection count.
func (e *Engine) Connections() int {
	return int(e.connections.Load())
}

// Status assembles the node digest served to status queries.
func (e *Engine) Status() protocol.GatewayStatus {
	peers := e.view.Peers()
	digests := make([]protocol.PeerDigest, 0, len(peers))
	for _, p := range peers {
		digests = append(digests, protocol.PeerDigest{
			NodeID:     p.NodeID,
			Tier:       p.Tier,
			Status:     p.Status,
			SlotsInUse: p.SlotsInUse,
			SlotsTotal: p.SlotsTotal,
		})
	}
	return protocol.GatewayStatus{
		NodeID:      e.cfg.Node.ID,
		Tier:        e.cfg.Tier.Name,
		SlotsInUse:  e.ledger.InUse(),
		SlotsTotal:  e.ledger.Limit(),
		Mirrors:     e.pool.Statuses(),
		Connections: e.Connections(),
		Models:      e.cfg.Tier.AllowedModels,
		Peers:       digests,
	}
}

// Accessors
func (e *Engine) DB() *store.DB                   { return e.db }
func (e *Engine) AppConfig() *config.Config       { return e.cfg }
func (e *Engine) ConfigPath() string              { return e.configPath }
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }
func (e *Engine) Ledger() *slots.Ledger           { return e.ledger }
func (e *Engine) Pool() *mirrors.Pool             { return e.pool }
func (e *Engine) PeerView() *peerview.View        { return e.view }
func (e *Engine) Sync() *statesync.Service        { return e.sync }
func (e *Engine) Backend() model.Backend          { return e.backend }
func (e *Engine) MsgClient() messaging.Client     { return e.msgClient }

func (e *Engine) checkConnectionStatus() {
	// Model engine
	if err := e.backend.Ping(); err == nil {
		if !e.engineConnected {
			e.engineConnected = true
			e.Events.Emit(Event{Type: EventEngineConnected, Payload: ConnectionEvent{Detail: e.backend.Name() + " connected"}})
		}
	} else {
		if e.engineConnected {
			e.engineConnected = false
			e.Events.Emit(Event{Type: EventEngineDisconnected, Payload: ConnectionEvent{Detail: err.Error()}})
		}
	}

	// Messaging
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
}

func (e *Engine) housekeepingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
			e.cacheSelfDigest()
			if n := e.dispatcher.PruneFinished(time.Hour); n > 0 {
				e.logFn("engine: pruned %d finished task records", n)
			}
			cutoff := time.Now().UTC().Add(-2 * e.cfg.Tier.TaskTimeout)
			if n := e.reclaimExpiredTickets(cutoff); n > 0 {
				e.logFn("engine: reclaimed %d expired slot tickets", n)
			}
		}
	}
}

// reclaimExpiredTickets is a leak backstop. Every finish path releases its
// ticket within the task timeout, so a ticket older than twice that belongs
// to no live task.
func (e *Engine) reclaimExpiredTickets(cutoff time.Time) int {
	n := 0
	for _, t := range e.ledger.ExpiredBefore(cutoff) {
		e.logFn("engine: ticket %s (task %s) outlived its task, releasing", t.ID, t.OwnerTaskID)
		e.ledger.Release(t.ID)
		n++
	}
	return n
}

// cacheSelfDigest mirrors our own state into redis without advancing the
// sync clock; the gossip loop owns the clock.
func (e *Engine) cacheSelfDigest() {
	if e.cache == nil {
		return
	}
	digest := protocol.NodeSync{
		NodeID:         e.cfg.Node.ID,
		Tier:           e.cfg.Tier.Name,
		Clock:          e.sync.Clock(),
		Timestamp:      time.Now().UTC(),
		SlotsInUse:     e.ledger.InUse(),
		SlotsTotal:     e.ledger.Limit(),
		MirrorStatuses: e.pool.Statuses(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.cache.StoreSelf(ctx, digest, 3*e.cfg.Sync.StaleAfter); err != nil {
		e.logFn("engine: cache self digest: %v", err)
	}
}
