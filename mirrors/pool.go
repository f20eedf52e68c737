package mirrors

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"logosnode/model"
	"logosnode/protocol"
)

// ErrNoMirrorAvailable is returned when no mirror can serve a request and
// the pool is at its replica limit.
var ErrNoMirrorAvailable = errors.New("no mirror available")

// entry pairs a mirror record with its readiness gate. readyCh is closed
// exactly once, on the first successful heartbeat after spawn.
type entry struct {
	mirror  Mirror
	readyCh chan struct{}

	// degradedAt is set when the mirror enters Degraded. byErrors marks a
	// degradation forced by the consecutive-error threshold rather than by
	// missed heartbeats; those never recover and are evicted after DeadAfter.
	degradedAt time.Time
	byErrors   bool
}

// Options configures pool sizing and health thresholds.
type Options struct {
	Limit             int
	HeartbeatInterval time.Duration
	MissedHeartbeats  int
	DeadAfter         time.Duration
	ErrorThreshold    int
}

// Pool manages the node's replica set against a model backend. Transitions
// are serialized under one mutex; backend calls (spawn, stop, heartbeat)
// happen outside it so a slow engine never stalls selection.
type Pool struct {
	backend  model.Backend
	opts     Options
	emitter  Emitter
	recorder Recorder
	lost     LostFunc

	mu      sync.Mutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(backend model.Backend, opts Options, emitter Emitter, recorder Recorder) *Pool {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.MissedHeartbeats <= 0 {
		opts.MissedHeartbeats = 3
	}
	return &Pool{
		backend: backend,
		opts:    opts,
		emitter: emitter,
		recorder: recorder,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
}

// SetLostHandler registers the callback for tasks carried by evicted
// mirrors. Must be called before Start.
func (p *Pool) SetLostHandler(fn LostFunc) {
	p.lost = fn
}

// Start launches the health sweep loop.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.sweepLoop()
}

// Stop halts the sweep and stops every replica on the backend.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.backend.Stop(id); err != nil {
			log.Printf("mirrors: stop %s: %v", id, err)
		}
		if p.recorder != nil {
			p.recorder.MirrorEvicted(id)
		}
	}
}

// Assign binds taskID to a mirror able to serve requestedModel. A Ready
// mirror already hosting the model is preferred, then an idle Starting one;
// otherwise a new replica is spawned when the pool is below its limit. The
// returned mirror may still be Starting; callers must AwaitReady before
// dispatching work to it.
func (p *Pool) Assign(requestedModel, taskID string) (Mirror, error) {
	p.mu.Lock()
	for _, e := range p.entries {
		if e.mirror.Status == StatusReady && e.mirror.Model == requestedModel {
			old := e.mirror.Status
			e.mirror.Status = StatusBusy
			e.mirror.CurrentTaskID = taskID
			m := e.mirror
			p.mu.Unlock()
			p.noteTransition(m, old)
			if p.recorder != nil {
				p.recorder.MirrorUpserted(m)
			}
			return m, nil
		}
	}
	// A prewarmed replica that has not heartbeated yet still takes the
	// task; the caller waits on AwaitReady before dispatching to it.
	for _, e := range p.entries {
		if e.mirror.Status == StatusStarting && e.mirror.CurrentTaskID == "" && e.mirror.Model == requestedModel {
			e.mirror.CurrentTaskID = taskID
			m := e.mirror
			p.mu.Unlock()
			if p.recorder != nil {
				p.recorder.MirrorUpserted(m)
			}
			return m, nil
		}
	}
	if len(p.entries) >= p.opts.Limit {
		p.mu.Unlock()
		return Mirror{}, ErrNoMirrorAvailable
	}

	id := "mirror-" + uuid.New().String()[:8]
	e := &entry{
		mirror: Mirror{
			ID:            id,
			Model:         requestedModel,
			Status:        StatusStarting,
			CurrentTaskID: taskID,
			SpawnedAt:     time.Now().UTC(),
		},
		readyCh: make(chan struct{}),
	}
	p.entries[id] = e
	m := e.mirror
	p.mu.Unlock()

	if err := p.backend.Spawn(id, requestedModel); err != nil {
		p.mu.Lock()
		delete(p.entries, id)
		p.mu.Unlock()
		return Mirror{}, fmt.Errorf("spawn mirror: %w", err)
	}
	log.Printf("mirrors: spawned %s model=%s for task %s", id, requestedModel, taskID)
	if p.emitter != nil {
		p.emitter.EmitMirrorSpawned(id, requestedModel)
	}
	if p.recorder != nil {
		p.recorder.MirrorUpserted(m)
	}
	return m, nil
}

// Prewarm spawns an idle replica for modelName without binding a task.
// Used at startup to bring the pool up to its configured floor.
func (p *Pool) Prewarm(modelName string) (string, error) {
	p.mu.Lock()
	if len(p.entries) >= p.opts.Limit {
		p.mu.Unlock()
		return "", ErrNoMirrorAvailable
	}
	id := "mirror-" + uuid.New().String()[:8]
	e := &entry{
		mirror: Mirror{
			ID:        id,
			Model:     modelName,
			Status:    StatusStarting,
			SpawnedAt: time.Now().UTC(),
		},
		readyCh: make(chan struct{}),
	}
	p.entries[id] = e
	m := e.mirror
	p.mu.Unlock()

	if err := p.backend.Spawn(id, modelName); err != nil {
		p.mu.Lock()
		delete(p.entries, id)
		p.mu.Unlock()
		return "", fmt.Errorf("spawn mirror: %w", err)
	}
	if p.emitter != nil {
		p.emitter.EmitMirrorSpawned(id, modelName)
	}
	if p.recorder != nil {
		p.recorder.MirrorUpserted(m)
	}
	return id, nil
}

// AwaitReady blocks until the mirror's first successful heartbeat, the
// timeout elapses, or the mirror is evicted.
func (p *Pool) AwaitReady(mirrorID string, timeout time.Duration) error {
	p.mu.Lock()
	e, ok := p.entries[mirrorID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("mirror %s evicted before ready", mirrorID)
	}
	ch := e.readyCh
	p.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(timeout):
		return fmt.Errorf("mirror %s not ready after %s", mirrorID, timeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[mirrorID]; !ok {
		return fmt.Errorf("mirror %s evicted before ready", mirrorID)
	}
	return nil
}

// Release returns a mirror to service after its task finishes. On success
// the error streak resets; on error the streak grows and crossing the
// threshold degrades the mirror, pulling it out of selection.
func (p *Pool) Release(mirrorID string, taskErrored bool) {
	p.mu.Lock()
	e, ok := p.entries[mirrorID]
	if !ok {
		p.mu.Unlock()
		return
	}
	old := e.mirror.Status
	e.mirror.CurrentTaskID = ""
	if taskErrored {
		e.mirror.ConsecutiveErrors++
	} else {
		e.mirror.ConsecutiveErrors = 0
	}
	if p.opts.ErrorThreshold > 0 && e.mirror.ConsecutiveErrors >= p.opts.ErrorThreshold {
		e.mirror.Status = StatusDegraded
		e.degradedAt = time.Now().UTC()
		e.byErrors = true
	} else if e.mirror.Status == StatusBusy {
		e.mirror.Status = StatusReady
	} else if e.mirror.Status == StatusStarting {
		// Ready requires a heartbeat. A replica whose task went away before
		// the engine ever answered stays Starting until the sweep hears it.
		select {
		case <-e.readyCh:
			e.mirror.Status = StatusReady
		default:
		}
	}
	m := e.mirror
	p.mu.Unlock()

	if m.Status != old {
		p.noteTransition(m, old)
	}
	if p.recorder != nil {
		p.recorder.MirrorUpserted(m)
	}
}

// Evict removes a mirror by operator request, stopping its replica. A held
// task is surfaced through the lost handler like any other dead mirror.
func (p *Pool) Evict(mirrorID string) error {
	p.mu.Lock()
	e, ok := p.entries[mirrorID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown mirror %s", mirrorID)
	}
	taskID := e.mirror.CurrentTaskID
	delete(p.entries, mirrorID)
	p.mu.Unlock()

	p.finishEviction(mirrorID, taskID, "evicted by operator")
	return nil
}

// Get returns a copy of the mirror record.
func (p *Pool) Get(mirrorID string) (Mirror, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[mirrorID]
	if !ok {
		return Mirror{}, false
	}
	return e.mirror, true
}

// List returns copies of all live mirror records.
func (p *Pool) List() []Mirror {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Mirror, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.mirror)
	}
	return out
}

// Statuses renders the pool for state-sync digests and status replies.
func (p *Pool) Statuses() []protocol.MirrorStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.MirrorStatus, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, protocol.MirrorStatus{
			ID:     e.mirror.ID,
			Model:  e.mirror.Model,
			Status: e.mirror.Status,
		})
	}
	return out
}

// Size reports the number of live mirrors.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Limit reports the configured replica ceiling.
func (p *Pool) Limit() int {
	return p.opts.Limit
}

func (p *Pool) noteTransition(m Mirror, old string) {
	log.Printf("mirrors: %s %s -> %s", m.ID, old, m.Status)
	if p.emitter != nil {
		p.emitter.EmitMirrorStatusChanged(m.ID, old, m.Status)
	}
}

func (p *Pool) finishEviction(mirrorID, taskID, detail string) {
	if err := p.backend.Stop(mirrorID); err != nil {
		log.Printf("mirrors: stop %s: %v", mirrorID, err)
	}
	log.Printf("mirrors: evicted %s (%s)", mirrorID, detail)
	if p.recorder != nil {
		p.recorder.MirrorEvicted(mirrorID)
	}
	if p.emitter != nil {
		p.emitter.EmitMirrorEvicted(mirrorID, detail)
	}
	if taskID != "" && p.lost != nil {
		p.lost(mirrorID, taskID)
	}
}
