package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"logosnode/config"
	"logosnode/mirrors"
	"logosnode/model"
	"logosnode/slots"
)

// taskRecord is the dispatcher's private state for one task. The result
// slot is single-assignment: finish() runs its body at most once, so the
// races between engine completion, timeout, cancellation and mirror loss
// collapse to whoever gets there first.
type taskRecord struct {
	task   Task
	cancel context.CancelFunc

	once   sync.Once
	done   chan struct{}
	result Result
}

// Handle lets a caller wait for a task's terminal result.
type Handle struct {
	rec *taskRecord
}

func (h *Handle) TaskID() string { return h.rec.task.ID }

// Done is closed once the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.rec.done }

// Result is valid only after Done is closed.
func (h *Handle) Result() Result { return h.rec.result }

// Wait blocks for the result or the caller's context.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.rec.done:
		return h.rec.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Dispatcher runs the admission pipeline: policy check, slot acquisition,
// mirror assignment, engine dispatch and result aggregation. Every submitted
// task resolves to exactly one Result; slots and mirrors held by a task are
// released on that resolution and never elsewhere.
type Dispatcher struct {
	node    string
	tier    config.TierConfig
	ledger  *slots.Ledger
	pool    *mirrors.Pool
	backend model.Backend

	emitter  Emitter
	recorder Recorder
	msglog   *MessageLog

	draining atomic.Bool

	mu    sync.Mutex
	tasks map[string]*taskRecord
}

func NewDispatcher(node string, tier config.TierConfig, ledger *slots.Ledger, pool *mirrors.Pool, backend model.Backend, emitter Emitter, recorder Recorder, msglog *MessageLog) *Dispatcher {
	if emitter == nil {
		emitter = NoOpEmitter{}
	}
	if msglog == nil {
		msglog = NewMessageLog(200)
	}
	d := &Dispatcher{
		node:    node,
		tier:    tier,
		ledger:  ledger,
		pool:    pool,
		backend: backend,
		emitter: emitter,
		recorder: recorder,
		msglog:  msglog,
		tasks:   make(map[string]*taskRecord),
	}
	pool.SetLostHandler(d.onMirrorLost)
	return d
}

// Submit runs a request through admission and, when admitted, dispatches it
// to a mirror asynchronously. Rejections resolve the handle immediately; the
// caller only ever waits on the handle, never on Submit itself.
func (d *Dispatcher) Submit(modelName, prompt string, contextSize int, reqTier string) *Handle {
	// Clients may omit the context size; the prompt length stands in as
	// the budget. Only explicit values are policed against the tier limit.
	if contextSize == 0 {
		contextSize = len(prompt)
		if contextSize == 0 {
			contextSize = 1
		}
	}
	rec := &taskRecord{
		task: Task{
			ID:          uuid.New().String(),
			Model:       modelName,
			Prompt:      prompt,
			ContextSize: contextSize,
			Tier:        d.tier.Name,
			State:       StateQueued,
			SubmittedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	d.mu.Lock()
	d.tasks[rec.task.ID] = rec
	d.mu.Unlock()

	if d.recorder != nil {
		d.recorder.TaskCreated(rec.task)
	}
	d.emitter.EmitTaskSubmitted(rec.task.ID, modelName)
	d.msglog.Append("task.submitted", rec.task.ID, fmt.Sprintf("model=%s context=%d", modelName, contextSize))

	if d.draining.Load() {
		d.finish(rec, Result{TaskID: rec.task.ID, State: StateRejected, ErrCode: ErrCodeCapacityExceeded, Detail: "node is draining"})
		return &Handle{rec: rec}
	}

	if detail, ok := d.checkPolicy(modelName, contextSize, reqTier); !ok {
		d.finish(rec, Result{TaskID: rec.task.ID, State: StateRejected, ErrCode: ErrCodePolicyViolation, Detail: detail})
		return &Handle{rec: rec}
	}

	ticket, err := d.ledger.Acquire(rec.task.ID)
	if err != nil {
		d.finish(rec, Result{TaskID: rec.task.ID, State: StateRejected, ErrCode: ErrCodeCapacityExceeded, Detail: "all slots in use"})
		return &Handle{rec: rec}
	}
	d.setAssignment(rec, ticket.ID, "")
	d.setState(rec, StateAdmitted)

	m, err := d.pool.Assign(modelName, rec.task.ID)
	if err != nil {
		d.ledger.Release(ticket.ID)
		d.clearTicket(rec)
		detail := "mirror pool exhausted"
		if !errors.Is(err, mirrors.ErrNoMirrorAvailable) {
			detail = err.Error()
		}
		d.finish(rec, Result{TaskID: rec.task.ID, State: StateRejected, ErrCode: ErrCodeNoMirrorAvailable, Detail: detail})
		return &Handle{rec: rec}
	}
	d.setAssignment(rec, ticket.ID, m.ID)
	if d.recorder != nil {
		d.recorder.TaskAssigned(rec.task.ID, ticket.ID, m.ID)
	}
	d.setState(rec, StateDispatched)

	timeout := d.tier.TaskTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	d.mu.Lock()
	rec.cancel = cancel
	d.mu.Unlock()

	go d.run(ctx, rec, m)
	return &Handle{rec: rec}
}

func (d *Dispatcher) checkPolicy(modelName string, contextSize int, reqTier string) (string, bool) {
	if reqTier != "" && reqTier != d.tier.Name {
		return fmt.Sprintf("tier %s not served by this node", reqTier), false
	}
	if !d.tier.AllowsModel(modelName) {
		return fmt.Sprintf("model %s not allowed on tier %s", modelName, d.tier.Name), false
	}
	if contextSize < 0 {
		return "context size must not be negative", false
	}
	if contextSize > d.tier.ContextLimit {
		return fmt.Sprintf("context %d exceeds tier limit %d", contextSize, d.tier.ContextLimit), false
	}
	return "", true
}

func (d *Dispatcher) run(ctx context.Context, rec *taskRecord, m mirrors.Mirror) {
	if m.Status == mirrors.StatusStarting {
		if err := d.pool.AwaitReady(m.ID, d.tier.TaskTimeout); err != nil {
			d.finish(rec, Result{TaskID: rec.task.ID, State: StateFailed, ErrCode: ErrCodeNoMirrorAvailable, Detail: err.Error()})
			return
		}
	}

	output, err := d.backend.Infer(ctx, m.ID, rec.task.Prompt, rec.task.ContextSize)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			d.finish(rec, Result{TaskID: rec.task.ID, State: StateFailed, ErrCode: ErrCodeTimeout, Detail: fmt.Sprintf("no result within %s", d.tier.TaskTimeout)})
		case errors.Is(err, context.Canceled):
			d.finish(rec, Result{TaskID: rec.task.ID, State: StateFailed, ErrCode: ErrCodeCancelled, Detail: "cancelled"})
		default:
			d.finish(rec, Result{TaskID: rec.task.ID, State: StateFailed, ErrCode: ErrCodeEngineError, Detail: err.Error()})
		}
		return
	}
	d.finish(rec, Result{TaskID: rec.task.ID, State: StateCompleted, Output: output})
}

// Cancel resolves a pending task as cancelled. Finished tasks cannot be
// cancelled; the first resolution always wins.
func (d *Dispatcher) Cancel(taskID string) error {
	d.mu.Lock()
	rec, ok := d.tasks[taskID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	select {
	case <-rec.done:
		return fmt.Errorf("task %s already finished (%s)", taskID, rec.result.State)
	default:
	}
	d.finish(rec, Result{TaskID: taskID, State: StateFailed, ErrCode: ErrCodeCancelled, Detail: "cancelled by client"})
	return nil
}

// onMirrorLost fails the task carried by an evicted mirror. The slot is
// reclaimed through the normal finish path so it can never leak.
func (d *Dispatcher) onMirrorLost(mirrorID, taskID string) {
	d.mu.Lock()
	rec, ok := d.tasks[taskID]
	d.mu.Unlock()
	if !ok {
		log.Printf("dispatch: lost mirror %s carried unknown task %s", mirrorID, taskID)
		return
	}
	d.finish(rec, Result{TaskID: taskID, State: StateFailed, ErrCode: ErrCodeMirrorLost, Detail: fmt.Sprintf("mirror %s lost", mirrorID)})
}

// finish resolves the task's result slot. The body runs at most once per
// task; later callers find the slot taken and return without effect.
func (d *Dispatcher) finish(rec *taskRecord, r Result) {
	rec.once.Do(func() {
		d.mu.Lock()
		rec.task.State = r.State
		rec.task.FinishedAt = time.Now().UTC()
		if rec.cancel != nil {
			rec.cancel()
		}
		ticketID := rec.task.TicketID
		mirrorID := rec.task.MirrorID
		d.mu.Unlock()

		rec.result = r
		close(rec.done)

		if mirrorID != "" {
			erred := r.State == StateFailed && r.ErrCode != ErrCodeCancelled
			d.pool.Release(mirrorID, erred)
		}
		if ticketID != "" {
			d.ledger.Release(ticketID)
		}
		if d.recorder != nil {
			d.recorder.TaskFinished(r)
		}
		d.emitter.EmitTaskFinished(r)
		if r.ErrCode != "" {
			d.msglog.Append("task."+r.State, r.TaskID, r.ErrCode+": "+r.Detail)
			log.Printf("dispatch: task %s %s (%s: %s)", r.TaskID, r.State, r.ErrCode, r.Detail)
		} else {
			d.msglog.Append("task."+r.State, r.TaskID, "ok")
			log.Printf("dispatch: task %s %s", r.TaskID, r.State)
		}
	})
}

func (d *Dispatcher) setState(rec *taskRecord, state string) {
	d.mu.Lock()
	old := rec.task.State
	rec.task.State = state
	d.mu.Unlock()
	if d.recorder != nil {
		d.recorder.TaskStateChanged(rec.task.ID, state)
	}
	d.emitter.EmitTaskStateChanged(rec.task.ID, old, state)
}

func (d *Dispatcher) setAssignment(rec *taskRecord, ticketID, mirrorID string) {
	d.mu.Lock()
	rec.task.TicketID = ticketID
	if mirrorID != "" {
		rec.task.MirrorID = mirrorID
	}
	d.mu.Unlock()
}

func (d *Dispatcher) clearTicket(rec *taskRecord) {
	d.mu.Lock()
	rec.task.TicketID = ""
	d.mu.Unlock()
}

// Task returns a copy of the task record.
func (d *Dispatcher) Task(taskID string) (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return rec.task, true
}

// ActiveTasks returns copies of tasks that have not reached a terminal
// state yet.
func (d *Dispatcher) ActiveTasks() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Task, 0)
	for _, rec := range d.tasks {
		select {
		case <-rec.done:
		default:
			out = append(out, rec.task)
		}
	}
	return out
}

// PruneFinished drops terminal task records older than the retention
// window. The store keeps the durable history; this only caps the in-memory
// map. Returns the number of records dropped.
func (d *Dispatcher) PruneFinished(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for id, rec := range d.tasks {
		select {
		case <-rec.done:
			if rec.task.FinishedAt.Before(cutoff) {
				delete(d.tasks, id)
				n++
			}
		default:
		}
	}
	return n
}

// Drain stops admitting new tasks; running tasks finish normally.
func (d *Dispatcher) Drain() {
	d.draining.Store(true)
	d.msglog.Append("node.drain", "", "admission paused")
	log.Printf("dispatch: draining, new tasks rejected")
}

// Resume re-opens admission after a drain.
func (d *Dispatcher) Resume() {
	d.draining.Store(false)
	d.msglog.Append("node.resume", "", "admission resumed")
	log.Printf("dispatch: admission resumed")
}

func (d *Dispatcher) Draining() bool { return d.draining.Load() }

// MessageLog exposes the activity log for the web layer.
func (d *Dispatcher) MessageLog() *MessageLog { return d.msglog }
