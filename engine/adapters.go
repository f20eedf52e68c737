package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"logosnode/dispatch"
	"logosnode/mirrors"
	"logosnode/peerview"
	"logosnode/protocol"
	"logosnode/slots"
	"logosnode/store"
)

// dispatchEmitter bridges the dispatch package's emitter interface to the EventBus.
type dispatchEmitter struct {
	bus *EventBus
}

func (e *dispatchEmitter) EmitTaskSubmitted(taskID, modelName string) {
	e.bus.Emit(Event{Type: EventTaskSubmitted, Payload: TaskSubmittedEvent{
		TaskID: taskID,
		Model:  modelName,
	}})
}

func (e *dispatchEmitter) EmitTaskStateChanged(taskID, oldState, newState string) {
	e.bus.Emit(Event{Type: EventTaskStateChanged, Payload: TaskStateChangedEvent{
		TaskID:   taskID,
		OldState: oldState,
		NewState: newState,
	}})
}

func (e *dispatchEmitter) EmitTaskFinished(r dispatch.Result) {
	e.bus.Emit(Event{Type: EventTaskFinished, Payload: TaskFinishedEvent{
		TaskID:    r.TaskID,
		State:     r.State,
		ErrorCode: r.ErrCode,
		Detail:    r.Detail,
	}})
}

// mirrorEmitter bridges the mirror pool's emitter interface to the EventBus.
type mirrorEmitter struct {
	bus *EventBus
}

func (e *mirrorEmitter) EmitMirrorSpawned(mirrorID, modelName string) {
	e.bus.Emit(Event{Type: EventMirrorSpawned, Payload: MirrorSpawnedEvent{
		MirrorID: mirrorID,
		Model:    modelName,
	}})
}

func (e *mirrorEmitter) EmitMirrorStatusChanged(mirrorID, oldStatus, newStatus string) {
	e.bus.Emit(Event{Type: EventMirrorStatusChanged, Payload: MirrorStatusChangedEvent{
		MirrorID:  mirrorID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}})
}

func (e *mirrorEmitter) EmitMirrorEvicted(mirrorID, detail string) {
	e.bus.Emit(Event{Type: EventMirrorEvicted, Payload: MirrorEvictedEvent{
		MirrorID: mirrorID,
		Detail:   detail,
	}})
}

// taskRecorder persists dispatcher lifecycle changes. Store failures are
// logged and swallowed; the in-memory registry stays authoritative.
type taskRecorder struct {
	db *store.DB
}

func (r *taskRecorder) TaskCreated(t dispatch.Task) {
	err := r.db.CreateTask(&store.Task{
		TaskUUID:    t.ID,
		Model:       t.Model,
		Prompt:      t.Prompt,
		ContextSize: t.ContextSize,
		Tier:        t.Tier,
		State:       t.State,
	})
	if err != nil {
		log.Printf("engine: persist task %s: %v", t.ID, err)
	}
}

func (r *taskRecorder) TaskAssigned(taskID, ticketID, mirrorID string) {
	if err := r.db.UpdateTaskAssignment(taskID, ticketID, mirrorID); err != nil {
		log.Printf("engine: persist assignment for %s: %v", taskID, err)
	}
}

func (r *taskRecorder) TaskStateChanged(taskID, state string) {
	if err := r.db.UpdateTaskState(taskID, state); err != nil {
		log.Printf("engine: persist state for %s: %v", taskID, err)
	}
}

func (r *taskRecorder) TaskFinished(res dispatch.Result) {
	if err := r.db.CompleteTask(res.TaskID, res.State, res.Output, res.ErrCode, res.Detail); err != nil {
		log.Printf("engine: persist result for %s: %v", res.TaskID, err)
	}
}

var _ dispatch.Recorder = (*taskRecorder)(nil)

// ticketJournal persists slot ticket movements for post-crash reconciliation.
type ticketJournal struct {
	db *store.DB
}

func (j *ticketJournal) TicketIssued(t slots.Ticket) {
	if err := j.db.JournalTicketIssued(t.ID, t.OwnerTaskID); err != nil {
		log.Printf("engine: journal ticket %s: %v", t.ID, err)
	}
}

func (j *ticketJournal) TicketReleased(ticketID string) {
	if err := j.db.JournalTicketReleased(ticketID); err != nil {
		log.Printf("engine: journal release %s: %v", ticketID, err)
	}
}

var _ slots.Journal = (*ticketJournal)(nil)

// mirrorRecorder persists mirror registry state.
type mirrorRecorder struct {
	db *store.DB
}

func (r *mirrorRecorder) MirrorUpserted(m mirrors.Mirror) {
	rec := &store.MirrorRecord{
		MirrorID:          m.ID,
		Model:             m.Model,
		Status:            m.Status,
		CurrentTask:       m.CurrentTaskID,
		ConsecutiveErrors: m.ConsecutiveErrors,
	}
	if !m.LastHeartbeatAt.IsZero() {
		hb := m.LastHeartbeatAt
		rec.LastHeartbeat = &hb
	}
	if err := r.db.UpsertMirror(rec); err != nil {
		log.Printf("engine: persist mirror %s: %v", m.ID, err)
	}
}

func (r *mirrorRecorder) MirrorHeartbeat(mirrorID string) {
	if err := r.db.UpdateMirrorHeartbeat(mirrorID); err != nil {
		log.Printf("engine: persist heartbeat %s: %v", mirrorID, err)
	}
}

func (r *mirrorRecorder) MirrorEvicted(mirrorID string) {
	if err := r.db.MarkMirrorEvicted(mirrorID); err != nil {
		log.Printf("engine: persist eviction %s: %v", mirrorID, err)
	}
}

var _ mirrors.Recorder = (*mirrorRecorder)(nil)

// peerSink fans peer table changes out to the event bus, the sql store and
// the redis cache. The cache is optional.
type peerSink struct {
	bus      *EventBus
	db       *store.DB
	cache    *peerview.Cache
	cacheTTL time.Duration
}

func (s *peerSink) PeerObserved(p peerview.PeerState) {
	s.bus.Emit(Event{Type: EventPeerUpdated, Payload: PeerEvent{
		NodeID: p.NodeID,
		Tier:   p.Tier,
		Status: p.Status,
	}})
	snapshot, err := json.Marshal(p.NodeSync)
	if err != nil {
		log.Printf("engine: marshal peer snapshot %s: %v", p.NodeID, err)
		return
	}
	err = s.db.UpsertPeerSnapshot(&store.PeerSnapshotRecord{
		NodeID:   p.NodeID,
		Tier:     p.Tier,
		Clock:    p.Clock,
		Snapshot: snapshot,
		Status:   p.Status,
	})
	if err != nil {
		log.Printf("engine: persist peer %s: %v", p.NodeID, err)
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.StorePeer(ctx, p, s.cacheTTL); err != nil {
			log.Printf("engine: cache peer %s: %v", p.NodeID, err)
		}
	}
}

func (s *peerSink) PeerStatusChanged(nodeID, status string) {
	evType := EventPeerUpdated
	if status == protocol.PeerUnreachable {
		evType = EventPeerUnreachable
	}
	s.bus.Emit(Event{Type: evType, Payload: PeerEvent{NodeID: nodeID, Status: status}})
	if err := s.db.UpdatePeerStatus(nodeID, status); err != nil {
		log.Printf("engine: persist peer status %s: %v", nodeID, err)
	}
}

func (s *peerSink) PeerRemoved(nodeID string) {
	s.bus.Emit(Event{Type: EventPeerRemoved, Payload: PeerEvent{NodeID: nodeID}})
	if err := s.db.UpdatePeerStatus(nodeID, protocol.PeerUnreachable); err != nil {
		log.Printf("engine: persist peer removal %s: %v", nodeID, err)
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.DeletePeer(ctx, nodeID); err != nil {
			log.Printf("engine: uncache peer %s: %v", nodeID, err)
		}
	}
}

var _ peerview.Sink = (*peerSink)(nil)
