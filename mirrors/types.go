package mirrors

import (
	"time"

	"logosnode/protocol"
)

// Mirror statuses aliased from protocol for local use.
const (
	StatusStarting = protocol.MirrorStarting
	StatusReady    = protocol.MirrorReady
	StatusBusy     = protocol.MirrorBusy
	StatusDegraded = protocol.MirrorDegraded
	StatusDead     = protocol.MirrorDead
)

// Mirror is a running model-engine replica able to hold one task at a
// time. Records are owned exclusively by the pool and mutated only through
// its transition methods; callers get copies.
type Mirror struct {
	ID                string
	Model             string
	Status            string
	CurrentTaskID     string
	LastHeartbeatAt   time.Time
	ConsecutiveErrors int
	SpawnedAt         time.Time
}

// Emitter is the interface adapters must satisfy to bridge pool events to
// the engine.
type Emitter interface {
	EmitMirrorSpawned(mirrorID, model string)
	EmitMirrorStatusChanged(mirrorID, oldStatus, newStatus string)
	EmitMirrorEvicted(mirrorID, detail string)
}

// Recorder persists registry mutations. Implementations must not block;
// a nil recorder disables persistence.
type Recorder interface {
	MirrorUpserted(m Mirror)
	MirrorHeartbeat(mirrorID string)
	MirrorEvicted(mirrorID string)
}

// LostFunc is called when a Dead mirror is evicted while holding a task.
// The dispatcher uses it to fail the task and reclaim its slot; a dead
// mirror must never swallow a task silently.
type LostFunc func(mirrorID, taskID string)
