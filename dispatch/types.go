package dispatch

import (
	"time"

	"logosnode/protocol"
)

// Task states aliased from protocol for local use.
const (
	StateQueued     = protocol.TaskQueued
	StateAdmitted   = protocol.TaskAdmitted
	StateDispatched = protocol.TaskDispatched
	StateCompleted  = protocol.TaskCompleted
	StateFailed     = protocol.TaskFailed
	StateRejected   = protocol.TaskRejected
)

// Error codes aliased from protocol for local use.
const (
	ErrCodePolicyViolation   = protocol.ErrCodePolicyViolation
	ErrCodeCapacityExceeded  = protocol.ErrCodeCapacityExceeded
	ErrCodeNoMirrorAvailable = protocol.ErrCodeNoMirrorAvailable
	ErrCodeMirrorLost        = protocol.ErrCodeMirrorLost
	ErrCodeEngineError       = protocol.ErrCodeEngineError
	ErrCodeTimeout           = protocol.ErrCodeTimeout
	ErrCodeCancelled         = protocol.ErrCodeCancelled
)

// Task is the dispatcher's view of one inference request.
type Task struct {
	ID          string
	Model       string
	Prompt      string
	ContextSize int
	Tier        string
	State       string
	TicketID    string
	MirrorID    string
	SubmittedAt time.Time
	FinishedAt  time.Time
}

// Result is the terminal outcome of a task. Exactly one Result is ever
// produced per task, no matter how many paths race to finish it.
type Result struct {
	TaskID  string
	State   string // StateCompleted, StateFailed or StateRejected
	Output  string
	ErrCode string
	Detail  string
}

// Retryable reports whether the client may resubmit the same request.
func (r Result) Retryable() bool {
	return protocol.Retryable(r.ErrCode)
}

// Recorder persists task lifecycle changes. A nil recorder disables
// persistence; implementations must tolerate being called concurrently.
type Recorder interface {
	TaskCreated(t Task)
	TaskAssigned(taskID, ticketID, mirrorID string)
	TaskStateChanged(taskID, state string)
	TaskFinished(r Result)
}
