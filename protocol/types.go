package protocol

// Message type constants for the peer sync protocol.
const (
	// Node <-> Node (published on the sync topic)
	TypeNodeSync = "node.sync"
	TypeNodeBye  = "node.bye"
)

// Roles for Address.Role.
const (
	RoleNode   = "node"
	RoleClient = "client"
)

// Mirror lifecycle statuses.
const (
	MirrorStarting = "starting"
	MirrorReady    = "ready"
	MirrorBusy     = "busy"
	MirrorDegraded = "degraded"
	MirrorDead     = "dead"
)

// Task lifecycle states. Transitions are strictly ordered:
// queued -> admitted -> dispatched -> exactly one terminal state.
const (
	TaskQueued     = "queued"
	TaskAdmitted   = "admitted"
	TaskDispatched = "dispatched"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
	TaskRejected   = "rejected"
)

// Error codes surfaced to task callers.
const (
	ErrCodePolicyViolation   = "policy_violation"
	ErrCodeCapacityExceeded  = "capacity_exceeded"
	ErrCodeNoMirrorAvailable = "no_mirror_available"
	ErrCodeMirrorLost        = "mirror_lost"
	ErrCodeEngineError       = "engine_error"
	ErrCodeTimeout           = "timeout"
	ErrCodeCancelled         = "cancelled"
)

// Retryable reports whether a task error code indicates a transient condition
// the caller may retry. Policy violations are the only permanent rejection.
func Retryable(errorCode string) bool {
	switch errorCode {
	case ErrCodeCapacityExceeded, ErrCodeNoMirrorAvailable, ErrCodeTimeout, ErrCodeMirrorLost, ErrCodeEngineError:
		return true
	}
	return false
}

// Peer reachability as tracked by the sync service.
const (
	PeerReachable   = "reachable"
	PeerUnreachable = "unreachable"
)

// Protocol version.
const Version = 1
