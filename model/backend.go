// Package model defines the vendor-neutral interface to the external
// model engine hosting the node's mirrors, and the adapters implementing
// it. The engine itself is an opaque capability: it runs replicas, answers
// inference calls, and reports liveness; everything else is this node's
// business.
package model

import (
	"context"
	"errors"
)

// ErrEngineError is wrapped by backends when the engine reports a failed
// inference. Callers use errors.Is to distinguish engine-reported failures
// from transport problems.
var ErrEngineError = errors.New("engine error")

// Backend is the interface to a model-engine implementation.
// Implementations wrap concrete engines (HTTP model servers, in-process
// simulators).
type Backend interface {
	// Spawn starts a new replica for the given model under the given id.
	// Returns once the replica is accepted; readiness is signaled via
	// Heartbeat succeeding.
	Spawn(mirrorID, modelName string) error

	// Stop terminates a replica. Idempotent.
	Stop(mirrorID string) error

	// Infer runs a prompt on the given replica within the context budget.
	// Honors ctx cancellation cooperatively: the engine is signaled, but
	// the call returns only when the engine yields or the deadline fires.
	Infer(ctx context.Context, mirrorID, prompt string, contextBudget int) (string, error)

	// Heartbeat checks liveness of a replica.
	Heartbeat(mirrorID string) error

	// Ping checks connectivity to the engine itself.
	Ping() error

	// Name returns a human-readable name for this backend.
	Name() string
}
