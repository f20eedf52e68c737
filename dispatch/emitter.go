package dispatch

// Emitter is the interface adapters must satisfy to bridge dispatcher
// events to the engine. Methods must not block; slow consumers are the
// adapter's problem.
type Emitter interface {
	EmitTaskSubmitted(taskID, modelName string)
	EmitTaskStateChanged(taskID, oldState, newState string)
	EmitTaskFinished(r Result)
}

// NoOpEmitter discards all events. Useful in tests and as an embedding
// base for partial implementations.
type NoOpEmitter struct{}

func (NoOpEmitter) EmitTaskSubmitted(taskID, modelName string)            {}
func (NoOpEmitter) EmitTaskStateChanged(taskID, oldState, newState string) {}
func (NoOpEmitter) EmitTaskFinished(r Result)                             {}

var _ Emitter = (*NoOpEmitter)(nil)
