package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimBackend is an in-process engine simulator. It is the default backend
// in dev configs and the workhorse of the test suite: replicas are map
// entries, inference is a latency sleep, and failure modes can be induced
// per replica.
type SimBackend struct {
	mu       sync.Mutex
	latency  time.Duration
	replicas map[string]*simReplica
}

type simReplica struct {
	model     string
	silent    bool  // heartbeats fail when set
	inferErr  error // returned by the next Infer calls when set
}

// NewSimBackend creates a simulator with the given inference latency.
func NewSimBackend(latency time.Duration) *SimBackend {
	return &SimBackend{
		latency:  latency,
		replicas: make(map[string]*simReplica),
	}
}

func (b *SimBackend) Spawn(mirrorID, modelName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.replicas[mirrorID]; exists {
		return fmt.Errorf("replica %s already exists", mirrorID)
	}
	b.replicas[mirrorID] = &simReplica{model: modelName}
	return nil
}

func (b *SimBackend) Stop(mirrorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.replicas, mirrorID)
	return nil
}

func (b *SimBackend) Infer(ctx context.Context, mirrorID, prompt string, contextBudget int) (string, error) {
	b.mu.Lock()
	r, ok := b.replicas[mirrorID]
	if !ok {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: unknown replica %s", ErrEngineError, mirrorID)
	}
	inferErr := r.inferErr
	latency := b.latency
	b.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if inferErr != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineError, inferErr)
	}
	return fmt.Sprintf("processed %d bytes on %s", len(prompt), r.model), nil
}

func (b *SimBackend) Heartbeat(mirrorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.replicas[mirrorID]
	if !ok {
		return fmt.Errorf("unknown replica %s", mirrorID)
	}
	if r.silent {
		return fmt.Errorf("replica %s not responding", mirrorID)
	}
	return nil
}

func (b *SimBackend) Ping() error { return nil }

func (b *SimBackend) Name() string { return "sim engine" }

// Silence makes a replica stop answering heartbeats without removing it,
// simulating a hung process.
func (b *SimBackend) Silence(mirrorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.replicas[mirrorID]; ok {
		r.silent = true
	}
}

// Revive makes a silenced replica answer heartbeats again.
func (b *SimBackend) Revive(mirrorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.replicas[mirrorID]; ok {
		r.silent = false
	}
}

// FailInference makes subsequent Infer calls on a replica return an engine
// error (nil clears it).
func (b *SimBackend) FailInference(mirrorID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.replicas[mirrorID]; ok {
		r.inferErr = err
	}
}

// ReplicaCount returns the number of live replicas.
func (b *SimBackend) ReplicaCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.replicas)
}

var _ Backend = (*SimBackend)(nil)
