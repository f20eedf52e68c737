package model

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSimSpawnInferStop(t *testing.T) {
	b := NewSimBackend(time.Millisecond)

	if err := b.Spawn("m-1", "logos9.5"); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := b.Spawn("m-1", "logos9.5"); err == nil {
		t.Error("duplicate spawn should fail")
	}

	out, err := b.Infer(context.Background(), "m-1", "hello", 8192)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if !strings.Contains(out, "logos9.5") {
		t.Errorf("output = %q", out)
	}

	if err := b.Stop("m-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := b.Stop("m-1"); err != nil {
		t.Fatalf("stop should be idempotent: %v", err)
	}
	if _, err := b.Infer(context.Background(), "m-1", "hello", 8192); !errors.Is(err, ErrEngineError) {
		t.Errorf("infer on stopped replica: err = %v, want ErrEngineError", err)
	}
}

func TestSimInferCancellation(t *testing.T) {
	b := NewSimBackend(time.Minute)
	b.Spawn("m-1", "logos9.5")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Infer(ctx, "m-1", "hello", 8192)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("infer did not honor cancellation")
	}
}

func TestSimHeartbeatAndSilence(t *testing.T) {
	b := NewSimBackend(time.Millisecond)
	b.Spawn("m-1", "logos9.5")

	if err := b.Heartbeat("m-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	b.Silence("m-1")
	if err := b.Heartbeat("m-1"); err == nil {
		t.Error("silenced replica should fail heartbeat")
	}

	if err := b.Heartbeat("m-unknown"); err == nil {
		t.Error("unknown replica should fail heartbeat")
	}
}

func TestSimFailInference(t *testing.T) {
	b := NewSimBackend(time.Millisecond)
	b.Spawn("m-1", "logos9.5")
	b.FailInference("m-1", errors.New("out of memory"))

	_, err := b.Infer(context.Background(), "m-1", "hello", 8192)
	if !errors.Is(err, ErrEngineError) {
		t.Fatalf("err = %v, want ErrEngineError", err)
	}

	b.FailInference("m-1", nil)
	if _, err := b.Infer(context.Background(), "m-1", "hello", 8192); err != nil {
		t.Fatalf("infer after clearing: %v", err)
	}
}
