package container

import (
	"context"
	"testing"
	"time"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := New(ctx, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Dispose(ctx)
	})
	return m
}

func TestSpawnRegistersHandleBeforeReturn(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := m.Spawn(ctx, "echo hi", nil, "/", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID() == 0 {
		t.Fatalf("expected a nonzero pid")
	}

	got, ok := m.GetProcess(h.PID())
	if !ok || got != h {
		t.Fatalf("GetProcess did not return the spawned handle")
	}
}

func TestSpawnRejectsOverMaxProcesses(t *testing.T) {
	m := newTestManager(t, Options{MaxProcesses: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.Spawn(ctx, "echo one", nil, "/", nil); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if _, err := m.Spawn(ctx, "echo two", nil, "/", nil); err == nil {
		t.Fatalf("expected second spawn over the limit to fail")
	}
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.WriteFile(ctx, "/greeting.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	content, err := m.ReadFile(ctx, "/greeting.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("got %q", content)
	}
}

func TestKillIsIdempotentAndOptimistic(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := m.Spawn(ctx, "echo hi", nil, "/", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := h.Kill(ctx); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	if err := h.Kill(ctx); err != nil {
		t.Fatalf("second Kill should be a benign no-op, got: %v", err)
	}

	select {
	case ev := <-h.Exit():
		if ev.ExitCode != -1 {
			t.Fatalf("want optimistic exit code -1, got %d", ev.ExitCode)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an exit event after Kill")
	}
}

func TestDisposeRejectsFurtherCalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := New(ctx, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := m.Dispose(ctx); err != nil {
		t.Fatalf("second Dispose should be a no-op, got: %v", err)
	}

	if _, err := m.Spawn(ctx, "echo hi", nil, "/", nil); err == nil {
		t.Fatalf("expected spawn after dispose to fail")
	}
}

func TestListProcessesSnapshot(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.Spawn(ctx, "echo one", nil, "/", nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Spawn(ctx, "echo two", nil, "/", nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	procs := m.ListProcesses()
	if len(procs) != 2 {
		t.Fatalf("want 2 tracked processes, got %d", len(procs))
	}
}
