package process

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

type fakeExecutor struct {
	prefix string
	kind   Kind
	output string
	fail   bool
	killed bool
}

func (f *fakeExecutor) CanExecute(command string) bool { return strings.HasPrefix(command, f.prefix) }
func (f *fakeExecutor) Kind() Kind                      { return f.kind }

func (f *fakeExecutor) Start(ctx context.Context, command string, args []string, cwd string, env map[string]string, stdout, stderr io.Writer) error {
	if f.fail {
		return errTest
	}
	io.WriteString(stdout, f.output)
	return nil
}

func (f *fakeExecutor) WriteStdin(input string) error { return nil }
func (f *fakeExecutor) Kill() error                   { f.killed = true; return nil }

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newTableWithFactory(f *fakeExecutor) *Table {
	table := New(nil, nil)
	table.Register(ExecutorFactory{
		CanExecute: f.CanExecute,
		New:        func(pid int) Executor { return f },
	})
	return table
}

func TestSpawnAllocatesMonotonicPIDs(t *testing.T) {
	table := newTableWithFactory(&fakeExecutor{prefix: "echo", kind: KindShell})
	p1, err := table.Spawn(context.Background(), "echo one", nil, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := table.Spawn(context.Background(), "echo two", nil, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p1.PID != 1 || p2.PID != 2 {
		t.Fatalf("want PIDs 1,2, got %d,%d", p1.PID, p2.PID)
	}
}

func TestSpawnNoMatchingExecutor(t *testing.T) {
	table := New(nil, nil)
	if _, err := table.Spawn(context.Background(), "nope", nil, "/", nil); err == nil {
		t.Fatal("expected an error for an unmatched command")
	}
}

func TestSpawnPublishesOutputToSubscribers(t *testing.T) {
	table := newTableWithFactory(&fakeExecutor{prefix: "echo", kind: KindShell, output: "hi"})
	var exited chan struct{} = make(chan struct{})
	table.onExit = func(pid, code int) { close(exited) }

	p, err := table.Spawn(context.Background(), "echo hi", nil, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan OutputChunk, 8)
	p.Subscribe(ch)

	<-exited
	select {
	case chunk := <-ch:
		if chunk.Data != "hi" || chunk.IsError {
			t.Fatalf("unexpected chunk: %+v", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output")
	}
	if p.State() != StateCompleted {
		t.Fatalf("want completed, got %s", p.State())
	}
}

func TestSpawnFailureSetsFailedState(t *testing.T) {
	exited := make(chan struct{})
	table := newTableWithFactory(&fakeExecutor{prefix: "bad", kind: KindShell, fail: true})
	table.onErr = func(pid int, msg string) {}
	table.onExit = func(pid, code int) { close(exited) }

	p, err := table.Spawn(context.Background(), "bad cmd", nil, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	<-exited
	if p.State() != StateFailed {
		t.Fatalf("want failed, got %s", p.State())
	}
	if *p.ExitCode != 1 {
		t.Fatalf("want exit code 1, got %d", *p.ExitCode)
	}
}

func TestTerminateKillsExecutorAndSetsState(t *testing.T) {
	exec := &fakeExecutor{prefix: "sleep", kind: KindShell}
	table := newTableWithFactory(exec)
	p, err := table.Spawn(context.Background(), "sleep 100", nil, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Terminate(p.PID); err != nil {
		t.Fatal(err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("want terminated, got %s", p.State())
	}
	if !exec.killed {
		t.Fatal("expected Kill to have been called")
	}
}

func TestRemoveDropsProcessFromCountAndLookup(t *testing.T) {
	table := newTableWithFactory(&fakeExecutor{prefix: "echo", kind: KindShell, output: "hi"})
	p, err := table.Spawn(context.Background(), "echo hi", nil, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if table.Count() != 1 {
		t.Fatalf("want count 1, got %d", table.Count())
	}

	table.Remove(p.PID)

	if table.Count() != 0 {
		t.Fatalf("want count 0 after Remove, got %d", table.Count())
	}
	if _, ok := table.Get(p.PID); ok {
		t.Fatal("expected Get to miss a removed pid")
	}
}

func TestParseCommandRespectsQuotes(t *testing.T) {
	got := ParseCommand(`echo "hello world" 'a b'`)
	want := []string{"echo", "hello world", "a b"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
