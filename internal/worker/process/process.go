// Package process implements the Worker's process table: PID allocation,
// state transitions, and dispatch to the executor that owns a process's
// actual execution. It is grounded on
// src/handler/process/process.go's ProcessManager (monotonic identity,
// map[id]*info under a RWMutex, Start/Write/Stop/Kill/List), generalized
// from "one real OS process per entry" to "one Executor per entry" since
// nothing in this container may spawn a real OS process.
package process

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is one of the five states a Process moves through. Transitions are
// monotonic except for the reset performed by a restart, which this system
// does not implement (no restartOnFailure).
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTerminated State = "terminated"
)

// Kind is the process type: a scripting-runtime process or a shell process.
type Kind string

const (
	KindScript Kind = "script"
	KindShell  Kind = "shell"
)

// Executor drives one process's actual work. Exactly one Executor instance
// is owned per Process; Table.Terminate calls Kill exactly once.
type Executor interface {
	// CanExecute reports whether this executor handles command. Checked in
	// registration order; first match wins.
	CanExecute(command string) bool
	// Kind identifies the process type this executor implements.
	Kind() Kind
	// Start begins executing command/args in cwd with env, streaming
	// stdout/stderr through the two writers until the process ends. A nil
	// return completes the process with exit code 0 (or keeps the -1 of a
	// terminated process); a non-nil error fails it with exit code 1.
	Start(ctx context.Context, command string, args []string, cwd string, env map[string]string, stdout, stderr io.Writer) error
	// WriteStdin delivers input to the process's stdin sink.
	WriteStdin(input string) error
	// Kill stops execution and releases every resource the executor
	// holds (runtime handles, registered virtual servers, goroutines).
	Kill() error
}

// ExecutorFactory builds a fresh Executor instance for one process. Table
// calls it once per spawn, passing the newly allocated pid, so that each
// Process owns its own Executor and executors that register resources
// keyed by pid (virtual servers, HTTP bridges) can do so from construction.
type ExecutorFactory struct {
	CanExecute func(command string) bool
	New        func(pid int) Executor
}

// Process is one entry in the Worker's process table.
type Process struct {
	PID       int
	Kind      Kind
	Command   string
	Args      []string
	Cwd       string
	Env       map[string]string
	StartTime time.Time
	EndTime   *time.Time
	ExitCode  *int

	mu    sync.RWMutex
	state State

	executor Executor

	logMu      sync.RWMutex
	logWriters []chan<- OutputChunk
}

// OutputChunk is one piece of process output delivered to a log subscriber.
type OutputChunk struct {
	Data    string
	IsError bool
}

func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Subscribe registers a channel to receive this process's output going
// forward. Unsubscribe with Unsubscribe when done.
func (p *Process) Subscribe(ch chan<- OutputChunk) {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	p.logWriters = append(p.logWriters, ch)
}

func (p *Process) Unsubscribe(ch chan<- OutputChunk) {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	for i, w := range p.logWriters {
		if w == ch {
			p.logWriters = append(p.logWriters[:i], p.logWriters[i+1:]...)
			return
		}
	}
}

func (p *Process) publish(chunk OutputChunk) {
	p.logMu.RLock()
	defer p.logMu.RUnlock()
	for _, w := range p.logWriters {
		select {
		case w <- chunk:
		default:
		}
	}
}

// outputWriter adapts Process.publish to io.Writer for the executor to
// write stdout/stderr through.
type outputWriter struct {
	p       *Process
	isError bool
}

func (w *outputWriter) Write(b []byte) (int, error) {
	w.p.publish(OutputChunk{Data: string(b), IsError: w.isError})
	return len(b), nil
}

// Table is the Worker's process table: PID allocation and lifecycle.
type Table struct {
	mu        sync.RWMutex
	processes map[int]*Process
	nextPID   int
	factories []ExecutorFactory

	onExit func(pid int, exitCode int)
	onErr  func(pid int, err string)
}

// New creates an empty process table. onExit and onErr are invoked
// whenever a process terminates or reports an execution error, letting the
// caller (the Worker dispatcher) turn them into processExit/processError
// events.
func New(onExit func(pid int, exitCode int), onErr func(pid int, err string)) *Table {
	return &Table{
		processes: make(map[int]*Process),
		onExit:    onExit,
		onErr:     onErr,
	}
}

// Register adds an executor factory. Registration order defines
// CanExecute tie-breaks.
func (t *Table) Register(f ExecutorFactory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories = append(t.factories, f)
}

// Count returns the number of tracked (non-terminal or still-draining)
// processes.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.processes)
}

// Spawn allocates a fresh PID, selects the first matching executor, starts
// it, and returns the new Process. Output streamed by the executor is
// published via Process.Subscribe/publish and reported to onExit/onErr on
// termination.
func (t *Table) Spawn(ctx context.Context, command string, args []string, cwd string, env map[string]string) (*Process, error) {
	t.mu.Lock()
	var factory *ExecutorFactory
	for i := range t.factories {
		if t.factories[i].CanExecute(command) {
			factory = &t.factories[i]
			break
		}
	}
	if factory == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("no executor registered for command: %s", command)
	}
	t.nextPID++
	pid := t.nextPID
	t.mu.Unlock()

	executor := factory.New(pid)
	p := &Process{
		PID:       pid,
		Kind:      executor.Kind(),
		Command:   command,
		Args:      args,
		Cwd:       cwd,
		Env:       env,
		StartTime: time.Now(),
		state:     StateRunning,
		executor:  executor,
	}

	t.mu.Lock()
	t.processes[pid] = p
	t.mu.Unlock()

	stdout := &outputWriter{p: p, isError: false}
	stderr := &outputWriter{p: p, isError: true}

	go func() {
		err := executor.Start(ctx, command, args, cwd, env, stdout, stderr)
		now := time.Now()
		p.EndTime = &now

		if err != nil {
			p.setState(StateFailed)
			code := 1
			p.ExitCode = &code
			logrus.WithFields(logrus.Fields{"pid": pid, "command": command}).WithError(err).Warn("process failed")
			if t.onErr != nil {
				t.onErr(pid, err.Error())
			}
			if t.onExit != nil {
				t.onExit(pid, code)
			}
			return
		}

		if p.State() != StateTerminated {
			p.setState(StateCompleted)
		}
		code := 0
		if p.ExitCode != nil {
			code = *p.ExitCode
		}
		p.ExitCode = &code
		if t.onExit != nil {
			t.onExit(pid, code)
		}
	}()

	return p, nil
}

// Get returns the process with the given pid.
func (t *Table) Get(pid int) (*Process, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.processes[pid]
	return p, ok
}

// List returns a snapshot of every tracked process.
func (t *Table) List() []*Process {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Process, 0, len(t.processes))
	for _, p := range t.processes {
		out = append(out, p)
	}
	return out
}

// WriteInput delivers stdin to a process.
func (t *Table) WriteInput(pid int, input string) error {
	p, ok := t.Get(pid)
	if !ok {
		return fmt.Errorf("process not found: %d", pid)
	}
	return p.executor.WriteStdin(input)
}

// Terminate kills a process's executor, sets it to the terminated state
// with exit code -1 (the host-optimistic code; a later natural exit never
// overrides a terminated state). The process stays in the table until the
// caller drops it with Remove.
func (t *Table) Terminate(pid int) error {
	p, ok := t.Get(pid)
	if !ok {
		return fmt.Errorf("process not found: %d", pid)
	}
	if p.State() != StateRunning {
		return nil
	}
	p.setState(StateTerminated)
	code := -1
	p.ExitCode = &code
	return p.executor.Kill()
}

// Remove drops a process from the table entirely (no further lookups will
// find it, and Count no longer counts it). The caller is responsible for
// waiting out any grace period a terminal process's output subscribers
// need to drain before calling this.
func (t *Table) Remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processes, pid)
}

// parseCommand splits a command string into arguments while respecting
// single and double quotes, unchanged from src/handler/process/process.go.
func parseCommand(command string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, char := range command {
		switch {
		case char == '"' || char == '\'':
			if inQuotes && char == quoteChar {
				inQuotes = false
				quoteChar = rune(0)
			} else if !inQuotes {
				inQuotes = true
				quoteChar = char
			} else {
				current.WriteRune(char)
			}
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}

// ParseCommand exposes parseCommand to executors that need to split a
// shell-less command string into argv.
func ParseCommand(command string) []string {
	return parseCommand(command)
}
