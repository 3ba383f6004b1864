// Package container implements the Host-side supervisor: ContainerManager
// and the VirtualProcess handles it hands out. It is the embedder-facing
// surface of the whole system, sitting on top of internal/bridge's
// request/response correlation: one struct owns every subsystem and a
// disposed flag guards every public method once torn down.
package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vprocbox/vprocbox/internal/bridge"
	"github.com/vprocbox/vprocbox/internal/errs"
	"github.com/vprocbox/vprocbox/internal/protocol"
	"github.com/vprocbox/vprocbox/internal/worker"
)

// Options are the embedder-facing container options.
type Options struct {
	Debug        bool
	MaxProcesses int
	MemoryLimit  int // bytes; default 512MB
}

func (o Options) withDefaults() Options {
	if o.MaxProcesses == 0 {
		o.MaxProcesses = 10
	}
	if o.MemoryLimit == 0 {
		o.MemoryLimit = 512 * 1024 * 1024
	}
	return o
}

// Manager is the embedder-facing ContainerManager: it owns the WorkerBridge
// and every VirtualProcess handle it has spawned.
type Manager struct {
	opts   Options
	bridge *bridge.WorkerBridge
	worker *worker.Worker

	mu       sync.RWMutex
	disposed bool
	handles  map[int]*VirtualProcess
}

// New constructs a Worker and a Host bridge wired to it over a pair of
// directional channels, then performs the initialize round-trip.
// Initialization is latched: New does not return until the Worker has
// acknowledged, so every method on the returned Manager can assume a live
// Worker on the other end of the bridge.
func New(ctx context.Context, opts Options) (*Manager, error) {
	opts = opts.withDefaults()

	hostToWorker := make(chan protocol.Envelope, 64)
	workerToHost := make(chan protocol.Envelope, 64)

	w := worker.New(worker.Options{Debug: opts.Debug, MaxProcesses: opts.MaxProcesses, MemoryLimit: opts.MemoryLimit}, workerToHost, hostToWorker)
	b := bridge.New(hostToWorker, workerToHost)

	m := &Manager{opts: opts, bridge: b, worker: w, handles: make(map[int]*VirtualProcess)}
	b.OnEvent(m.handleEvent)

	if _, err := b.Send(ctx, protocol.TypeInitialize, protocol.InitializeRequest{Debug: opts.Debug, MemoryLimit: opts.MemoryLimit}); err != nil {
		m.disposed = true
		return nil, errs.Wrap(errs.Fatal, err)
	}
	return m, nil
}

func (m *Manager) checkDisposed() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return errs.Disposed
	}
	return nil
}

func (m *Manager) handleEvent(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeProcessOutput:
		ev := env.Payload.(protocol.ProcessOutputEvent)
		if h := m.getHandle(ev.PID); h != nil {
			h.emitOutput(ev.Output, ev.IsError)
		}
	case protocol.TypeProcessExit:
		ev := env.Payload.(protocol.ProcessExitEvent)
		if h := m.getHandle(ev.PID); h != nil {
			h.resolveExit(ev.ExitCode)
		}
	case protocol.TypeProcessError:
		ev := env.Payload.(protocol.ProcessErrorEvent)
		if h := m.getHandle(ev.PID); h != nil {
			h.emitError(ev.Error)
		}
	case protocol.TypeError:
		resp := env.Payload.(protocol.ErrorResponse)
		logrus.WithField("error", resp.Error).Warn("worker transport error")
	}
}

func (m *Manager) getHandle(pid int) *VirtualProcess {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[pid]
}

// Spawn sends a spawn request and registers the returned handle before
// returning it, so events for the new pid are never missed between
// registration and the caller receiving the handle.
func (m *Manager) Spawn(ctx context.Context, command string, args []string, cwd string, env map[string]string) (*VirtualProcess, error) {
	if err := m.checkDisposed(); err != nil {
		return nil, err
	}

	resp, err := m.bridge.Send(ctx, protocol.TypeSpawn, protocol.SpawnRequest{
		Command: command,
		Args:    args,
		Options: protocol.SpawnOptions{Cwd: cwd, Env: env},
	})
	if err != nil {
		return nil, err
	}
	spawned, ok := resp.Payload.(protocol.SpawnedResponse)
	if !ok {
		return nil, errs.New(errs.Usage, "invalid worker response")
	}

	h := newVirtualProcess(m, spawned.PID, spawned.Command)
	m.mu.Lock()
	m.handles[spawned.PID] = h
	m.mu.Unlock()
	return h, nil
}

// GetProcess returns the handle for pid iff it is currently tracked.
func (m *Manager) GetProcess(pid int) (*VirtualProcess, bool) {
	h := m.getHandle(pid)
	return h, h != nil
}

// ListProcesses returns a snapshot of every tracked handle.
func (m *Manager) ListProcesses() []*VirtualProcess {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*VirtualProcess, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	return out
}

// Stats is the Host-facing view of getStats, mirroring
// protocol.StatsResponse but without the wire types.
type Stats = protocol.StatsResponse

// GetStats round-trips a getStats request.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	if err := m.checkDisposed(); err != nil {
		return Stats{}, err
	}
	resp, err := m.bridge.Send(ctx, protocol.TypeGetStats, nil)
	if err != nil {
		return Stats{}, err
	}
	stats, ok := resp.Payload.(protocol.StatsResponse)
	if !ok {
		return Stats{}, errs.New(errs.Usage, "invalid worker response")
	}
	return stats, nil
}

// WriteFile, ReadFile, DeleteFile, ListFiles, CreateDirectory,
// ListDirectory and DeleteDirectory are thin pass-throughs to the Worker
// filesystem, each wrapping a failed round-trip's error string.

func (m *Manager) WriteFile(ctx context.Context, path string, content []byte) error {
	if err := m.checkDisposed(); err != nil {
		return err
	}
	_, err := m.bridge.Send(ctx, protocol.TypeWriteFile, protocol.WriteFileRequest{Path: path, Content: content})
	return err
}

func (m *Manager) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := m.checkDisposed(); err != nil {
		return nil, err
	}
	resp, err := m.bridge.Send(ctx, protocol.TypeReadFile, protocol.ReadFileRequest{Path: path})
	if err != nil {
		return nil, err
	}
	r, ok := resp.Payload.(protocol.FileReadResponse)
	if !ok {
		return nil, errs.New(errs.Usage, "invalid worker response")
	}
	return r.Content, nil
}

func (m *Manager) DeleteFile(ctx context.Context, path string, recursive bool) error {
	if err := m.checkDisposed(); err != nil {
		return err
	}
	_, err := m.bridge.Send(ctx, protocol.TypeDeleteFile, protocol.DeleteFileRequest{Path: path, Recursive: recursive})
	return err
}

func (m *Manager) ListFiles(ctx context.Context, path string) ([]string, error) {
	if err := m.checkDisposed(); err != nil {
		return nil, err
	}
	resp, err := m.bridge.Send(ctx, protocol.TypeListFiles, protocol.ListFilesRequest{Path: path})
	if err != nil {
		return nil, err
	}
	r, ok := resp.Payload.(protocol.FileListResponse)
	if !ok {
		return nil, errs.New(errs.Usage, "invalid worker response")
	}
	return r.Files, nil
}

func (m *Manager) CreateDirectory(ctx context.Context, path string) error {
	if err := m.checkDisposed(); err != nil {
		return err
	}
	_, err := m.bridge.Send(ctx, protocol.TypeCreateDirectory, protocol.CreateDirectoryRequest{Path: path})
	return err
}

func (m *Manager) ListDirectory(ctx context.Context, path string) (protocol.DirectoryListResponse, error) {
	if err := m.checkDisposed(); err != nil {
		return protocol.DirectoryListResponse{}, err
	}
	resp, err := m.bridge.Send(ctx, protocol.TypeListDirectory, protocol.ListDirectoryRequest{Path: path})
	if err != nil {
		return protocol.DirectoryListResponse{}, err
	}
	r, ok := resp.Payload.(protocol.DirectoryListResponse)
	if !ok {
		return protocol.DirectoryListResponse{}, errs.New(errs.Usage, "invalid worker response")
	}
	return r, nil
}

func (m *Manager) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if err := m.checkDisposed(); err != nil {
		return err
	}
	_, err := m.bridge.Send(ctx, protocol.TypeDeleteDirectory, protocol.DeleteDirectoryRequest{Path: path, Recursive: recursive})
	return err
}

// HTTPRequest forwards an embedder-injected HTTP request into the Worker's
// NetworkManager and returns the synthesized response.
func (m *Manager) HTTPRequest(ctx context.Context, port int, method, url string, headers map[string]string, body []byte) (protocol.HTTPResponsePayload, error) {
	if err := m.checkDisposed(); err != nil {
		return protocol.HTTPResponsePayload{}, err
	}
	resp, err := m.bridge.Send(ctx, protocol.TypeHTTPRequest, protocol.HTTPRequestRequest{
		Request: protocol.HTTPRequestPayload{Method: method, URL: url, Headers: headers, Body: body},
		Port:    port,
	})
	if err != nil {
		return protocol.HTTPResponsePayload{}, err
	}
	r, ok := resp.Payload.(protocol.HTTPResponseResponse)
	if !ok {
		return protocol.HTTPResponsePayload{}, errs.New(errs.Usage, "invalid worker response")
	}
	return r.Response, nil
}

// ListServers returns every currently bound port.
func (m *Manager) ListServers(ctx context.Context) ([]int, error) {
	if err := m.checkDisposed(); err != nil {
		return nil, err
	}
	resp, err := m.bridge.Send(ctx, protocol.TypeListServers, nil)
	if err != nil {
		return nil, err
	}
	r, ok := resp.Payload.(protocol.ServerListResponse)
	if !ok {
		return nil, errs.New(errs.Usage, "invalid worker response")
	}
	return r.Ports, nil
}

// Dispose kills every process, sends the dispose round-trip, and marks the
// manager permanently disposed. Idempotent; subsequent calls return nil
// immediately. Errors are swallowed unless debug is set, matching the
// embedder contract.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	handles := make([]*VirtualProcess, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.kill(ctx)
	}

	_, err := m.bridge.Send(ctx, protocol.TypeDispose, nil)
	m.bridge.Dispose()
	m.worker.Stop()

	if err != nil && m.opts.Debug {
		return err
	}
	return nil
}

// VirtualProcess mirrors a Worker process on the Host side. Output/Exit/
// Error are read-only event channels; Write and Kill are the only mutating
// operations, and both forward to the Worker.
type VirtualProcess struct {
	manager *Manager
	pid     int
	command string

	mu       sync.Mutex
	exited   bool
	exitCode int

	output chan OutputEvent
	exit   chan ExitEvent
	errs   chan ErrorEvent
}

// OutputEvent is delivered for every chunk of process output.
type OutputEvent struct {
	Output  string
	IsError bool
}

// ExitEvent is delivered exactly once per process.
type ExitEvent struct {
	ExitCode int
}

// ErrorEvent is delivered for an executor or in-sandbox handler failure.
type ErrorEvent struct {
	Error string
}

func newVirtualProcess(m *Manager, pid int, command string) *VirtualProcess {
	return &VirtualProcess{
		manager: m,
		pid:     pid,
		command: command,
		output:  make(chan OutputEvent, 256),
		exit:    make(chan ExitEvent, 1),
		errs:    make(chan ErrorEvent, 64),
	}
}

// PID returns the process id this handle mirrors.
func (h *VirtualProcess) PID() int { return h.pid }

// Command returns the command this process was spawned with.
func (h *VirtualProcess) Command() string { return h.command }

// Output returns the channel of streamed output events.
func (h *VirtualProcess) Output() <-chan OutputEvent { return h.output }

// Exit returns the channel that receives exactly one ExitEvent.
func (h *VirtualProcess) Exit() <-chan ExitEvent { return h.exit }

// Errors returns the channel of executor/handler error events.
func (h *VirtualProcess) Errors() <-chan ErrorEvent { return h.errs }

func (h *VirtualProcess) emitOutput(output string, isError bool) {
	select {
	case h.output <- OutputEvent{Output: output, IsError: isError}:
	default:
	}
}

func (h *VirtualProcess) emitError(msg string) {
	select {
	case h.errs <- ErrorEvent{Error: msg}:
	default:
	}
}

// resolveExit delivers the authoritative Worker exit exactly once,
// coalescing with an optimistic Kill if one already fired.
func (h *VirtualProcess) resolveExit(exitCode int) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.exited = true
	h.exitCode = exitCode
	h.mu.Unlock()
	select {
	case h.exit <- ExitEvent{ExitCode: exitCode}:
	default:
	}
}

// Write delivers input to the process's stdin sink.
func (h *VirtualProcess) Write(ctx context.Context, input string) error {
	_, err := h.manager.bridge.Send(ctx, protocol.TypeWriteInput, protocol.WriteInputRequest{PID: h.pid, Input: input})
	return err
}

// Kill is idempotent: it sends terminate, then optimistically resolves
// exit locally with code -1. The authoritative Worker exit, if it arrives
// later, is coalesced by resolveExit.
func (h *VirtualProcess) Kill(ctx context.Context) error {
	return h.kill(ctx)
}

func (h *VirtualProcess) kill(ctx context.Context) error {
	_, err := h.manager.bridge.Send(ctx, protocol.TypeTerminate, protocol.TerminateRequest{PID: h.pid})
	h.resolveExit(-1)
	return err
}

// GetStats proxies the process's entry out of the Worker's aggregate stats.
func (h *VirtualProcess) GetStats(ctx context.Context) (protocol.ProcessStatSnapshot, error) {
	stats, err := h.manager.GetStats(ctx)
	if err != nil {
		return protocol.ProcessStatSnapshot{}, err
	}
	for _, s := range stats.Processes {
		if s.PID == h.pid {
			return s, nil
		}
	}
	return protocol.ProcessStatSnapshot{}, fmt.Errorf("process not found: %d", h.pid)
}
