// Package script implements the scripting-runtime process executor: it
// owns a jsruntime.Runtime for the lifetime of the process and binds the
// fake http/net module surface (httpbridge, network.Manager) into it so
// sandboxed code can call http.createServer(...).listen(port). The runtime
// itself is treated as an opaque collaborator (internal/worker/jsruntime)
// since no JS engine is vendored by this corpus.
package script

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/vprocbox/vprocbox/internal/worker/httpbridge"
	"github.com/vprocbox/vprocbox/internal/worker/jsruntime"
	"github.com/vprocbox/vprocbox/internal/worker/network"
	"github.com/vprocbox/vprocbox/internal/worker/process"
)

// Registrar is the subset of network.Manager a script executor needs to
// register and unregister the servers it creates.
type Registrar interface {
	RegisterServer(pid, port int, t network.ServerType, opts network.ServerOptions) error
	UnregisterProcess(pid int)
}

// RuntimeFactory builds a fresh jsruntime.Runtime for one process.
type RuntimeFactory func() jsruntime.Runtime

// Factory returns a process.ExecutorFactory for script processes: any
// command ending in a scripting-file extension is eligible. Register this
// before the shell catch-all factory.
func Factory(newRuntime RuntimeFactory, registrar Registrar, bridges *BridgeRegistry) process.ExecutorFactory {
	return process.ExecutorFactory{
		CanExecute: func(command string) bool { return isScript(command) },
		New:        func(pid int) process.Executor { return newExecutor(pid, newRuntime, registrar, bridges) },
	}
}

func isScript(command string) bool {
	for _, ext := range []string{".js", ".mjs", ".ts"} {
		if len(command) >= len(ext) && command[len(command)-len(ext):] == ext {
			return true
		}
	}
	return false
}

// BridgeRegistry hands out one httpbridge.Bridge per pid so the
// NetworkManager's resolver (internal/worker/network.ProcessResolver) can
// find the bridge owning a given process's HTTP listeners.
type BridgeRegistry struct {
	mu      sync.RWMutex
	bridges map[int]*httpbridge.Bridge
}

// NewBridgeRegistry creates an empty registry.
func NewBridgeRegistry() *BridgeRegistry {
	return &BridgeRegistry{bridges: make(map[int]*httpbridge.Bridge)}
}

func (r *BridgeRegistry) put(pid int, b *httpbridge.Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[pid] = b
}

func (r *BridgeRegistry) remove(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, pid)
}

// ResolveHTTPHandler implements network.ProcessResolver.
func (r *BridgeRegistry) ResolveHTTPHandler(pid int) (network.RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[pid]
	return b, ok
}

type executor struct {
	newRuntime RuntimeFactory
	registrar  Registrar
	bridges    *BridgeRegistry

	runtime jsruntime.Runtime
	bridge  *httpbridge.Bridge
	pid     int

	mu     sync.Mutex
	killed bool
	done   chan struct{}
}

func newExecutor(pid int, newRuntime RuntimeFactory, registrar Registrar, bridges *BridgeRegistry) *executor {
	e := &executor{pid: pid, newRuntime: newRuntime, registrar: registrar, bridges: bridges, bridge: httpbridge.New(), done: make(chan struct{})}
	if bridges != nil {
		bridges.put(pid, e.bridge)
	}
	return e
}

func (e *executor) CanExecute(command string) bool { return isScript(command) }
func (e *executor) Kind() process.Kind             { return process.KindScript }

// Start binds a fresh runtime, exposes the http module shim, passes the
// command string itself to Eval as the script source (no file is read
// from the virtual filesystem), and blocks until Kill releases it —
// matching a script process that stays alive to serve the HTTP listeners
// it registered.
func (e *executor) Start(ctx context.Context, command string, args []string, cwd string, env map[string]string, stdout, stderr io.Writer) error {
	e.runtime = e.newRuntime()

	release := e.runtime.Bind("__listen", func(a ...any) (any, error) {
		if len(a) < 1 {
			return nil, fmt.Errorf("listen requires a port")
		}
		port, ok := a[0].(int)
		if !ok {
			return nil, fmt.Errorf("listen port must be an int")
		}
		if len(a) >= 2 {
			handler, ok := a[1].(func(args ...any) (any, error))
			if !ok {
				return nil, fmt.Errorf("listen handler must be a function")
			}
			e.bridge.Listen(port, jsHandler(handler))
		}
		if e.registrar != nil {
			if err := e.registrar.RegisterServer(e.pid, port, network.TypeHTTP, network.ServerOptions{}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	defer release.Release()

	if err := e.runtime.Eval(ctx, command); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return nil
	}
}

// jsHandler adapts a bound JS-side callback (the shape every value Bind
// hands across the runtime boundary takes, including a function argument
// passed into another bound call) into an httpbridge.Handler. The sandbox
// handler is expected to write its response through res.WriteHead/Write/End
// itself; if it returns an error instead, that becomes a 500.
func jsHandler(fn func(args ...any) (any, error)) httpbridge.Handler {
	return func(req *httpbridge.IncomingMessage, res *httpbridge.ServerResponse) {
		if _, err := fn(req, res); err != nil {
			res.WriteHead(http.StatusInternalServerError, map[string]string{"Content-Type": "text/plain"})
			res.End([]byte(err.Error()))
		}
	}
}

func (e *executor) WriteStdin(input string) error {
	return nil
}

func (e *executor) Kill() error {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return nil
	}
	e.killed = true
	e.mu.Unlock()
	close(e.done)

	e.bridge.Dispose()
	if e.registrar != nil {
		e.registrar.UnregisterProcess(e.pid)
	}
	if e.bridges != nil {
		e.bridges.remove(e.pid)
	}
	if e.runtime != nil {
		e.runtime.Dispose()
	}
	return nil
}
