// Package jsruntime declares the scripting-engine capability the script
// executor depends on. The concrete engine is an opaque external
// collaborator that this system never constructs itself, so this package
// holds only the interface plus a minimal in-repo fake used by tests and by
// the Worker as the script executor's runtime.
package jsruntime

import (
	"context"
	"sync"
)

// Handle is anything obtained from a Runtime that must be released on every
// exit path.
type Handle interface {
	Release()
}

// Runtime is the capability a script process owns for its lifetime: it can
// evaluate the process's program text and expose host functions (like the
// http/net module shims) to it.
type Runtime interface {
	// Eval runs source in the runtime's global scope. It blocks until the
	// script either returns, registers a long-lived listener (e.g. calls
	// http.createServer(...).listen(...)), or errors.
	Eval(ctx context.Context, source string) error

	// Bind exposes a host function to sandboxed code under name. Handlers
	// registered through a bound function (e.g. an HTTP request callback)
	// are invoked synchronously from the Worker's goroutine, matching the
	// single-threaded cooperative model.
	Bind(name string, fn func(args ...any) (any, error)) Handle

	// Dispose releases every resource the runtime holds. Called exactly
	// once by the owning executor on process termination.
	Dispose()
}

// boundFunc is a Handle wrapping a release callback.
type boundFunc struct {
	release func()
}

func (b *boundFunc) Release() {
	if b.release != nil {
		b.release()
	}
}

// Fake is a Runtime double good enough to drive the http/net module shim
// and unit tests without a real scripting engine. It does not parse
// `source`; callers that need scripted behavior register it directly via
// Bind or by calling the registered handlers from test code.
type Fake struct {
	mu    sync.Mutex
	bound map[string]func(args ...any) (any, error)
}

// NewFake constructs an empty Fake runtime.
func NewFake() *Fake {
	return &Fake{bound: make(map[string]func(args ...any) (any, error))}
}

func (f *Fake) Eval(ctx context.Context, source string) error {
	return nil
}

func (f *Fake) Bind(name string, fn func(args ...any) (any, error)) Handle {
	f.mu.Lock()
	f.bound[name] = fn
	f.mu.Unlock()
	return &boundFunc{release: func() {
		f.mu.Lock()
		delete(f.bound, name)
		f.mu.Unlock()
	}}
}

// Call invokes a previously bound function, standing in for sandboxed code
// calling it; tests use it to drive bound functions such as __listen.
func (f *Fake) Call(name string, args ...any) (any, error) {
	f.mu.Lock()
	fn, ok := f.bound[name]
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return fn(args...)
}

func (f *Fake) Dispose() {
	f.mu.Lock()
	f.bound = nil
	f.mu.Unlock()
}
