// Package httpbridge implements the per-script-process HTTP interception
// bridge: a fake http module that lets sandboxed code call createServer and
// listen, and a handleHttpRequest entry point the NetworkManager calls to
// deliver an inbound request into that sandbox code and await res.end.
// Grounded on src/handler/network.go's request-forwarding shape plus
// src/mcp/transport.go's pending-response-by-id pattern, generalized from
// a real upstream TCP listener to an in-process handler table since the
// process being served has no real socket.
package httpbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vprocbox/vprocbox/internal/errs"
)

// DefaultTimeout is how long handleHttpRequest waits for the sandbox to
// call res.end before rejecting the request. Tests may lower it.
var DefaultTimeout = 30 * time.Second

// HighWaterMark is the advisory chunk size past which Write reports
// back-pressure to the caller.
const HighWaterMark = 16 * 1024

// IncomingMessage is the request object handed to a sandbox http handler.
type IncomingMessage struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Handler is a sandbox-registered http.createServer callback.
type Handler func(req *IncomingMessage, res *ServerResponse)

// Bridge is the per-process HTTP interception mechanism. One Bridge is
// owned by one script process for its lifetime.
type Bridge struct {
	mu       sync.Mutex
	handlers map[int][]Handler

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	disposed bool
}

type pendingRequest struct {
	ch    chan Response
	timer *time.Timer
}

// Response is the resolved HTTP response produced by a ServerResponse.end.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{
		handlers: make(map[int][]Handler),
		pending:  make(map[string]*pendingRequest),
	}
}

// Listen registers handler for port, mirroring
// http.createServer(handler).listen(port).
func (b *Bridge) Listen(port int, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[port] = append(b.handlers[port], handler)
}

// Unlisten removes every handler registered for port.
func (b *Bridge) Unlisten(port int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, port)
}

// requestID must be unguessable: it crosses into untrusted sandbox code as
// part of the pending-response correlation key.
func requestID() string {
	return uuid.NewString()
}

// HandleHTTPRequest synthesizes an IncomingMessage/ServerResponse pair,
// invokes every handler registered for port, and blocks until res.end
// resolves the request, it times out, or the bridge is disposed.
func (b *Bridge) HandleHTTPRequest(port int, method, url string, headers map[string]string, body []byte) (int, map[string]string, []byte, error) {
	b.mu.Lock()
	handlers := b.handlers[port]
	b.mu.Unlock()

	if len(handlers) == 0 {
		return 404, map[string]string{"Content-Type": "text/plain"}, []byte("not found"), nil
	}

	id := requestID()
	ch := make(chan Response, 1)
	timer := time.NewTimer(DefaultTimeout)

	b.pendingMu.Lock()
	if b.disposed {
		b.pendingMu.Unlock()
		timer.Stop()
		return 0, nil, nil, errs.New(errs.Usage, "HTTP mock disposed")
	}
	b.pending[id] = &pendingRequest{ch: ch, timer: timer}
	b.pendingMu.Unlock()

	req := &IncomingMessage{Method: method, URL: url, Headers: headers, Body: body}
	res := &ServerResponse{bridge: b, requestID: id}
	for _, h := range handlers {
		h(req, res)
	}

	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return 0, nil, nil, errs.New(errs.Usage, "HTTP mock disposed")
		}
		return resp.StatusCode, resp.Headers, resp.Body, nil
	case <-timer.C:
		b.removePending(id)
		return 0, nil, nil, errs.New(errs.Timeout, fmt.Sprintf("Request timeout after %dms", DefaultTimeout.Milliseconds()))
	}
}

func (b *Bridge) removePending(id string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if pr, ok := b.pending[id]; ok {
		pr.timer.Stop()
		delete(b.pending, id)
	}
}

// sendResponse resolves the pending request exactly once; a second or
// late call (after timeout) is silently dropped.
func (b *Bridge) sendResponse(id string, resp Response) {
	b.pendingMu.Lock()
	pr, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()
	if !ok {
		return
	}
	pr.timer.Stop()
	select {
	case pr.ch <- resp:
	default:
	}
}

// Dispose rejects every pending request with "HTTP mock disposed" and
// clears all registered handlers.
func (b *Bridge) Dispose() {
	b.pendingMu.Lock()
	b.disposed = true
	pending := b.pending
	b.pending = make(map[string]*pendingRequest)
	b.pendingMu.Unlock()

	for _, pr := range pending {
		pr.timer.Stop()
		close(pr.ch)
	}

	b.mu.Lock()
	b.handlers = make(map[int][]Handler)
	b.mu.Unlock()
}

// ServerResponse is the sandbox-visible response object. At most one end
// call takes effect; writeHead after end is a no-op; write before end
// buffers chunks.
type ServerResponse struct {
	bridge    *Bridge
	requestID string

	mu         sync.Mutex
	statusCode int
	headers    map[string]string
	buf        []byte
	ended      bool
}

// WriteHead sets the status code and headers. No-op once End has run.
func (r *ServerResponse) WriteHead(statusCode int, headers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.statusCode = statusCode
	r.headers = headers
}

// Headers returns the headers set by WriteHead.
func (r *ServerResponse) Headers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers
}

// Write appends a chunk to the response buffer, returning false when the
// chunk crosses the advisory high-water mark (back-pressure signal; the
// write still completes).
func (r *ServerResponse) Write(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return true
	}
	r.buf = append(r.buf, chunk...)
	return len(chunk) <= HighWaterMark
}

// End finalizes the response and resolves the bridge's pending request.
// Only the first call has any effect.
func (r *ServerResponse) End(chunk []byte) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	if chunk != nil {
		r.buf = append(r.buf, chunk...)
	}
	status := r.statusCode
	if status == 0 {
		status = 200
	}
	headers := r.headers
	body := append([]byte(nil), r.buf...)
	r.mu.Unlock()

	r.bridge.sendResponse(r.requestID, Response{StatusCode: status, Headers: headers, Body: body})
}
