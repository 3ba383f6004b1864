// Package bridge implements the host side of the Host<->Worker message
// channel: request/response correlation by id, per-call timeouts, and
// dispose semantics. It is grounded on src/mcp/transport.go's
// WebSocketTransport, which keeps exactly this shape (a map of pending
// response channels keyed by a correlation id, with a context timeout
// around the wait) for a websocket+JSON-RPC transport; here the transport
// is two Go channels instead of a socket, but the correlation discipline is
// the same.
package bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vprocbox/vprocbox/internal/errs"
	"github.com/vprocbox/vprocbox/internal/protocol"
)

// DefaultTimeout is applied to every request unless overridden.
const DefaultTimeout = 30 * time.Second

type pendingRequest struct {
	ch chan protocol.Envelope
}

// WorkerBridge owns the Host's end of the channel pair to a Worker. All of
// its state is private to the Host domain; the Worker never reaches into
// it, only ever writes to workerToHost.
type WorkerBridge struct {
	hostToWorker chan<- protocol.Envelope
	workerToHost <-chan protocol.Envelope

	mu             sync.Mutex
	nextID         int64
	pending        map[string]*pendingRequest
	disposed       bool
	defaultTimeout time.Duration

	broadcastMu sync.RWMutex
	broadcast   []func(protocol.Envelope)

	stop chan struct{}
	done chan struct{}
}

// New creates a WorkerBridge over an already-connected pair of channels and
// starts its receive loop. hostToWorker is written to send requests;
// workerToHost is read to dispatch responses and events.
func New(hostToWorker chan<- protocol.Envelope, workerToHost <-chan protocol.Envelope) *WorkerBridge {
	b := &WorkerBridge{
		hostToWorker:   hostToWorker,
		workerToHost:   workerToHost,
		pending:        make(map[string]*pendingRequest),
		defaultTimeout: DefaultTimeout,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go b.receiveLoop()
	return b
}

// OnEvent registers a broadcast handler invoked for every unsolicited
// worker event, and also for any response whose id does not match a
// pending request.
func (b *WorkerBridge) OnEvent(handler func(protocol.Envelope)) {
	b.broadcastMu.Lock()
	defer b.broadcastMu.Unlock()
	b.broadcast = append(b.broadcast, handler)
}

func (b *WorkerBridge) receiveLoop() {
	defer close(b.done)
	for {
		select {
		case env, ok := <-b.workerToHost:
			if !ok {
				return
			}
			b.dispatch(env)
		case <-b.stop:
			return
		}
	}
}

func (b *WorkerBridge) dispatch(env protocol.Envelope) {
	if !env.HasID() {
		b.emit(env)
		return
	}

	b.mu.Lock()
	pr, ok := b.pending[env.ID]
	if ok {
		delete(b.pending, env.ID)
	}
	b.mu.Unlock()

	if !ok {
		// Late reply after timeout, or a response to an id we never
		// issued. There is no pending call left to deliver it to, but
		// broadcast handlers still get a look.
		b.emit(env)
		return
	}

	select {
	case pr.ch <- env:
	default:
	}
}

func (b *WorkerBridge) emit(env protocol.Envelope) {
	b.broadcastMu.RLock()
	handlers := append([]func(protocol.Envelope){}, b.broadcast...)
	b.broadcastMu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

// Send issues a correlated request and waits for its matching response or
// the default timeout, whichever comes first.
func (b *WorkerBridge) Send(ctx context.Context, msgType string, payload any) (protocol.Envelope, error) {
	return b.SendTimeout(ctx, msgType, payload, b.defaultTimeout)
}

// SendTimeout is Send with an explicit per-call timeout.
func (b *WorkerBridge) SendTimeout(ctx context.Context, msgType string, payload any, timeout time.Duration) (protocol.Envelope, error) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return protocol.Envelope{}, errs.Disposed
	}
	b.nextID++
	id := strconv.FormatInt(b.nextID, 10)
	pr := &pendingRequest{ch: make(chan protocol.Envelope, 1)}
	b.pending[id] = pr
	b.mu.Unlock()

	env := protocol.Envelope{Type: msgType, ID: id, Payload: payload}
	select {
	case b.hostToWorker <- env:
	case <-ctx.Done():
		b.removePending(id)
		return protocol.Envelope{}, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pr.ch:
		if resp.Type == protocol.TypeError {
			if er, ok := resp.Payload.(protocol.ErrorResponse); ok {
				return resp, errs.New(errs.Usage, er.Error)
			}
			return resp, errs.New(errs.Usage, "unknown worker error")
		}
		return resp, nil
	case <-timer.C:
		b.removePending(id)
		return protocol.Envelope{}, errs.Newf(errs.Timeout, "Request timeout after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		b.removePending(id)
		return protocol.Envelope{}, ctx.Err()
	case <-b.done:
		return protocol.Envelope{}, errs.New(errs.Usage, "worker disposed")
	}
}

func (b *WorkerBridge) removePending(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Dispose rejects every pending request with "worker disposed", stops the
// receive loop and prevents further sends. Idempotent.
func (b *WorkerBridge) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	pending := b.pending
	b.pending = make(map[string]*pendingRequest)
	b.mu.Unlock()

	for _, pr := range pending {
		select {
		case pr.ch <- protocol.Envelope{Type: protocol.TypeError, Payload: protocol.ErrorResponse{Error: "worker disposed"}}:
		default:
		}
	}

	close(b.stop)
	<-b.done
	logrus.Debug("worker bridge disposed")
}
