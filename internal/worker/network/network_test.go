package network

import (
	"testing"
	"time"
)

type fakeHandler struct {
	status int
	body   []byte
	err    error
}

func (h *fakeHandler) HandleHTTPRequest(port int, method, url string, headers map[string]string, body []byte) (int, map[string]string, []byte, error) {
	return h.status, map[string]string{"Content-Type": "text/plain"}, h.body, h.err
}

type fakeResolver struct {
	handlers map[int]RequestHandler
}

func (r *fakeResolver) ResolveHTTPHandler(pid int) (RequestHandler, bool) {
	h, ok := r.handlers[pid]
	return h, ok
}

func TestRegisterServerRejectsDuplicatePort(t *testing.T) {
	m := New(&fakeResolver{handlers: map[int]RequestHandler{}}, nil, nil)
	defer m.Close()

	if err := m.RegisterServer(1, 8080, TypeHTTP, ServerOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterServer(2, 8080, TypeHTTP, ServerOptions{}); err == nil {
		t.Fatal("expected duplicate (port,type) registration to fail")
	}
}

func TestHandleRequestRoutesToOwningProcess(t *testing.T) {
	resolver := &fakeResolver{handlers: map[int]RequestHandler{}}
	resolver.handlers[7] = &fakeHandler{status: 200, body: []byte("ok")}
	m := New(resolver, nil, nil)
	defer m.Close()

	if err := m.RegisterServer(7, 3000, TypeHTTP, ServerOptions{}); err != nil {
		t.Fatal(err)
	}
	status, _, body := m.HandleRequest("GET", "/", nil, nil, 3000)
	if status != 200 || string(body) != "ok" {
		t.Fatalf("got status=%d body=%q", status, body)
	}

	stats := m.GetNetworkStats()
	if stats.RequestsTotal != 1 || stats.RequestsSuccess != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleRequestUnregisteredPortReturns503(t *testing.T) {
	m := New(&fakeResolver{handlers: map[int]RequestHandler{}}, nil, nil)
	defer m.Close()

	status, _, _ := m.HandleRequest("GET", "/", nil, nil, 9999)
	if status != 503 {
		t.Fatalf("want 503, got %d", status)
	}
}

func TestGetNetworkStatsDropsOutOfWindowRequests(t *testing.T) {
	resolver := &fakeResolver{handlers: map[int]RequestHandler{}}
	resolver.handlers[7] = &fakeHandler{status: 200, body: []byte("ok")}
	m := New(resolver, nil, nil)
	defer m.Close()

	if err := m.RegisterServer(7, 3000, TypeHTTP, ServerOptions{}); err != nil {
		t.Fatal(err)
	}
	m.HandleRequest("GET", "/", nil, nil, 3000)

	m.logMu.Lock()
	m.log[0].at = time.Now().Add(-10 * time.Minute)
	m.logMu.Unlock()

	stats := m.GetNetworkStats()
	if stats.RequestsTotal != 0 {
		t.Fatalf("expected a stale log entry to drop out of the retained window, got %+v", stats)
	}
}

func TestUnregisterProcessRemovesAllItsServers(t *testing.T) {
	var closedPorts []int
	m := New(&fakeResolver{handlers: map[int]RequestHandler{}}, nil, func(port int) {
		closedPorts = append(closedPorts, port)
	})
	defer m.Close()

	_ = m.RegisterServer(5, 100, TypeHTTP, ServerOptions{})
	_ = m.RegisterServer(5, 101, TypeTCP, ServerOptions{})
	_ = m.RegisterServer(6, 102, TypeHTTP, ServerOptions{})

	m.UnregisterProcess(5)

	if len(m.ListPorts()) != 1 {
		t.Fatalf("want 1 remaining port, got %v", m.ListPorts())
	}
	if len(closedPorts) != 2 {
		t.Fatalf("want 2 onClose callbacks, got %v", closedPorts)
	}
}
