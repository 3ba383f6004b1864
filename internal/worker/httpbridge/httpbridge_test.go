package httpbridge

import (
	"testing"
	"time"
)

func TestHandleHTTPRequestNoHandlerReturns404(t *testing.T) {
	b := New()
	status, _, _, err := b.HandleHTTPRequest(8080, "GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != 404 {
		t.Fatalf("want 404, got %d", status)
	}
}

func TestHandleHTTPRequestResolvesOnEnd(t *testing.T) {
	b := New()
	b.Listen(8080, func(req *IncomingMessage, res *ServerResponse) {
		res.WriteHead(201, map[string]string{"X-Test": "1"})
		res.Write([]byte("hello "))
		res.End([]byte("world"))
	})

	status, headers, body, err := b.HandleHTTPRequest(8080, "GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != 201 || string(body) != "hello world" || headers["X-Test"] != "1" {
		t.Fatalf("got status=%d body=%q headers=%v", status, body, headers)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	b := New()
	b.Listen(80, func(req *IncomingMessage, res *ServerResponse) {
		res.End([]byte("first"))
		res.End([]byte("second"))
	})
	_, _, body, err := b.HandleHTTPRequest(80, "GET", "/", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "first" {
		t.Fatalf("want first response to win, got %q", body)
	}
}

func TestHandleHTTPRequestTimesOutWithoutEnd(t *testing.T) {
	old := DefaultTimeout
	DefaultTimeout = 20 * time.Millisecond
	defer func() { DefaultTimeout = old }()

	b := New()
	b.Listen(80, func(req *IncomingMessage, res *ServerResponse) {
		// never calls End
	})

	_, _, _, err := b.HandleHTTPRequest(80, "GET", "/", nil, nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if want := "Request timeout after 20ms"; err.Error() != want {
		t.Fatalf("want %q, got %q", want, err.Error())
	}
}

func TestRequestIDsAreUnpredictable(t *testing.T) {
	a, b := requestID(), requestID()
	if a == b {
		t.Fatal("expected distinct request ids")
	}
	if len(a) < 32 {
		t.Fatalf("expected a uuid-length request id, got %q", a)
	}
}

func TestDisposeRejectsPending(t *testing.T) {
	b := New()
	b.Dispose()
	_, _, _, err := b.HandleHTTPRequest(80, "GET", "/", nil, nil)
	if err != nil {
		t.Fatalf("unregistered port with no handlers should 404, not error: %v", err)
	}

	b2 := New()
	b2.Listen(80, func(req *IncomingMessage, res *ServerResponse) {})
	errCh := make(chan error, 1)
	go func() {
		_, _, _, err := b2.HandleHTTPRequest(80, "GET", "/", nil, nil)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b2.Dispose()
	select {
	case err = <-errCh:
	case <-time.After(time.Second):
		t.Fatal("pending request was not released by Dispose")
	}
	if err == nil {
		t.Fatal("expected disposed bridge to reject a pending request")
	}
}
