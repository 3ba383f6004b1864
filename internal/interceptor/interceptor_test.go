package interceptor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeRequester struct {
	resp Response
	err  error
}

func (f fakeRequester) HTTPRequest(ctx context.Context, port int, method, url string, headers map[string]string, body []byte) (Response, error) {
	return f.resp, f.err
}

func startServer(t *testing.T, in *Interceptor) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	in.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/intercept"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFetchRequestResolvesWithResponse(t *testing.T) {
	in := New(fakeRequester{resp: Response{Status: 200, StatusText: "OK", Headers: map[string]string{"x": "y"}, Body: []byte("hi")}})
	srv := startServer(t, in)
	conn := dial(t, srv)

	req := FetchRequest{RequestID: "r1", Port: 3000, Method: "GET", URL: "/"}
	data, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var fr FetchResponse
	if err := json.Unmarshal(raw, &fr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fr.RequestID != "r1" || fr.Response.Status != 200 || string(fr.Response.Body) != "hi" {
		t.Fatalf("unexpected response: %+v", fr)
	}
}

func TestFetchRequestSurfacesError(t *testing.T) {
	in := New(fakeRequester{err: context.DeadlineExceeded})
	srv := startServer(t, in)
	conn := dial(t, srv)

	req := FetchRequest{RequestID: "r2", Port: 3000, Method: "GET", URL: "/"}
	data, _ := json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, data)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var fr FetchResponse
	json.Unmarshal(raw, &fr)
	if fr.Error == "" {
		t.Fatalf("expected an error field, got %+v", fr)
	}
}

func TestClientCountTracksConnections(t *testing.T) {
	in := New(fakeRequester{})
	srv := startServer(t, in)
	if in.ClientCount() != 0 {
		t.Fatalf("expected 0 clients before connecting")
	}
	conn := dial(t, srv)
	time.Sleep(50 * time.Millisecond)
	if in.ClientCount() != 1 {
		t.Fatalf("expected 1 client after connecting, got %d", in.ClientCount())
	}
	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if in.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after disconnect, got %d", in.ClientCount())
	}
}
