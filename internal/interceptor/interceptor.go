// Package interceptor implements the iframe-facing NetworkInterceptor: a
// WebSocket endpoint that lets a hosted iframe's fetch shim forward
// requests into a container and get back a synthesized response.
// Correlation is entirely independent of the Host<->Worker channel's id
// space — each pending request is keyed by the connection's uuid client id
// plus the shim's own request id, and its response is written back on the
// same connection; a response whose request is no longer pending (its
// client disconnected) is dropped. Pings are answered with pongs. The
// wire shape is a flat fetch-request/fetch-response JSON object instead of
// JSON-RPC envelopes.
package interceptor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vprocbox/vprocbox/internal/container"
)

// Requester is the subset of container.Manager the interceptor forwards
// fetch-shim requests through.
type Requester interface {
	HTTPRequest(ctx context.Context, port int, method, url string, headers map[string]string, body []byte) (Response, error)
}

// ContainerRequester adapts a *container.Manager to Requester, translating
// the Host<->Worker wire payload into this bridge's own Response shape.
type ContainerRequester struct {
	Manager *container.Manager
}

// HTTPRequest implements Requester.
func (c ContainerRequester) HTTPRequest(ctx context.Context, port int, method, url string, headers map[string]string, body []byte) (Response, error) {
	resp, err := c.Manager.HTTPRequest(ctx, port, method, url, headers, body)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: resp.Status, StatusText: resp.StatusText, Headers: resp.Headers, Body: resp.Body}, nil
}

// Response mirrors protocol.HTTPResponsePayload without importing the
// Host<->Worker wire package, since this bridge's id space and lifetime
// are unrelated to it.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// FetchRequest is what the iframe's fetch shim sends over the socket.
type FetchRequest struct {
	RequestID string            `json:"requestId"`
	Port      int               `json:"port"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body"`
}

// FetchResponse is the reply the shim resolves its Promise from.
type FetchResponse struct {
	RequestID string   `json:"requestId"`
	Response  Response `json:"response,omitempty"`
	Error     string   `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const pendingTimeout = 30 * time.Second

type clientConn struct {
	id   string
	conn *websocket.Conn
}

// Interceptor installs the websocket endpoint and forwards every fetch
// request it receives to a Requester, replying on the same connection.
type Interceptor struct {
	requester Requester

	mu      sync.RWMutex
	clients map[string]*clientConn

	pendingMu sync.Mutex
	pending   map[string]chan FetchResponse // keyed "clientId:requestId"
}

// New builds an Interceptor forwarding requests through requester.
func New(requester Requester) *Interceptor {
	return &Interceptor{
		requester: requester,
		clients:   make(map[string]*clientConn),
		pending:   make(map[string]chan FetchResponse),
	}
}

// Register installs the GET /intercept websocket endpoint on r.
func (in *Interceptor) Register(r gin.IRouter) {
	r.GET("/intercept", in.handleUpgrade)
}

func (in *Interceptor) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New().String()
	cc := &clientConn{id: id, conn: conn}

	in.mu.Lock()
	in.clients[id] = cc
	in.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	logrus.WithField("client", id).Info("interceptor client connected")

	defer func() {
		conn.Close()
		in.mu.Lock()
		delete(in.clients, id)
		in.mu.Unlock()
		in.cleanupClient(id)
		logrus.WithField("client", id).Info("interceptor client disconnected")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		in.handleMessage(id, data)
	}
}

func (in *Interceptor) handleMessage(clientID string, data []byte) {
	var req FetchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logrus.WithError(err).Warn("interceptor: malformed fetch request")
		return
	}

	ch := make(chan FetchResponse, 1)
	key := clientID + ":" + req.RequestID
	in.pendingMu.Lock()
	in.pending[key] = ch
	in.pendingMu.Unlock()

	go in.serve(clientID, key, req, ch)
}

func (in *Interceptor) serve(clientID, key string, req FetchRequest, ch chan FetchResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), pendingTimeout)
	defer cancel()

	resp, err := in.requester.HTTPRequest(ctx, req.Port, req.Method, req.URL, req.Headers, req.Body)

	in.pendingMu.Lock()
	_, stillPending := in.pending[key]
	delete(in.pending, key)
	in.pendingMu.Unlock()
	if !stillPending {
		return
	}

	fr := FetchResponse{RequestID: req.RequestID}
	if err != nil {
		fr.Error = err.Error()
	} else {
		fr.Response = resp
	}

	select {
	case ch <- fr:
	default:
	}
	in.send(clientID, fr)
}

func (in *Interceptor) send(clientID string, fr FetchResponse) {
	in.mu.RLock()
	cc, ok := in.clients[clientID]
	in.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(fr)
	if err != nil {
		logrus.WithError(err).Warn("interceptor: failed to marshal fetch response")
		return
	}
	if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logrus.WithError(err).Warn("interceptor: failed to write fetch response")
	}
}

func (in *Interceptor) cleanupClient(clientID string) {
	in.pendingMu.Lock()
	defer in.pendingMu.Unlock()
	prefix := clientID + ":"
	for key, ch := range in.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			close(ch)
			delete(in.pending, key)
		}
	}
}

// ClientCount reports how many iframe connections are currently live.
func (in *Interceptor) ClientCount() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.clients)
}
