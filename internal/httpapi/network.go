package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vprocbox/vprocbox/internal/container"
)

// NetworkHandler exposes the NetworkManager surface an embedder can drive
// without the iframe fetch shim: injecting requests directly and listing
// bound servers.
type NetworkHandler struct {
	*BaseHandler
	manager *container.Manager
}

// NewNetworkHandler constructs a NetworkHandler bound to manager.
func NewNetworkHandler(manager *container.Manager) *NetworkHandler {
	return &NetworkHandler{BaseHandler: NewBaseHandler(), manager: manager}
}

type httpRequestBody struct {
	Port    int               `json:"port" binding:"required"`
	Method  string            `json:"method" binding:"required"`
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// HandleHTTPRequest handles POST /network/http.
func (h *NetworkHandler) HandleHTTPRequest(c *gin.Context) {
	var req httpRequestBody
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	resp, err := h.manager.HTTPRequest(c.Request.Context(), req.Port, req.Method, req.URL, req.Headers, req.Body)
	if err != nil {
		h.SendError(c, http.StatusBadGateway, err)
		return
	}
	h.SendJSON(c, http.StatusOK, resp)
}

// HandleListServers handles GET /network/servers.
func (h *NetworkHandler) HandleListServers(c *gin.Context) {
	ports, err := h.manager.ListServers(c.Request.Context())
	if err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	h.SendJSON(c, http.StatusOK, gin.H{"ports": ports})
}
