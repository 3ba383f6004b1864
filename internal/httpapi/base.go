// Package httpapi is the demonstration HTTP control plane for a container:
// a thin gin layer translating REST requests into container.Manager calls,
// giving an embedder something to curl instead of linking the library
// in-process.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BaseHandler provides the response helpers every resource handler shares.
type BaseHandler struct{}

// NewBaseHandler constructs a BaseHandler.
func NewBaseHandler() *BaseHandler { return &BaseHandler{} }

// ErrorResponse is the JSON body returned for any failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SendError writes a standardized error response.
func (h *BaseHandler) SendError(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// SendJSON writes data as the response body with the given status.
func (h *BaseHandler) SendJSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// BindJSON binds the request body into obj, wrapping bind failures.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// HandleWelcome answers the root route with a minimal liveness payload.
func (h *BaseHandler) HandleWelcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "vprocboxd", "status": "ok"})
}
