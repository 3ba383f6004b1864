package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vprocbox/vprocbox/internal/container"
)

// ProcessHandler exposes ContainerManager's process operations over HTTP.
type ProcessHandler struct {
	*BaseHandler
	manager *container.Manager
}

// NewProcessHandler constructs a ProcessHandler bound to manager.
func NewProcessHandler(manager *container.Manager) *ProcessHandler {
	return &ProcessHandler{BaseHandler: NewBaseHandler(), manager: manager}
}

type spawnRequest struct {
	Command string            `json:"command" binding:"required"`
	Args    []string          `json:"args"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
}

type processView struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

// HandleSpawn handles POST /process.
func (h *ProcessHandler) HandleSpawn(c *gin.Context) {
	var req spawnRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}

	p, err := h.manager.Spawn(c.Request.Context(), req.Command, req.Args, req.Cwd, req.Env)
	if err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	h.SendJSON(c, http.StatusCreated, processView{PID: p.PID(), Command: p.Command()})
}

// HandleList handles GET /process.
func (h *ProcessHandler) HandleList(c *gin.Context) {
	procs := h.manager.ListProcesses()
	views := make([]processView, 0, len(procs))
	for _, p := range procs {
		views = append(views, processView{PID: p.PID(), Command: p.Command()})
	}
	h.SendJSON(c, http.StatusOK, views)
}

func (h *ProcessHandler) pidParam(c *gin.Context) (int, error) {
	return strconv.Atoi(c.Param("pid"))
}

// HandleGet handles GET /process/:pid.
func (h *ProcessHandler) HandleGet(c *gin.Context) {
	pid, err := h.pidParam(c)
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	p, ok := h.manager.GetProcess(pid)
	if !ok {
		h.SendError(c, http.StatusNotFound, errNotFound(pid))
		return
	}
	stats, err := p.GetStats(c.Request.Context())
	if err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	h.SendJSON(c, http.StatusOK, stats)
}

// HandleWriteInput handles POST /process/:pid/input.
func (h *ProcessHandler) HandleWriteInput(c *gin.Context) {
	pid, err := h.pidParam(c)
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	p, ok := h.manager.GetProcess(pid)
	if !ok {
		h.SendError(c, http.StatusNotFound, errNotFound(pid))
		return
	}
	var body struct {
		Input string `json:"input"`
	}
	if err := h.BindJSON(c, &body); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if err := p.Write(c.Request.Context(), body.Input); err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleKill handles DELETE /process/:pid.
func (h *ProcessHandler) HandleKill(c *gin.Context) {
	pid, err := h.pidParam(c)
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	p, ok := h.manager.GetProcess(pid)
	if !ok {
		h.SendError(c, http.StatusNotFound, errNotFound(pid))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := p.Kill(ctx); err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleStats handles GET /stats.
func (h *ProcessHandler) HandleStats(c *gin.Context) {
	stats, err := h.manager.GetStats(c.Request.Context())
	if err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	h.SendJSON(c, http.StatusOK, stats)
}

func errNotFound(pid int) error {
	return &notFoundError{pid: pid}
}

type notFoundError struct{ pid int }

func (e *notFoundError) Error() string { return "process not found: " + strconv.Itoa(e.pid) }
