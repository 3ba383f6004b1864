package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vprocbox/vprocbox/internal/container"
)

// FileSystemHandler exposes ContainerManager's filesystem pass-throughs.
type FileSystemHandler struct {
	*BaseHandler
	manager *container.Manager
}

// NewFileSystemHandler constructs a FileSystemHandler bound to manager.
func NewFileSystemHandler(manager *container.Manager) *FileSystemHandler {
	return &FileSystemHandler{BaseHandler: NewBaseHandler(), manager: manager}
}

// HandleGetFile handles GET /filesystem/*path.
func (h *FileSystemHandler) HandleGetFile(c *gin.Context) {
	content, err := h.manager.ReadFile(c.Request.Context(), c.Param("path"))
	if err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}

// HandleWriteFile handles PUT /filesystem/*path.
func (h *FileSystemHandler) HandleWriteFile(c *gin.Context) {
	content, err := c.GetRawData()
	if err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.manager.WriteFile(c.Request.Context(), c.Param("path"), content); err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDeleteFile handles DELETE /filesystem/*path.
func (h *FileSystemHandler) HandleDeleteFile(c *gin.Context) {
	recursive := c.Query("recursive") == "true"
	if err := h.manager.DeleteFile(c.Request.Context(), c.Param("path"), recursive); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListFiles handles GET /filesystem-list/*path.
func (h *FileSystemHandler) HandleListFiles(c *gin.Context) {
	files, err := h.manager.ListFiles(c.Request.Context(), c.Param("path"))
	if err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	h.SendJSON(c, http.StatusOK, gin.H{"files": files})
}

// HandleCreateDirectory handles POST /directory/*path.
func (h *FileSystemHandler) HandleCreateDirectory(c *gin.Context) {
	if err := h.manager.CreateDirectory(c.Request.Context(), c.Param("path")); err != nil {
		h.SendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusCreated)
}

// HandleListDirectory handles GET /directory/*path.
func (h *FileSystemHandler) HandleListDirectory(c *gin.Context) {
	dir, err := h.manager.ListDirectory(c.Request.Context(), c.Param("path"))
	if err != nil {
		h.SendError(c, http.StatusNotFound, err)
		return
	}
	h.SendJSON(c, http.StatusOK, dir)
}

// HandleDeleteDirectory handles DELETE /directory/*path.
func (h *FileSystemHandler) HandleDeleteDirectory(c *gin.Context) {
	recursive := c.Query("recursive") == "true"
	if err := h.manager.DeleteDirectory(c.Request.Context(), c.Param("path"), recursive); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	c.Status(http.StatusNoContent)
}
