package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

type ThreadHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewThreadHandlers(svc *service.Service, log *logger.Logger) *ThreadHandlers {
	return &ThreadHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "thread-handlers")),
	}
}

func (h *ThreadHandlers) Register(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/threads", h.createThread)
	api.GET("/threads", h.listThreads)
	api.GET("/threads/:id", h.getThread)
	api.POST("/threads/:id/state", h.setThreadState)
	api.POST("/threads/:id/close", h.closeThread)
	api.POST("/threads/:id/archive", h.archiveThread)
	api.POST("/threads/:id/unarchive", h.unarchiveThread)
	api.DELETE("/threads/:id", h.deleteThread)
}

func (h *ThreadHandlers) createThread(c *gin.Context) {
	var req dto.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread, created, err := h.service.CreateThread(c.Request.Context(), req.Topic, req.Metadata, req.SystemPrompt)
	if err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.ThreadToDTO(thread))
}

func (h *ThreadHandlers) listThreads(c *gin.Context) {
	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("include_archived", "false"))
	threads, err := h.service.ListThreads(c.Request.Context(), c.Query("status"), includeArchived)
	if err != nil {
		handleError(c, h.logger, err, "threads not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": dto.ThreadsToDTO(threads)})
}

func (h *ThreadHandlers) getThread(c *gin.Context) {
	thread, err := h.service.GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, dto.ThreadToDTO(thread))
}

func (h *ThreadHandlers) setThreadState(c *gin.Context) {
	var req dto.SetThreadStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SetThreadState(c.Request.Context(), c.Param("id"), req.State); err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ThreadHandlers) closeThread(c *gin.Context) {
	var req dto.CloseThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.CloseThread(c.Request.Context(), c.Param("id"), req.Summary); err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ThreadHandlers) archiveThread(c *gin.Context) {
	if err := h.service.ArchiveThread(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ThreadHandlers) unarchiveThread(c *gin.Context) {
	if err := h.service.UnarchiveThread(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *ThreadHandlers) deleteThread(c *gin.Context) {
	receipt, err := h.service.DeleteThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, dto.ReceiptToDTO(receipt))
}
