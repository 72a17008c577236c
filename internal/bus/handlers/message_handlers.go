package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

type MessageHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewMessageHandlers(svc *service.Service, log *logger.Logger) *MessageHandlers {
	return &MessageHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "message-handlers")),
	}
}

func (h *MessageHandlers) Register(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/threads/:id/messages", h.listMessages)
	api.POST("/threads/:id/messages", h.postMessage)
	api.POST("/threads/:id/messages/wait", h.waitMessages)
}

func (h *MessageHandlers) postMessage(c *gin.Context) {
	var req dto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.PostMessage(c.Request.Context(), c.Param("id"), req.Author, req.Content, req.Role, req.FoldMetadata())
	if err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusCreated, dto.MessageToDTO(msg))
}

func (h *MessageHandlers) listMessages(c *gin.Context) {
	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after_seq must be an integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	includePrompt, _ := strconv.ParseBool(c.DefaultQuery("include_system_prompt", "true"))

	msgs, err := h.service.ListMessages(c.Request.Context(), c.Param("id"), afterSeq, limit, includePrompt)
	if err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": dto.MessagesToDTO(msgs)})
}

func (h *MessageHandlers) waitMessages(c *gin.Context) {
	var req dto.WaitMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	msgs, err := h.service.WaitMessages(c.Request.Context(), c.Param("id"), req.AfterSeq, timeout, req.AgentID, req.Token)
	if err != nil {
		handleError(c, h.logger, err, "thread not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": dto.MessagesToDTO(msgs)})
}
