package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

type AgentHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewAgentHandlers(svc *service.Service, log *logger.Logger) *AgentHandlers {
	return &AgentHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "agent-handlers")),
	}
}

func (h *AgentHandlers) Register(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/agents/register", h.registerAgent)
	api.POST("/agents/heartbeat", h.heartbeatAgent)
	api.POST("/agents/resume", h.resumeAgent)
	api.POST("/agents/unregister", h.unregisterAgent)
	api.POST("/agents/alias", h.setAlias)
	api.POST("/agents/typing", h.setTyping)
	api.GET("/agents", h.listAgents)
	api.GET("/agents/:id", h.getAgent)
}

func (h *AgentHandlers) registerAgent(c *gin.Context) {
	var req dto.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.service.RegisterAgent(c.Request.Context(), req.IDE, req.Model, req.Description, req.Capabilities, req.DisplayName)
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	// The only response that ever carries the token.
	c.JSON(http.StatusCreated, dto.AgentToDTO(agent))
}

func (h *AgentHandlers) heartbeatAgent(c *gin.Context) {
	var req dto.AgentCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.HeartbeatAgent(c.Request.Context(), req.AgentID, req.Token); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) resumeAgent(c *gin.Context) {
	var req dto.AgentCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agent, err := h.service.ResumeAgent(c.Request.Context(), req.AgentID, req.Token)
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, dto.AgentToDTO(agent))
}

func (h *AgentHandlers) unregisterAgent(c *gin.Context) {
	var req dto.AgentCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.UnregisterAgent(c.Request.Context(), req.AgentID, req.Token); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) setAlias(c *gin.Context) {
	var req dto.SetAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SetAgentAlias(c.Request.Context(), req.AgentID, req.Token, req.DisplayName); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) setTyping(c *gin.Context) {
	var req dto.SetTypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SetAgentTyping(c.Request.Context(), req.AgentID, req.ThreadID, req.Typing); err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AgentHandlers) listAgents(c *gin.Context) {
	agents, err := h.service.ListAgents(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, err, "agents not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": dto.AgentsToDTO(agents)})
}

func (h *AgentHandlers) getAgent(c *gin.Context) {
	agent, err := h.service.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err, "agent not found")
		return
	}
	out := dto.AgentToDTO(agent)
	out.Token = ""
	c.JSON(http.StatusOK, out)
}
