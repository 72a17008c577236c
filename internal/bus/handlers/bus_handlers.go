package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentchatbus/agentchatbus/internal/bus/dto"
	"github.com/agentchatbus/agentchatbus/internal/bus/service"
	"github.com/agentchatbus/agentchatbus/internal/common/config"
	"github.com/agentchatbus/agentchatbus/internal/common/logger"
)

type BusHandlers struct {
	service *service.Service
	logger  *logger.Logger
}

func NewBusHandlers(svc *service.Service, log *logger.Logger) *BusHandlers {
	return &BusHandlers{
		service: svc,
		logger:  log.WithFields(zap.String("component", "bus-handlers")),
	}
}

func (h *BusHandlers) Register(router *gin.Engine) {
	router.GET("/healthz", h.health)
	api := router.Group("/api/v1")
	api.GET("/bus/config", h.busConfig)
	api.GET("/events", h.listEvents)
}

func (h *BusHandlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": config.Version})
}

func (h *BusHandlers) busConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.BusConfig(c.Query("lang")))
}

func (h *BusHandlers) listEvents(c *gin.Context) {
	afterID, err := strconv.ParseInt(c.DefaultQuery("after_id", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after_id must be an integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	events, err := h.service.EventsSince(c.Request.Context(), afterID, limit)
	if err != nil {
		handleError(c, h.logger, err, "events not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": dto.EventsToDTO(events)})
}
