package handler

import (
	"webhook-delivery-engine/internal/adapter/http/dto"
	"webhook-delivery-engine/internal/core/domain"
	"webhook-delivery-engine/internal/core/ports"
	"webhook-delivery-engine/pkg/apperror"
	"webhook-delivery-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// EventHandler handles event ingestion from producer services.
type EventHandler struct {
	dispatcher ports.Dispatcher
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(dispatcher ports.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

// Ingest handles POST /api/v1/events. The 202 response only acknowledges
// that delivery attempts were enqueued; delivery outcomes are visible on
// the dashboard, never here.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	event := domain.Event{
		Type:    req.Type,
		ScopeID: req.ScopeID,
		Data:    req.Data,
	}

	if err := h.dispatcher.Dispatch(c.Request.Context(), event); err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.EventAcceptedResponse{
		EventType: req.Type,
		ScopeID:   req.ScopeID,
	})
}
