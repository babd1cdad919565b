package handler

import (
	"math"
	"strconv"
	"time"

	"webhook-delivery-engine/internal/adapter/http/dto"
	"webhook-delivery-engine/internal/core/domain"
	"webhook-delivery-engine/internal/core/ports"
	"webhook-delivery-engine/pkg/apperror"
	"webhook-delivery-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EndpointHandler handles the dashboard read endpoints and manual test
// sends.
type EndpointHandler struct {
	reportingSvc ports.ReportingService
	executor     ports.DeliveryExecutor
}

// NewEndpointHandler creates a new EndpointHandler.
func NewEndpointHandler(reportingSvc ports.ReportingService, executor ports.DeliveryExecutor) *EndpointHandler {
	return &EndpointHandler{reportingSvc: reportingSvc, executor: executor}
}

// ListByScope handles GET /api/v1/scopes/:scope_id/endpoints.
func (h *EndpointHandler) ListByScope(c *gin.Context) {
	scopeID, err := strconv.ParseInt(c.Param("scope_id"), 10, 64)
	if err != nil || scopeID <= 0 {
		response.Error(c, apperror.Validation("scope_id must be a positive integer"))
		return
	}

	overviews, err := h.reportingSvc.ListEndpoints(c.Request.Context(), scopeID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.EndpointResponse, 0, len(overviews))
	for i := range overviews {
		items = append(items, toEndpointResponse(&overviews[i]))
	}
	response.OK(c, items)
}

// Get handles GET /api/v1/endpoints/:id.
func (h *EndpointHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	overview, err := h.reportingSvc.GetEndpoint(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEndpointResponse(overview))
}

// ListAttempts handles GET /api/v1/endpoints/:id/attempts.
func (h *EndpointHandler) ListAttempts(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	attempts, total, err := h.reportingSvc.ListAttempts(c.Request.Context(), id, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.AttemptResponse, 0, len(attempts))
	for i := range attempts {
		items = append(items, toAttemptResponse(&attempts[i]))
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	response.OK(c, dto.AttemptListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// SendTest handles POST /api/v1/endpoints/:id/test. The delivery runs
// synchronously so the operator sees the immediate outcome.
func (h *EndpointHandler) SendTest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	attempt, err := h.executor.SendTest(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toAttemptResponse(attempt))
}

func toEndpointResponse(o *ports.EndpointOverview) dto.EndpointResponse {
	resp := dto.EndpointResponse{
		ID:               o.ID.String(),
		URL:              o.URL,
		SubscribedEvents: o.SubscribedEvents,
		Active:           o.Active,
		SuccessCount:     o.SuccessCount,
		FailureCount:     o.FailureCount,
		LastDeliveryAt:   o.LastDeliveryAt,
	}
	if o.LastDeliveryStatus != nil {
		s := string(*o.LastDeliveryStatus)
		resp.LastDeliveryStatus = &s
	}
	return resp
}

func toAttemptResponse(a *domain.DeliveryAttempt) dto.AttemptResponse {
	resp := dto.AttemptResponse{
		ID:              a.ID.String(),
		EventType:       a.EventType,
		Status:          string(a.Status),
		ResponseStatus:  a.ResponseStatus,
		ResponseExcerpt: a.ResponseExcerpt,
		LastError:       a.LastError,
		RetryCount:      a.RetryCount,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.NextRetryAt != nil {
		ts := a.NextRetryAt.Unix()
		resp.NextRetryAt = &ts
	}
	if a.DeliveredAt != nil {
		s := a.DeliveredAt.UTC().Format(time.RFC3339)
		resp.DeliveredAt = &s
	}
	return resp
}
