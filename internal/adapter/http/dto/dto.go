package dto

// IngestEventRequest is the request body for event ingestion.
type IngestEventRequest struct {
	Type    string         `json:"type" binding:"required,event_type"`
	ScopeID int64          `json:"scope_id" binding:"required,gt=0"`
	Data    map[string]any `json:"data"`
}

// EventAcceptedResponse is the response body for accepted events.
type EventAcceptedResponse struct {
	EventType string `json:"event_type"`
	ScopeID   int64  `json:"scope_id"`
}

// EndpointResponse is one endpoint row on the dashboard.
type EndpointResponse struct {
	ID                 string   `json:"id"`
	URL                string   `json:"url"`
	SubscribedEvents   []string `json:"subscribed_events"`
	Active             bool     `json:"active"`
	SuccessCount       int64    `json:"success_count"`
	FailureCount       int64    `json:"failure_count"`
	LastDeliveryAt     *int64   `json:"last_delivery_at,omitempty"` // Unix timestamp
	LastDeliveryStatus *string  `json:"last_delivery_status,omitempty"`
}

// AttemptResponse is one delivery attempt in the endpoint's history.
type AttemptResponse struct {
	ID              string  `json:"id"`
	EventType       string  `json:"event_type"`
	Status          string  `json:"status"`
	ResponseStatus  *int    `json:"response_status,omitempty"`
	ResponseExcerpt *string `json:"response_excerpt,omitempty"`
	LastError       *string `json:"last_error,omitempty"`
	RetryCount      int     `json:"retry_count"`
	NextRetryAt     *int64  `json:"next_retry_at,omitempty"` // Unix timestamp
	CreatedAt       string  `json:"created_at"`
	DeliveredAt     *string `json:"delivered_at,omitempty"`
}

// AttemptListResponse wraps a paginated delivery attempt list.
type AttemptListResponse struct {
	Items      []AttemptResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}
