package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventWildcard subscribes an endpoint to every event type.
const EventWildcard = "*"

// DeliveryStatus is the outcome recorded on an endpoint after its most
// recent delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailure DeliveryStatus = "failure"
)

// Endpoint is a registered webhook destination owned by one store.
// Registration and editing happen in the marketplace application; the
// engine reads endpoints and only ever writes their delivery counters
// and last-delivery fields.
type Endpoint struct {
	ID                 uuid.UUID       `json:"id"`
	ScopeID            int64           `json:"scope_id"` // owning store/seller
	URL                string          `json:"url"`
	SecretEnc          string          `json:"-"` // AES-encrypted signing secret, never exposed
	SubscribedEvents   []string        `json:"subscribed_events"`
	Active             bool            `json:"active"`
	MaxRetries         int             `json:"max_retries"`
	TimeoutSeconds     int             `json:"timeout_seconds"`
	SuccessCount       int64           `json:"success_count"`
	FailureCount       int64           `json:"failure_count"`
	LastDeliveryAt     *time.Time      `json:"last_delivery_at"`
	LastDeliveryStatus *DeliveryStatus `json:"last_delivery_status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Subscribes reports whether the endpoint wants events of the given type.
func (e *Endpoint) Subscribes(eventType string) bool {
	for _, s := range e.SubscribedEvents {
		if s == eventType || s == EventWildcard {
			return true
		}
	}
	return false
}

// Timeout returns the per-attempt deadline for this endpoint.
func (e *Endpoint) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
