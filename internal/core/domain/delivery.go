package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the state of a delivery attempt.
//
// Transitions:
//
//	pending         -> success | retry_scheduled | exhausted | failure
//	retry_scheduled -> success | retry_scheduled | exhausted   (via the sweep)
//
// success, exhausted and failure are terminal. failure is reserved for
// outcomes that never enter the retry loop: configuration faults and
// manual test sends.
type AttemptStatus string

const (
	AttemptPending        AttemptStatus = "pending"
	AttemptSuccess        AttemptStatus = "success"
	AttemptFailure        AttemptStatus = "failure"
	AttemptRetryScheduled AttemptStatus = "retry_scheduled"
	AttemptExhausted      AttemptStatus = "exhausted"
)

// Terminal reports whether no further executions may mutate the attempt.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSuccess || s == AttemptExhausted || s == AttemptFailure
}

// RequestSnapshot captures the outbound request exactly as sent, so the
// dashboard can show operators what a receiver saw and retries can resend
// the identical body bytes.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// DeliveryAttempt is one durable delivery record: exactly one row exists
// per (event, endpoint) pair at dispatch time, and retries mutate that
// same row rather than creating new ones.
type DeliveryAttempt struct {
	ID         uuid.UUID `json:"id"`
	EndpointID uuid.UUID `json:"endpoint_id"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"` // event data snapshot, JSON

	Request RequestSnapshot `json:"request"`

	Status          AttemptStatus     `json:"status"`
	ResponseStatus  *int              `json:"response_status"`
	ResponseExcerpt *string           `json:"response_excerpt"`
	ResponseHeaders map[string]string `json:"response_headers"`
	LastError       *string           `json:"last_error"`

	RetryCount  int        `json:"retry_count"`   // attempts already made beyond the first
	NextRetryAt *time.Time `json:"next_retry_at"` // meaningful only while retry_scheduled

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
