package ports

import (
	"context"
	"time"

	"webhook-delivery-engine/internal/core/domain"

	"github.com/google/uuid"
)

// EndpointRepository is the engine's read-mostly view of the endpoint
// registry. Registration writes happen in the marketplace application;
// the engine only updates delivery counters and last-delivery fields.
type EndpointRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error)
	// ListMatching returns active endpoints of the scope subscribed to
	// eventType (directly or via the wildcard).
	ListMatching(ctx context.Context, scopeID int64, eventType string) ([]domain.Endpoint, error)
	// ListByScope returns every endpoint of a scope for dashboard display.
	ListByScope(ctx context.Context, scopeID int64) ([]domain.Endpoint, error)
	// RecordDeliveryResult bumps success_count or failure_count and sets
	// last_delivery_at/last_delivery_status in one statement, so counters
	// stay correct under concurrent executors.
	RecordDeliveryResult(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, at time.Time) error
}

// DeliveryRepository persists delivery attempts.
type DeliveryRepository interface {
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryAttempt, error)
	// UpdateOutcome writes the result of one execution back to the row.
	// Implementations must refuse to mutate rows already in a terminal
	// status so a stale sweep can never overwrite a success.
	UpdateOutcome(ctx context.Context, attempt *domain.DeliveryAttempt) error
	// ClaimDue atomically claims up to limit attempts with
	// status = retry_scheduled and next_retry_at <= now, ordered by
	// next_retry_at. Two concurrent claimers never receive the same row.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.DeliveryAttempt, error)
	// ListByEndpoint returns attempts most recent first with total count.
	ListByEndpoint(ctx context.Context, endpointID uuid.UUID, page, pageSize int) ([]domain.DeliveryAttempt, int64, error)
}

// StatsCache is a short-lived cache of per-endpoint delivery stats for
// dashboard reads.
type StatsCache interface {
	Get(ctx context.Context, endpointID uuid.UUID) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, endpointID uuid.UUID, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, endpointID uuid.UUID) error
}

// NonceStore manages nonce uniqueness for producer replay protection.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, producer string, nonce string, ttl time.Duration) (bool, error)
}
