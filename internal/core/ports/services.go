package ports

import (
	"context"

	"webhook-delivery-engine/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption of endpoint
// signing secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	// Sign computes the signature over the exact bytes that will be sent
	// as the request body.
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
	// BuildCanonicalString constructs the canonical payload for producer
	// request signing. Format: METHOD|PATH|TIMESTAMP|NONCE|BODY
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// --- Service Ports (Engine Logic) ---

// Dispatcher fans one event out to all matching endpoints.
type Dispatcher interface {
	// Dispatch creates one pending delivery attempt per matching active
	// endpoint and hands each off for asynchronous execution. It returns
	// an error only when the registry cannot be read or an attempt cannot
	// be enqueued; delivery outcomes never propagate to the caller.
	Dispatch(ctx context.Context, event domain.Event) error
}

// DeliveryExecutor performs one network attempt for one delivery.
type DeliveryExecutor interface {
	// Execute runs a single attempt to completion or timeout, records the
	// outcome, and applies the retry transition on failure.
	Execute(ctx context.Context, attempt *domain.DeliveryAttempt, endpoint *domain.Endpoint)
	// SendTest synchronously delivers a synthetic event to the endpoint,
	// bypassing the retry scheduler, and returns the recorded attempt.
	SendTest(ctx context.Context, endpointID uuid.UUID) (*domain.DeliveryAttempt, error)
}

// ReportingService serves the dashboard read contract.
type ReportingService interface {
	ListEndpoints(ctx context.Context, scopeID int64) ([]EndpointOverview, error)
	// GetEndpoint serves a single endpoint's overview through the stats
	// cache, which delivery executors invalidate after every attempt.
	GetEndpoint(ctx context.Context, endpointID uuid.UUID) (*EndpointOverview, error)
	ListAttempts(ctx context.Context, endpointID uuid.UUID, page, pageSize int) ([]domain.DeliveryAttempt, int64, error)
}

// EndpointOverview is the per-endpoint dashboard row.
type EndpointOverview struct {
	ID                 uuid.UUID              `json:"id"`
	URL                string                 `json:"url"`
	SubscribedEvents   []string               `json:"subscribed_events"`
	Active             bool                   `json:"active"`
	SuccessCount       int64                  `json:"success_count"`
	FailureCount       int64                  `json:"failure_count"`
	LastDeliveryAt     *int64                 `json:"last_delivery_at"` // Unix seconds
	LastDeliveryStatus *domain.DeliveryStatus `json:"last_delivery_status"`
}
