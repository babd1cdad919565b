package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"webhook-delivery-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const endpointColumns = `id, scope_id, url, secret_enc, subscribed_events, active, max_retries, timeout_seconds,
		success_count, failure_count, last_delivery_at, last_delivery_status, created_at, updated_at`

// EndpointRepo implements ports.EndpointRepository.
type EndpointRepo struct {
	pool Pool
}

// NewEndpointRepo creates a new EndpointRepo.
func NewEndpointRepo(pool Pool) *EndpointRepo {
	return &EndpointRepo{pool: pool}
}

// GetByID fetches an endpoint by its UUID. Returns nil, nil when absent.
func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`

	e, err := scanEndpoint(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get endpoint by id: %w", err)
	}
	return e, nil
}

// ListMatching returns active endpoints of the scope subscribed to the
// event type, either directly or through the wildcard subscription.
func (r *EndpointRepo) ListMatching(ctx context.Context, scopeID int64, eventType string) ([]domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE scope_id = $1
		  AND active
		  AND ($2 = ANY(subscribed_events) OR '*' = ANY(subscribed_events))
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, scopeID, eventType)
	if err != nil {
		return nil, fmt.Errorf("list matching endpoints: %w", err)
	}
	defer rows.Close()

	return collectEndpoints(rows)
}

// ListByScope returns every endpoint of a scope, active or not.
func (r *EndpointRepo) ListByScope(ctx context.Context, scopeID int64) ([]domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE scope_id = $1
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints by scope: %w", err)
	}
	defer rows.Close()

	return collectEndpoints(rows)
}

// RecordDeliveryResult bumps the matching counter and stamps the
// last-delivery fields in a single statement, so concurrent executors
// never lose increments.
func (r *EndpointRepo) RecordDeliveryResult(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, at time.Time) error {
	query := `UPDATE endpoints SET
			success_count = success_count + CASE WHEN $2 = 'success' THEN 1 ELSE 0 END,
			failure_count = failure_count + CASE WHEN $2 = 'failure' THEN 1 ELSE 0 END,
			last_delivery_at = $3,
			last_delivery_status = $2,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, string(status), at)
	if err != nil {
		return fmt.Errorf("record delivery result: %w", err)
	}
	return nil
}

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	e := &domain.Endpoint{}
	var lastStatus *string
	err := row.Scan(
		&e.ID, &e.ScopeID, &e.URL, &e.SecretEnc, &e.SubscribedEvents,
		&e.Active, &e.MaxRetries, &e.TimeoutSeconds,
		&e.SuccessCount, &e.FailureCount, &e.LastDeliveryAt, &lastStatus,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		s := domain.DeliveryStatus(*lastStatus)
		e.LastDeliveryStatus = &s
	}
	return e, nil
}

func collectEndpoints(rows pgx.Rows) ([]domain.Endpoint, error) {
	var endpoints []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}
	return endpoints, rows.Err()
}
