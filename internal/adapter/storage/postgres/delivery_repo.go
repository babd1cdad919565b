package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"webhook-delivery-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// claimLease is how far ClaimDue pushes next_retry_at into the future on
// claim. A claimed attempt stays retry_scheduled; if its executor dies
// before writing an outcome, the attempt becomes due again once the lease
// lapses, preserving at-least-once delivery.
const claimLease = 5 * time.Minute

const attemptColumns = `id, endpoint_id, event_type, payload, request_snapshot, status,
		response_status, response_excerpt, response_headers, last_error,
		retry_count, next_retry_at, created_at, delivered_at, updated_at`

// DeliveryRepo implements ports.DeliveryRepository.
type DeliveryRepo struct {
	pool Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

// Create inserts a new delivery attempt.
func (r *DeliveryRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	requestJSON, headersJSON, err := marshalSnapshots(a)
	if err != nil {
		return err
	}

	query := `INSERT INTO delivery_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.pool.Exec(ctx, query,
		a.ID, a.EndpointID, a.EventType, a.Payload, requestJSON, string(a.Status),
		a.ResponseStatus, a.ResponseExcerpt, headersJSON, a.LastError,
		a.RetryCount, a.NextRetryAt, a.CreatedAt, a.DeliveredAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// GetByID fetches a delivery attempt by its UUID. Returns nil, nil when
// absent.
func (r *DeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE id = $1`

	a, err := scanAttempt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery attempt by id: %w", err)
	}
	return a, nil
}

// UpdateOutcome writes one execution's result back to the row. Rows
// already in a terminal status are left untouched, so a stale sweep can
// never overwrite a recorded success.
func (r *DeliveryRepo) UpdateOutcome(ctx context.Context, a *domain.DeliveryAttempt) error {
	requestJSON, headersJSON, err := marshalSnapshots(a)
	if err != nil {
		return err
	}

	query := `UPDATE delivery_attempts SET
			request_snapshot = $2,
			status = $3,
			response_status = $4,
			response_excerpt = $5,
			response_headers = $6,
			last_error = $7,
			retry_count = $8,
			next_retry_at = $9,
			delivered_at = $10,
			updated_at = $11
		WHERE id = $1
		  AND status NOT IN ('success', 'exhausted', 'failure')`

	_, err = r.pool.Exec(ctx, query,
		a.ID, requestJSON, string(a.Status),
		a.ResponseStatus, a.ResponseExcerpt, headersJSON, a.LastError,
		a.RetryCount, a.NextRetryAt, a.DeliveredAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update delivery outcome: %w", err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due retries. FOR UPDATE SKIP
// LOCKED guarantees two concurrent claimers never receive the same row;
// pushing next_retry_at forward keeps the rows invisible to other
// sweepers for the duration of the lease.
func (r *DeliveryRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.DeliveryAttempt, error) {
	query := `WITH due AS (
			SELECT id FROM delivery_attempts
			WHERE status = 'retry_scheduled' AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_attempts d
		SET next_retry_at = $3, updated_at = NOW()
		FROM due
		WHERE d.id = due.id
		RETURNING d.id, d.endpoint_id, d.event_type, d.payload, d.request_snapshot, d.status,
			d.response_status, d.response_excerpt, d.response_headers, d.last_error,
			d.retry_count, d.next_retry_at, d.created_at, d.delivered_at, d.updated_at`

	rows, err := r.pool.Query(ctx, query, now, limit, now.Add(claimLease))
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ListByEndpoint returns one page of attempts, most recent first, plus
// the total count for the endpoint.
func (r *DeliveryRepo) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, page, pageSize int) ([]domain.DeliveryAttempt, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM delivery_attempts WHERE endpoint_id = $1`
	if err := r.pool.QueryRow(ctx, countQuery, endpointID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delivery attempts: %w", err)
	}

	query := `SELECT ` + attemptColumns + `
		FROM delivery_attempts
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, endpointID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, total, rows.Err()
}

func marshalSnapshots(a *domain.DeliveryAttempt) (requestJSON, headersJSON []byte, err error) {
	requestJSON, err = json.Marshal(a.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request snapshot: %w", err)
	}
	if a.ResponseHeaders != nil {
		headersJSON, err = json.Marshal(a.ResponseHeaders)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal response headers: %w", err)
		}
	}
	return requestJSON, headersJSON, nil
}

func scanAttempt(row pgx.Row) (*domain.DeliveryAttempt, error) {
	a := &domain.DeliveryAttempt{}
	var status string
	var requestJSON, headersJSON []byte
	err := row.Scan(
		&a.ID, &a.EndpointID, &a.EventType, &a.Payload, &requestJSON, &status,
		&a.ResponseStatus, &a.ResponseExcerpt, &headersJSON, &a.LastError,
		&a.RetryCount, &a.NextRetryAt, &a.CreatedAt, &a.DeliveredAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AttemptStatus(status)
	if len(requestJSON) > 0 {
		if err := json.Unmarshal(requestJSON, &a.Request); err != nil {
			return nil, fmt.Errorf("unmarshal request snapshot: %w", err)
		}
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &a.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal response headers: %w", err)
		}
	}
	return a, nil
}
