package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"webhook-delivery-engine/internal/core/domain"

	"github.com/google/uuid"
)

// claimLease mirrors the lease the PostgreSQL repository applies when a
// sweeper claims a due retry.
const claimLease = 5 * time.Minute

// --- In-Memory Endpoint Repo ---

type inMemoryEndpointRepo struct {
	mu        sync.RWMutex
	endpoints map[uuid.UUID]*domain.Endpoint
}

func newInMemoryEndpointRepo() *inMemoryEndpointRepo {
	return &inMemoryEndpointRepo{endpoints: make(map[uuid.UUID]*domain.Endpoint)}
}

func (r *inMemoryEndpointRepo) add(e *domain.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.endpoints[e.ID] = &cp
}

func (r *inMemoryEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEndpointRepo) ListMatching(ctx context.Context, scopeID int64, eventType string) ([]domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Endpoint
	for _, e := range r.endpoints {
		if e.ScopeID == scopeID && e.Active && e.Subscribes(eventType) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *inMemoryEndpointRepo) ListByScope(ctx context.Context, scopeID int64) ([]domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Endpoint
	for _, e := range r.endpoints {
		if e.ScopeID == scopeID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryEndpointRepo) RecordDeliveryResult(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok {
		return fmt.Errorf("endpoint not found")
	}
	if status == domain.DeliverySuccess {
		e.SuccessCount++
	} else {
		e.FailureCount++
	}
	t := at
	e.LastDeliveryAt = &t
	s := status
	e.LastDeliveryStatus = &s
	e.UpdatedAt = at
	return nil
}

// --- In-Memory Delivery Repo ---

type inMemoryDeliveryRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*domain.DeliveryAttempt
}

func newInMemoryDeliveryRepo() *inMemoryDeliveryRepo {
	return &inMemoryDeliveryRepo{attempts: make(map[uuid.UUID]*domain.DeliveryAttempt)}
}

func (r *inMemoryDeliveryRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.attempts[a.ID]; exists {
		return fmt.Errorf("attempt already exists")
	}
	cp := *a
	r.attempts[a.ID] = &cp
	return nil
}

func (r *inMemoryDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *inMemoryDeliveryRepo) UpdateOutcome(ctx context.Context, a *domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.attempts[a.ID]
	if !ok {
		return fmt.Errorf("attempt not found")
	}
	// Terminal rows are immutable, matching the SQL guard.
	if stored.Status.Terminal() {
		return nil
	}
	cp := *a
	r.attempts[a.ID] = &cp
	return nil
}

func (r *inMemoryDeliveryRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.DeliveryAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.DeliveryAttempt
	for _, a := range r.attempts {
		if a.Status == domain.AttemptRetryScheduled && a.NextRetryAt != nil && !a.NextRetryAt.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.DeliveryAttempt, 0, len(due))
	lease := now.Add(claimLease)
	for _, a := range due {
		a.NextRetryAt = &lease
		a.UpdatedAt = now
		claimed = append(claimed, *a)
	}
	return claimed, nil
}

func (r *inMemoryDeliveryRepo) ListByEndpoint(ctx context.Context, endpointID uuid.UUID, page, pageSize int) ([]domain.DeliveryAttempt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.DeliveryAttempt
	for _, a := range r.attempts {
		if a.EndpointID == endpointID {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))

	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// rewind shifts every scheduled retry into the past so a sweep picks it
// up without the test waiting out real backoff delays.
func (r *inMemoryDeliveryRepo) rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	past := time.Now().Add(-time.Second)
	for _, a := range r.attempts {
		if a.Status == domain.AttemptRetryScheduled && a.NextRetryAt != nil {
			t := past
			a.NextRetryAt = &t
		}
	}
}
