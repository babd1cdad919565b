package service

import (
	"context"
	"encoding/json"
	"time"

	"webhook-delivery-engine/internal/core/domain"
	"webhook-delivery-engine/internal/core/ports"
	"webhook-delivery-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DispatchService implements ports.Dispatcher: it fans one event out to
// every matching active endpoint. Deliveries run on their own goroutines
// so the triggering business operation never waits on, or fails because
// of, a slow or broken receiver.
type DispatchService struct {
	endpoints  ports.EndpointRepository
	deliveries ports.DeliveryRepository
	executor   ports.DeliveryExecutor
	log        zerolog.Logger
}

// NewDispatchService creates a new dispatcher.
func NewDispatchService(
	endpoints ports.EndpointRepository,
	deliveries ports.DeliveryRepository,
	executor ports.DeliveryExecutor,
	log zerolog.Logger,
) *DispatchService {
	return &DispatchService{
		endpoints:  endpoints,
		deliveries: deliveries,
		executor:   executor,
		log:        log,
	}
}

// Dispatch resolves matching endpoints and creates exactly one pending
// attempt per match before handing each off for execution. Zero matches
// is a no-op. Only registry read and enqueue failures are returned.
func (s *DispatchService) Dispatch(ctx context.Context, event domain.Event) error {
	if event.Type == "" {
		return apperror.ErrInvalidEvent("event type is required")
	}

	matches, err := s.endpoints.ListMatching(ctx, event.ScopeID, event.Type)
	if err != nil {
		return apperror.ErrRegistryRead(err)
	}
	if len(matches) == 0 {
		s.log.Debug().
			Str("event_type", event.Type).
			Int64("scope_id", event.ScopeID).
			Msg("no endpoints subscribed, event dropped")
		return nil
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		return apperror.ErrInvalidEvent("event data is not serializable")
	}

	// Deliveries must outlive the caller's request context.
	execCtx := context.WithoutCancel(ctx)

	var enqueueErr error
	dispatched := 0
	for i := range matches {
		endpoint := matches[i]
		now := time.Now().UTC()
		attempt := &domain.DeliveryAttempt{
			ID:         uuid.New(),
			EndpointID: endpoint.ID,
			EventType:  event.Type,
			Payload:    payload,
			Status:     domain.AttemptPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if err := s.deliveries.Create(ctx, attempt); err != nil {
			// Other endpoints for the same event are unaffected.
			s.log.Error().
				Err(err).
				Str("endpoint_id", endpoint.ID.String()).
				Str("event_type", event.Type).
				Msg("failed to enqueue delivery attempt")
			if enqueueErr == nil {
				enqueueErr = err
			}
			continue
		}

		go s.executor.Execute(execCtx, attempt, &endpoint)
		dispatched++
	}

	s.log.Info().
		Str("event_type", event.Type).
		Int64("scope_id", event.ScopeID).
		Int("endpoints", dispatched).
		Msg("event dispatched")

	if enqueueErr != nil {
		return apperror.ErrEnqueue(enqueueErr)
	}
	return nil
}
