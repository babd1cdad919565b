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

// statsCacheTTL bounds staleness of dashboard stats between the explicit
// invalidations performed by the delivery executor.
const statsCacheTTL = 30 * time.Second

// ReportingService serves the dashboard read contract over the endpoint
// registry and the delivery log.
type ReportingService struct {
	endpoints  ports.EndpointRepository
	deliveries ports.DeliveryRepository
	statsCache ports.StatsCache
	log        zerolog.Logger
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	endpoints ports.EndpointRepository,
	deliveries ports.DeliveryRepository,
	statsCache ports.StatsCache,
	log zerolog.Logger,
) *ReportingService {
	return &ReportingService{
		endpoints:  endpoints,
		deliveries: deliveries,
		statsCache: statsCache,
		log:        log,
	}
}

// ListEndpoints returns the dashboard overview of every endpoint in a scope.
func (s *ReportingService) ListEndpoints(ctx context.Context, scopeID int64) ([]ports.EndpointOverview, error) {
	endpoints, err := s.endpoints.ListByScope(ctx, scopeID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	overviews := make([]ports.EndpointOverview, 0, len(endpoints))
	for i := range endpoints {
		overviews = append(overviews, toOverview(&endpoints[i]))
	}
	return overviews, nil
}

// GetEndpoint returns one endpoint's overview, read through the stats cache.
func (s *ReportingService) GetEndpoint(ctx context.Context, endpointID uuid.UUID) (*ports.EndpointOverview, error) {
	if s.statsCache != nil {
		if cached, err := s.statsCache.Get(ctx, endpointID); err == nil && cached != nil {
			var overview ports.EndpointOverview
			if err := json.Unmarshal(cached, &overview); err == nil {
				return &overview, nil
			}
			// Corrupt cache entry: fall through to the registry.
		}
	}

	endpoint, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if endpoint == nil {
		return nil, apperror.ErrNotFound("Endpoint")
	}

	overview := toOverview(endpoint)
	if s.statsCache != nil {
		if encoded, err := json.Marshal(overview); err == nil {
			if err := s.statsCache.Set(ctx, endpointID, encoded, statsCacheTTL); err != nil {
				s.log.Debug().Err(err).Msg("stats cache set failed")
			}
		}
	}
	return &overview, nil
}

// ListAttempts returns delivery attempts for an endpoint, most recent first.
func (s *ReportingService) ListAttempts(ctx context.Context, endpointID uuid.UUID, page, pageSize int) ([]domain.DeliveryAttempt, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	attempts, total, err := s.deliveries.ListByEndpoint(ctx, endpointID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return attempts, total, nil
}

func toOverview(e *domain.Endpoint) ports.EndpointOverview {
	overview := ports.EndpointOverview{
		ID:                 e.ID,
		URL:                e.URL,
		SubscribedEvents:   e.SubscribedEvents,
		Active:             e.Active,
		SuccessCount:       e.SuccessCount,
		FailureCount:       e.FailureCount,
		LastDeliveryStatus: e.LastDeliveryStatus,
	}
	if e.LastDeliveryAt != nil {
		ts := e.LastDeliveryAt.Unix()
		overview.LastDeliveryAt = &ts
	}
	return overview
}
