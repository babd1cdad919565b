package service

import (
	"context"
	"sync"
	"time"

	"webhook-delivery-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// Backoff computes the delay before retry n as 2^n minutes, capped.
// The cap only takes effect from n=11 onward (2^11 minutes > 24h), so
// endpoints with small retry ceilings see the exact exponential schedule.
type Backoff struct {
	Cap time.Duration
}

// DefaultBackoffCap bounds exponential growth for endpoints configured
// with very large retry ceilings.
const DefaultBackoffCap = 24 * time.Hour

// Delay returns the wait before retry n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	cap := b.Cap
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	// 2^n minutes overflows int64 nanoseconds near n=27; any n past the
	// cap's exponent is capped anyway.
	if n > 24 {
		return cap
	}
	d := time.Duration(1<<uint(n)) * time.Minute
	if d > cap {
		return cap
	}
	return d
}

// RetrySweeper periodically claims due retries from the delivery log and
// re-executes them. Claims are atomic at the repository level, so any
// number of sweepers across instances may run concurrently without
// double-delivering.
type RetrySweeper struct {
	deliveries ports.DeliveryRepository
	endpoints  ports.EndpointRepository
	executor   ports.DeliveryExecutor
	batchSize  int
	interval   time.Duration
	log        zerolog.Logger
}

// NewRetrySweeper creates a sweeper over the delivery log.
func NewRetrySweeper(
	deliveries ports.DeliveryRepository,
	endpoints ports.EndpointRepository,
	executor ports.DeliveryExecutor,
	batchSize int,
	interval time.Duration,
	log zerolog.Logger,
) *RetrySweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetrySweeper{
		deliveries: deliveries,
		endpoints:  endpoints,
		executor:   executor,
		batchSize:  batchSize,
		interval:   interval,
		log:        log,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *RetrySweeper) Run(ctx context.Context) {
	s.log.Info().
		Int("batch_size", s.batchSize).
		Dur("interval", s.interval).
		Msg("retry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("retry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warn().Err(err).Msg("retry sweep failed")
			}
		}
	}
}

// Sweep claims one batch of due retries and re-executes each. Attempts
// execute concurrently so one slow endpoint cannot hold up the rest of
// the batch; Sweep returns once the whole batch has settled.
func (s *RetrySweeper) Sweep(ctx context.Context) (int, error) {
	attempts, err := s.deliveries.ClaimDue(ctx, s.batchSize, time.Now())
	if err != nil {
		return 0, err
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	s.log.Debug().Int("claimed", len(attempts)).Msg("retry sweep claimed due attempts")

	var wg sync.WaitGroup
	for i := range attempts {
		attempt := &attempts[i]

		endpoint, err := s.endpoints.GetByID(ctx, attempt.EndpointID)
		if err != nil || endpoint == nil {
			s.log.Error().
				Err(err).
				Str("attempt_id", attempt.ID.String()).
				Str("endpoint_id", attempt.EndpointID.String()).
				Msg("retry sweep: endpoint lookup failed, leaving attempt for next sweep")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.executor.Execute(ctx, attempt, endpoint)
		}()
	}
	wg.Wait()

	return len(attempts), nil
}
