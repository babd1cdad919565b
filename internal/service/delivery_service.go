package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"webhook-delivery-engine/internal/core/domain"
	"webhook-delivery-engine/internal/core/ports"
	"webhook-delivery-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outbound header names.
const (
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookID        = "X-Webhook-Id"
	HeaderWebhookRetry     = "X-Webhook-Retry"
)

// TestEventType is the synthetic event type used by manual test sends.
const TestEventType = "endpoint.test"

// Envelope is the JSON body delivered to endpoints. ID is stable across
// retries of the same attempt so receivers can deduplicate.
type Envelope struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeliveryService implements ports.DeliveryExecutor: it performs one
// network attempt for one delivery and records the outcome. Delivery
// failure is routine and never surfaces as an error to the caller.
type DeliveryService struct {
	endpoints    ports.EndpointRepository
	deliveries   ports.DeliveryRepository
	encSvc       ports.EncryptionService
	sigSvc       ports.SignatureService
	statsCache   ports.StatsCache
	httpClient   HTTPClient
	backoff      Backoff
	excerptLimit int
	userAgent    string
	log          zerolog.Logger
}

// NewDeliveryService creates a new delivery executor.
func NewDeliveryService(
	endpoints ports.EndpointRepository,
	deliveries ports.DeliveryRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	statsCache ports.StatsCache,
	httpClient HTTPClient,
	backoff Backoff,
	excerptLimit int,
	userAgent string,
	log zerolog.Logger,
) *DeliveryService {
	if excerptLimit <= 0 {
		excerptLimit = 1024
	}
	if userAgent == "" {
		userAgent = "webhook-delivery-engine/1.0"
	}
	return &DeliveryService{
		endpoints:    endpoints,
		deliveries:   deliveries,
		encSvc:       encSvc,
		sigSvc:       sigSvc,
		statsCache:   statsCache,
		httpClient:   httpClient,
		backoff:      backoff,
		excerptLimit: excerptLimit,
		userAgent:    userAgent,
		log:          log,
	}
}

// Execute runs one attempt to completion or timeout and applies the retry
// transition on failure.
func (s *DeliveryService) Execute(ctx context.Context, attempt *domain.DeliveryAttempt, endpoint *domain.Endpoint) {
	s.run(ctx, attempt, endpoint, true)
}

// SendTest synchronously delivers a synthetic event to the endpoint,
// bypassing the retry scheduler. The recorded attempt is returned so the
// dashboard can show the immediate outcome.
func (s *DeliveryService) SendTest(ctx context.Context, endpointID uuid.UUID) (*domain.DeliveryAttempt, error) {
	endpoint, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		return nil, apperror.ErrRegistryRead(err)
	}
	if endpoint == nil {
		return nil, apperror.ErrNotFound("Endpoint")
	}

	payload, _ := json.Marshal(map[string]any{
		"message":     "test delivery",
		"endpoint_id": endpointID.String(),
	})

	now := time.Now().UTC()
	attempt := &domain.DeliveryAttempt{
		ID:         uuid.New(),
		EndpointID: endpoint.ID,
		EventType:  TestEventType,
		Payload:    payload,
		Status:     domain.AttemptPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.deliveries.Create(ctx, attempt); err != nil {
		return nil, apperror.ErrEnqueue(err)
	}

	s.run(ctx, attempt, endpoint, false)
	return attempt, nil
}

// run performs the attempt. allowRetry selects between the retry state
// machine and the terminal failure status used by test sends.
func (s *DeliveryService) run(ctx context.Context, attempt *domain.DeliveryAttempt, endpoint *domain.Endpoint, allowRetry bool) {
	if err := s.prepare(attempt, endpoint); err != nil {
		// Configuration fault: terminal before any network call.
		s.log.Error().
			Err(err).
			Str("attempt_id", attempt.ID.String()).
			Str("endpoint_id", endpoint.ID.String()).
			Msg("webhook delivery aborted by configuration fault")
		msg := err.Error()
		attempt.Status = domain.AttemptFailure
		attempt.LastError = &msg
		attempt.NextRetryAt = nil
		s.persistOutcome(ctx, attempt)
		return
	}

	resp, reqErr := s.send(ctx, attempt, endpoint)
	now := time.Now().UTC()

	success := false
	if reqErr != nil {
		// Network error or timeout: treated identically.
		msg := reqErr.Error()
		attempt.LastError = &msg
		attempt.ResponseStatus = nil
	} else {
		s.recordResponse(attempt, resp)
		success = resp.StatusCode >= 200 && resp.StatusCode < 300
	}

	if success {
		attempt.Status = domain.AttemptSuccess
		attempt.DeliveredAt = &now
		attempt.NextRetryAt = nil
		attempt.LastError = nil
	} else if allowRetry {
		s.applyRetryTransition(attempt, endpoint, now)
	} else {
		attempt.Status = domain.AttemptFailure
		attempt.NextRetryAt = nil
	}

	s.persistOutcome(ctx, attempt)
	s.recordEndpointResult(ctx, endpoint.ID, success, now)

	evt := s.log.Info()
	if !success {
		evt = s.log.Warn()
	}
	evt.
		Str("attempt_id", attempt.ID.String()).
		Str("endpoint_id", endpoint.ID.String()).
		Str("event_type", attempt.EventType).
		Str("status", string(attempt.Status)).
		Int("retry_count", attempt.RetryCount).
		Msg("webhook delivery attempt finished")
}

// prepare validates endpoint configuration and builds the signed request
// snapshot. On retries the original body bytes are reused so the envelope
// id and content stay identical; only the signature and retry header are
// recomputed.
func (s *DeliveryService) prepare(attempt *domain.DeliveryAttempt, endpoint *domain.Endpoint) error {
	if endpoint.SecretEnc == "" {
		return apperror.ErrMissingSecret()
	}
	parsed, err := url.ParseRequestURI(endpoint.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return apperror.ErrMalformedURL(endpoint.URL)
	}
	secret, err := s.encSvc.Decrypt(endpoint.SecretEnc)
	if err != nil {
		return apperror.ErrSecretDecryption(err)
	}
	if secret == "" {
		return apperror.ErrMissingSecret()
	}

	body := attempt.Request.Body
	if len(body) == 0 {
		envelope := Envelope{
			ID:      attempt.ID.String(),
			Event:   attempt.EventType,
			Created: attempt.CreatedAt.Unix(),
			Data:    attempt.Payload,
		}
		// Serialized exactly once; these bytes are what gets signed and sent.
		body, err = json.Marshal(envelope)
		if err != nil {
			return apperror.Validation("event data is not serializable")
		}
	}

	headers := map[string]string{
		"Content-Type":         "application/json",
		"User-Agent":           s.userAgent,
		HeaderWebhookEvent:     attempt.EventType,
		HeaderWebhookID:        endpoint.ID.String(),
		HeaderWebhookSignature: SignatureScheme + s.sigSvc.Sign(secret, body),
	}
	if attempt.RetryCount > 0 {
		headers[HeaderWebhookRetry] = strconv.Itoa(attempt.RetryCount)
	}

	attempt.Request = domain.RequestSnapshot{
		Method:  http.MethodPost,
		URL:     endpoint.URL,
		Headers: headers,
		Body:    body,
	}
	return nil
}

// send executes the HTTP call bounded by the endpoint's timeout.
func (s *DeliveryService) send(ctx context.Context, attempt *domain.DeliveryAttempt, endpoint *domain.Endpoint) (*http.Response, error) {
	timeout := endpoint.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, attempt.Request.Method, attempt.Request.URL, bytes.NewReader(attempt.Request.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range attempt.Request.Headers {
		req.Header.Set(k, v)
	}

	return s.httpClient.Do(req)
}

// recordResponse captures status, headers and a bounded body excerpt.
func (s *DeliveryService) recordResponse(attempt *domain.DeliveryAttempt, resp *http.Response) {
	defer resp.Body.Close()

	status := resp.StatusCode
	attempt.ResponseStatus = &status

	excerptBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(s.excerptLimit)))
	excerpt := string(excerptBytes)
	attempt.ResponseExcerpt = &excerpt

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	attempt.ResponseHeaders = headers
}

// applyRetryTransition mutates the attempt per the failure rule: with
// n = retryCount + 1, exceed the endpoint's ceiling and the attempt is
// exhausted, otherwise it is rescheduled for now + 2^n minutes.
func (s *DeliveryService) applyRetryTransition(attempt *domain.DeliveryAttempt, endpoint *domain.Endpoint, now time.Time) {
	n := attempt.RetryCount + 1
	if n > endpoint.MaxRetries {
		attempt.Status = domain.AttemptExhausted
		attempt.NextRetryAt = nil
		return
	}
	next := now.Add(s.backoff.Delay(n))
	attempt.Status = domain.AttemptRetryScheduled
	attempt.RetryCount = n
	attempt.NextRetryAt = &next
}

func (s *DeliveryService) persistOutcome(ctx context.Context, attempt *domain.DeliveryAttempt) {
	attempt.UpdatedAt = time.Now().UTC()
	if err := s.deliveries.UpdateOutcome(ctx, attempt); err != nil {
		s.log.Error().
			Err(err).
			Str("attempt_id", attempt.ID.String()).
			Msg("failed to persist delivery outcome")
	}
}

func (s *DeliveryService) recordEndpointResult(ctx context.Context, endpointID uuid.UUID, success bool, at time.Time) {
	status := domain.DeliveryFailure
	if success {
		status = domain.DeliverySuccess
	}
	if err := s.endpoints.RecordDeliveryResult(ctx, endpointID, status, at); err != nil {
		s.log.Error().
			Err(err).
			Str("endpoint_id", endpointID.String()).
			Msg("failed to update endpoint delivery counters")
	}
	if s.statsCache != nil {
		if err := s.statsCache.Invalidate(ctx, endpointID); err != nil {
			s.log.Debug().Err(err).Msg("stats cache invalidation failed")
		}
	}
}
