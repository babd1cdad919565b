package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"webhook-delivery-engine/internal/core/domain"
	"webhook-delivery-engine/internal/core/ports/mocks"
	"webhook-delivery-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type deliveryFixture struct {
	endpoints  *mocks.MockEndpointRepository
	deliveries *mocks.MockDeliveryRepository
	encSvc     *mocks.MockEncryptionService
	sigSvc     *mocks.MockSignatureService
	statsCache *mocks.MockStatsCache
}

func newDeliveryFixture(ctrl *gomock.Controller) *deliveryFixture {
	return &deliveryFixture{
		endpoints:  mocks.NewMockEndpointRepository(ctrl),
		deliveries: mocks.NewMockDeliveryRepository(ctrl),
		encSvc:     mocks.NewMockEncryptionService(ctrl),
		sigSvc:     mocks.NewMockSignatureService(ctrl),
		statsCache: mocks.NewMockStatsCache(ctrl),
	}
}

func (f *deliveryFixture) service(client HTTPClient) *DeliveryService {
	return NewDeliveryService(
		f.endpoints, f.deliveries, f.encSvc, f.sigSvc, f.statsCache,
		client, Backoff{}, 1024, "webhook-delivery-engine/1.0", newTestLogger(),
	)
}

func testEndpoint(maxRetries int) *domain.Endpoint {
	return &domain.Endpoint{
		ID:               uuid.New(),
		ScopeID:          1,
		URL:              "https://receiver.example.com/hooks",
		SecretEnc:        "encrypted-secret",
		SubscribedEvents: []string{"order.created"},
		Active:           true,
		MaxRetries:       maxRetries,
		TimeoutSeconds:   5,
	}
}

func testAttempt(endpointID uuid.UUID) *domain.DeliveryAttempt {
	now := time.Now().UTC()
	return &domain.DeliveryAttempt{
		ID:         uuid.New(),
		EndpointID: endpointID,
		EventType:  "order.created",
		Payload:    json.RawMessage(`{"order_id":42}`),
		Status:     domain.AttemptPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestDeliveryService_Execute_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	attempt := testAttempt(endpoint.ID)

	var sentReq *http.Request
	var sentBody []byte
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			sentReq = req
			sentBody, _ = io.ReadAll(req.Body)
			return &http.Response{
				StatusCode: 200,
				Header:     http.Header{"X-Request-Id": []string{"abc"}},
				Body:       io.NopCloser(strings.NewReader(`{"received":true}`)),
			}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign("whsec_test", gomock.Any()).Return("deadbeef")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliverySuccess, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptSuccess, attempt.Status)
	assert.NotNil(t, attempt.DeliveredAt)
	assert.Nil(t, attempt.NextRetryAt)
	assert.Nil(t, attempt.LastError)
	require.NotNil(t, attempt.ResponseStatus)
	assert.Equal(t, 200, *attempt.ResponseStatus)
	require.NotNil(t, attempt.ResponseExcerpt)
	assert.Equal(t, `{"received":true}`, *attempt.ResponseExcerpt)
	assert.Equal(t, "abc", attempt.ResponseHeaders["X-Request-Id"])

	require.NotNil(t, sentReq)
	assert.Equal(t, http.MethodPost, sentReq.Method)
	assert.Equal(t, endpoint.URL, sentReq.URL.String())
	assert.Equal(t, "application/json", sentReq.Header.Get("Content-Type"))
	assert.Equal(t, "webhook-delivery-engine/1.0", sentReq.Header.Get("User-Agent"))
	assert.Equal(t, "order.created", sentReq.Header.Get(HeaderWebhookEvent))
	assert.Equal(t, endpoint.ID.String(), sentReq.Header.Get(HeaderWebhookID))
	assert.Equal(t, "sha256=deadbeef", sentReq.Header.Get(HeaderWebhookSignature))
	assert.Empty(t, sentReq.Header.Get(HeaderWebhookRetry))

	var envelope Envelope
	require.NoError(t, json.Unmarshal(sentBody, &envelope))
	assert.Equal(t, attempt.ID.String(), envelope.ID)
	assert.Equal(t, "order.created", envelope.Event)
	assert.Equal(t, attempt.CreatedAt.Unix(), envelope.Created)
	assert.JSONEq(t, `{"order_id":42}`, string(envelope.Data))
}

func TestDeliveryService_Execute_SignatureVerifiableAgainstBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	sigSvc := NewHMACSignatureService()
	endpoint := testEndpoint(3)
	attempt := testAttempt(endpoint.ID)

	var gotBody []byte
	var gotSig string
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			gotBody, _ = io.ReadAll(req.Body)
			gotSig = req.Header.Get(HeaderWebhookSignature)
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliverySuccess, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	svc := NewDeliveryService(
		f.endpoints, f.deliveries, f.encSvc, sigSvc, f.statsCache,
		httpClient, Backoff{}, 1024, "", newTestLogger(),
	)
	svc.Execute(context.Background(), attempt, endpoint)

	// A receiver recomputing HMAC-SHA256 over the raw body must get a match.
	require.True(t, strings.HasPrefix(gotSig, SignatureScheme))
	assert.True(t, sigSvc.Verify("whsec_test", gotBody, strings.TrimPrefix(gotSig, SignatureScheme)))
}

func TestDeliveryService_Execute_Non2xxSchedulesRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	attempt := testAttempt(endpoint.ID)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 503, Body: io.NopCloser(strings.NewReader("unavailable"))}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliveryFailure, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	before := time.Now()
	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptRetryScheduled, attempt.Status)
	assert.Equal(t, 1, attempt.RetryCount)
	require.NotNil(t, attempt.NextRetryAt)
	// First retry waits 2^1 = 2 minutes.
	assert.WithinDuration(t, before.Add(2*time.Minute), *attempt.NextRetryAt, 5*time.Second)
	require.NotNil(t, attempt.ResponseStatus)
	assert.Equal(t, 503, *attempt.ResponseStatus)
}

func TestDeliveryService_Execute_BackoffDoublesPerRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(10)
	attempt := testAttempt(endpoint.ID)
	attempt.Status = domain.AttemptRetryScheduled
	attempt.RetryCount = 2

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliveryFailure, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	before := time.Now()
	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptRetryScheduled, attempt.Status)
	assert.Equal(t, 3, attempt.RetryCount)
	require.NotNil(t, attempt.NextRetryAt)
	// Third retry waits 2^3 = 8 minutes.
	assert.WithinDuration(t, before.Add(8*time.Minute), *attempt.NextRetryAt, 5*time.Second)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "connection refused")
}

func TestDeliveryService_Execute_ExhaustsAtCeiling(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	attempt := testAttempt(endpoint.ID)
	attempt.Status = domain.AttemptRetryScheduled
	attempt.RetryCount = 3 // next failure would be retry 4 > ceiling of 3

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 500, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliveryFailure, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptExhausted, attempt.Status)
	assert.Equal(t, 3, attempt.RetryCount)
	assert.Nil(t, attempt.NextRetryAt)
}

func TestDeliveryService_Execute_ZeroMaxRetriesExhaustsImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(0)
	attempt := testAttempt(endpoint.ID)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 500, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliveryFailure, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptExhausted, attempt.Status)
	assert.Equal(t, 0, attempt.RetryCount)
	assert.Nil(t, attempt.NextRetryAt)
}

func TestDeliveryService_Execute_RetryReusesBodyAndSetsRetryHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(5)
	attempt := testAttempt(endpoint.ID)
	attempt.Status = domain.AttemptRetryScheduled
	attempt.RetryCount = 2
	originalBody := []byte(`{"id":"fixed","event":"order.created","created":123,"data":{"order_id":42}}`)
	attempt.Request = domain.RequestSnapshot{Body: originalBody}

	var sentBody []byte
	var retryHeader string
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			sentBody, _ = io.ReadAll(req.Body)
			retryHeader = req.Header.Get(HeaderWebhookRetry)
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign("whsec_test", originalBody).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliverySuccess, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	// Retries resend the exact original bytes so the envelope id dedups.
	assert.Equal(t, originalBody, sentBody)
	assert.Equal(t, "2", retryHeader)
	assert.Equal(t, domain.AttemptSuccess, attempt.Status)
}

func TestDeliveryService_Execute_MissingSecretIsTerminalConfigFault(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	endpoint.SecretEnc = ""
	attempt := testAttempt(endpoint.ID)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no network call expected for a configuration fault")
			return nil, nil
		},
	}

	// Configuration faults never touch the endpoint's delivery counters.
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptFailure, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "CFG_001")
	assert.Nil(t, attempt.NextRetryAt)
}

func TestDeliveryService_Execute_MalformedURLIsTerminalConfigFault(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	endpoint.URL = "not a url"
	attempt := testAttempt(endpoint.ID)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no network call expected for a configuration fault")
			return nil, nil
		},
	}

	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptFailure, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "CFG_002")
}

func TestDeliveryService_Execute_SecretDecryptionFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	attempt := testAttempt(endpoint.ID)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no network call expected for a configuration fault")
			return nil, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("", errors.New("cipher: message authentication failed"))
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)

	f.service(httpClient).Execute(context.Background(), attempt, endpoint)

	assert.Equal(t, domain.AttemptFailure, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "CFG_003")
}

func TestDeliveryService_Execute_ResponseExcerptTruncated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)
	attempt := testAttempt(endpoint.ID)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 5000))),
			}, nil
		},
	}

	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), attempt).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliverySuccess, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	svc := NewDeliveryService(
		f.endpoints, f.deliveries, f.encSvc, f.sigSvc, f.statsCache,
		httpClient, Backoff{}, 64, "", newTestLogger(),
	)
	svc.Execute(context.Background(), attempt, endpoint)

	require.NotNil(t, attempt.ResponseExcerpt)
	assert.Len(t, *attempt.ResponseExcerpt, 64)
}

func TestDeliveryService_SendTest_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(3)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, TestEventType, req.Header.Get(HeaderWebhookEvent))
			return &http.Response{StatusCode: 204, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}

	f.endpoints.EXPECT().GetByID(gomock.Any(), endpoint.ID).Return(endpoint, nil)
	f.deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), gomock.Any()).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliverySuccess, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	attempt, err := f.service(httpClient).SendTest(context.Background(), endpoint.ID)

	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, TestEventType, attempt.EventType)
	assert.Equal(t, domain.AttemptSuccess, attempt.Status)
}

func TestDeliveryService_SendTest_FailureIsTerminalNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpoint := testEndpoint(5)

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 500, Body: io.NopCloser(strings.NewReader("boom"))}, nil
		},
	}

	f.endpoints.EXPECT().GetByID(gomock.Any(), endpoint.ID).Return(endpoint, nil)
	f.deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	f.encSvc.EXPECT().Decrypt("encrypted-secret").Return("whsec_test", nil)
	f.sigSvc.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")
	f.deliveries.EXPECT().UpdateOutcome(gomock.Any(), gomock.Any()).Return(nil)
	f.endpoints.EXPECT().RecordDeliveryResult(gomock.Any(), endpoint.ID, domain.DeliveryFailure, gomock.Any()).Return(nil)
	f.statsCache.EXPECT().Invalidate(gomock.Any(), endpoint.ID).Return(nil)

	attempt, err := f.service(httpClient).SendTest(context.Background(), endpoint.ID)

	require.NoError(t, err)
	require.NotNil(t, attempt)
	// Test sends bypass the retry scheduler entirely.
	assert.Equal(t, domain.AttemptFailure, attempt.Status)
	assert.Nil(t, attempt.NextRetryAt)
	assert.Equal(t, 0, attempt.RetryCount)
}

func TestDeliveryService_SendTest_EndpointNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newDeliveryFixture(ctrl)
	endpointID := uuid.New()

	f.endpoints.EXPECT().GetByID(gomock.Any(), endpointID).Return(nil, nil)

	attempt, err := f.service(&mockHTTPClient{}).SendTest(context.Background(), endpointID)

	assert.Nil(t, attempt)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "DSP_004", appErr.Code)
}
