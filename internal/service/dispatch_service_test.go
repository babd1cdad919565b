package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"webhook-delivery-engine/internal/core/domain"
	"webhook-delivery-engine/internal/core/ports/mocks"
	"webhook-delivery-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func matchingEndpoint(scopeID int64, events ...string) domain.Endpoint {
	return domain.Endpoint{
		ID:               uuid.New(),
		ScopeID:          scopeID,
		URL:              "https://receiver.example.com/hooks",
		SecretEnc:        "encrypted-secret",
		SubscribedEvents: events,
		Active:           true,
		MaxRetries:       3,
		TimeoutSeconds:   5,
	}
}

func TestDispatchService_Dispatch_FanOutOnePerMatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	endpoints := mocks.NewMockEndpointRepository(ctrl)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	executor := mocks.NewMockDeliveryExecutor(ctrl)

	matches := []domain.Endpoint{
		matchingEndpoint(7, "order.created"),
		matchingEndpoint(7, "*"),
		matchingEndpoint(7, "order.created", "order.shipped"),
	}
	endpoints.EXPECT().ListMatching(gomock.Any(), int64(7), "order.created").Return(matches, nil)

	var mu sync.Mutex
	created := make(map[uuid.UUID]*domain.DeliveryAttempt)
	deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, attempt *domain.DeliveryAttempt) error {
			mu.Lock()
			defer mu.Unlock()
			created[attempt.EndpointID] = attempt
			return nil
		}).Times(3)

	var wg sync.WaitGroup
	wg.Add(3)
	executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, _ *domain.DeliveryAttempt, _ *domain.Endpoint) {
			wg.Done()
		}).Times(3)

	svc := NewDispatchService(endpoints, deliveries, executor, newTestLogger())
	err := svc.Dispatch(context.Background(), domain.Event{
		Type:    "order.created",
		ScopeID: 7,
		Data:    map[string]any{"order_id": 42},
	})

	require.NoError(t, err)
	waitDone(t, &wg)

	// Exactly one pending attempt per matching endpoint, all sharing the
	// serialized event payload.
	require.Len(t, created, 3)
	for _, match := range matches {
		attempt, ok := created[match.ID]
		require.True(t, ok)
		assert.Equal(t, domain.AttemptPending, attempt.Status)
		assert.Equal(t, "order.created", attempt.EventType)
		assert.JSONEq(t, `{"order_id":42}`, string(attempt.Payload))
		assert.Equal(t, 0, attempt.RetryCount)
		assert.Nil(t, attempt.NextRetryAt)
	}
}

func TestDispatchService_Dispatch_ZeroMatchesIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	endpoints := mocks.NewMockEndpointRepository(ctrl)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	executor := mocks.NewMockDeliveryExecutor(ctrl)

	endpoints.EXPECT().ListMatching(gomock.Any(), int64(7), "order.cancelled").Return(nil, nil)

	svc := NewDispatchService(endpoints, deliveries, executor, newTestLogger())
	err := svc.Dispatch(context.Background(), domain.Event{Type: "order.cancelled", ScopeID: 7})

	assert.NoError(t, err)
}

func TestDispatchService_Dispatch_RegistryReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	endpoints := mocks.NewMockEndpointRepository(ctrl)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	executor := mocks.NewMockDeliveryExecutor(ctrl)

	endpoints.EXPECT().ListMatching(gomock.Any(), int64(7), "order.created").
		Return(nil, errors.New("connection reset"))

	svc := NewDispatchService(endpoints, deliveries, executor, newTestLogger())
	err := svc.Dispatch(context.Background(), domain.Event{Type: "order.created", ScopeID: 7})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "DSP_001", appErr.Code)
}

func TestDispatchService_Dispatch_EnqueueFailureDoesNotBlockOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	endpoints := mocks.NewMockEndpointRepository(ctrl)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	executor := mocks.NewMockDeliveryExecutor(ctrl)

	broken := matchingEndpoint(7, "order.created")
	healthy := matchingEndpoint(7, "order.created")
	endpoints.EXPECT().ListMatching(gomock.Any(), int64(7), "order.created").
		Return([]domain.Endpoint{broken, healthy}, nil)

	deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, attempt *domain.DeliveryAttempt) error {
			if attempt.EndpointID == broken.ID {
				return errors.New("insert failed")
			}
			return nil
		}).Times(2)

	var wg sync.WaitGroup
	wg.Add(1)
	executor.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, attempt *domain.DeliveryAttempt, _ *domain.Endpoint) {
			assert.Equal(t, healthy.ID, attempt.EndpointID)
			wg.Done()
		}).Times(1)

	svc := NewDispatchService(endpoints, deliveries, executor, newTestLogger())
	err := svc.Dispatch(context.Background(), domain.Event{Type: "order.created", ScopeID: 7})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "DSP_002", appErr.Code)
	waitDone(t, &wg)
}

func TestDispatchService_Dispatch_EmptyEventType(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	endpoints := mocks.NewMockEndpointRepository(ctrl)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	executor := mocks.NewMockDeliveryExecutor(ctrl)

	svc := NewDispatchService(endpoints, deliveries, executor, newTestLogger())
	err := svc.Dispatch(context.Background(), domain.Event{ScopeID: 7})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "DSP_003", appErr.Code)
}

func TestDispatchService_Dispatch_UnserializableData(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	endpoints := mocks.NewMockEndpointRepository(ctrl)
	deliveries := mocks.NewMockDeliveryRepository(ctrl)
	executor := mocks.NewMockDeliveryExecutor(ctrl)

	endpoints.EXPECT().ListMatching(gomock.Any(), int64(7), "order.created").
		Return([]domain.Endpoint{matchingEndpoint(7, "*")}, nil)

	svc := NewDispatchService(endpoints, deliveries, executor, newTestLogger())
	err := svc.Dispatch(context.Background(), domain.Event{
		Type:    "order.created",
		ScopeID: 7,
		Data:    map[string]any{"ch": make(chan int)},
	})

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "DSP_003", appErr.Code)
}

func waitDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async deliveries timed out")
	}
}
