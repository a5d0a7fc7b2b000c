package sync

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	domain "clinisync/internal/domain/sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// MockServicer is a mock implementation of the sync.Servicer interface for testing
type MockServicer struct {
	mock.Mock
}

func (m *MockServicer) Submit(ctx context.Context, req domain.BatchRequest) (*domain.BatchResponse, *domain.QueuedResponse, error) {
	args := m.Called(ctx, req)
	var resp *domain.BatchResponse
	var queued *domain.QueuedResponse
	if args.Get(0) != nil {
		resp = args.Get(0).(*domain.BatchResponse)
	}
	if args.Get(1) != nil {
		queued = args.Get(1).(*domain.QueuedResponse)
	}
	return resp, queued, args.Error(2)
}

func (m *MockServicer) Enqueue(ctx context.Context, req domain.BatchRequest) (*domain.QueuedResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueuedResponse), args.Error(1)
}

func (m *MockServicer) ProcessLedger(ctx context.Context, batchID uuid.UUID) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

func (m *MockServicer) BatchStatus(ctx context.Context, batchID uuid.UUID) (*domain.BatchStatusResponse, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchStatusResponse), args.Error(1)
}

func (m *MockServicer) DeviceStatus(ctx context.Context, deviceID string) (*domain.DeviceStatusResponse, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceStatusResponse), args.Error(1)
}

func testRequest() domain.BatchRequest {
	return domain.BatchRequest{
		DeviceID: "tablet-1",
		Operations: []domain.Operation{{
			Entity:    domain.EntityPatient,
			Action:    domain.ActionCreate,
			LocalID:   "p-1",
			Data:      []byte(`{"first_name":"Ana","last_name":"Torres"}`),
			Timestamp: time.Now(),
		}},
	}
}

func TestHandler_Submit_Inline(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	req := testRequest()
	result := &domain.BatchResponse{
		BatchID:    uuid.New(),
		Applied:    []domain.Applied{{LocalID: "p-1", Status: "applied"}},
		ServerTime: time.Now(),
	}
	mockSvc.On("Submit", mock.Anything, req).Return(result, nil, nil)

	output, err := handler.submit(context.Background(), &submitInput{Body: req})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, output.Status)
	require.NotNil(t, output.Body.Result)
	assert.Nil(t, output.Body.Queued)
	assert.Equal(t, result.BatchID, output.Body.Result.BatchID)
}

func TestHandler_Submit_Queued(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	req := testRequest()
	queued := &domain.QueuedResponse{BatchID: uuid.New(), Status: "queued", OperationCount: 51}
	mockSvc.On("Submit", mock.Anything, req).Return(nil, queued, nil)

	output, err := handler.submit(context.Background(), &submitInput{Body: req})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, output.Status)
	assert.Nil(t, output.Body.Result)
	require.NotNil(t, output.Body.Queued)
	assert.Equal(t, queued.BatchID, output.Body.Queued.BatchID)
}

func TestHandler_Submit_ValidationError(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	req := testRequest()
	mockSvc.On("Submit", mock.Anything, req).
		Return(nil, nil, &domain.ValidationError{Reason: "device_id is required"})

	_, err := handler.submit(context.Background(), &submitInput{Body: req})
	require.Error(t, err)

	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.GetStatus())
}

func TestHandler_SubmitAsync(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	req := testRequest()
	queued := &domain.QueuedResponse{BatchID: uuid.New(), Status: "queued", OperationCount: 1}
	mockSvc.On("Enqueue", mock.Anything, req).Return(queued, nil)

	output, err := handler.submitAsync(context.Background(), &asyncInput{Body: req})
	require.NoError(t, err)
	assert.Equal(t, queued.BatchID, output.Body.BatchID)
}

func TestHandler_BatchStatus(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	batchID := uuid.New()
	mockSvc.On("BatchStatus", mock.Anything, batchID).Return(&domain.BatchStatusResponse{
		BatchID: batchID,
		Status:  domain.StatusCompleted,
	}, nil)

	output, err := handler.batchStatus(context.Background(), &batchStatusInput{ID: batchID.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, output.Body.Status)
}

func TestHandler_BatchStatus_InvalidID(t *testing.T) {
	handler := NewHandler(new(MockServicer), slog.Default(), huma.Middlewares{})

	_, err := handler.batchStatus(context.Background(), &batchStatusInput{ID: "not-a-uuid"})
	require.Error(t, err)

	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.GetStatus())
}

func TestHandler_BatchStatus_NotFound(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	batchID := uuid.New()
	mockSvc.On("BatchStatus", mock.Anything, batchID).Return(nil, domain.ErrBatchNotFound)

	_, err := handler.batchStatus(context.Background(), &batchStatusInput{ID: batchID.String()})
	require.Error(t, err)

	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.GetStatus())
}

func TestHandler_DeviceStatus(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	lastSync := time.Now()
	mockSvc.On("DeviceStatus", mock.Anything, "tablet-1").Return(&domain.DeviceStatusResponse{
		DeviceID:       "tablet-1",
		LastSync:       &lastSync,
		PendingBatches: 1,
		TotalMappings:  10,
	}, nil)

	output, err := handler.deviceStatus(context.Background(), &deviceStatusInput{DeviceID: "tablet-1"})
	require.NoError(t, err)
	assert.Equal(t, "tablet-1", output.Body.DeviceID)
	assert.Equal(t, 1, output.Body.PendingBatches)
}

func TestHandler_InternalError(t *testing.T) {
	mockSvc := new(MockServicer)
	handler := NewHandler(mockSvc, slog.Default(), huma.Middlewares{})

	mockSvc.On("DeviceStatus", mock.Anything, "tablet-1").Return(nil, errors.New("pg: connection reset"))

	_, err := handler.deviceStatus(context.Background(), &deviceStatusInput{DeviceID: "tablet-1"})
	require.Error(t, err)

	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.GetStatus())
}
