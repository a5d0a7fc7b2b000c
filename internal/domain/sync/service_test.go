package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"clinisync/internal/app/server/api/http/middleware/auth"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// MockRepository is a mock implementation of the Repository interface for testing
type MockRepository struct {
	mock.Mock

	// txDepth is raised while WithTx runs fn, so fixtures can observe
	// whether a call happened inside the transaction.
	txDepth int
}

func (m *MockRepository) WithTx(ctx context.Context, fn func(context.Context) error) error {
	m.txDepth++
	defer func() { m.txDepth-- }()
	return fn(ctx)
}

func (m *MockRepository) CreateBatch(ctx context.Context, batch *Batch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockRepository) GetBatch(ctx context.Context, clinicID, batchID uuid.UUID) (*Batch, error) {
	args := m.Called(ctx, clinicID, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Batch), args.Error(1)
}

func (m *MockRepository) GetBatchByID(ctx context.Context, batchID uuid.UUID) (*Batch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Batch), args.Error(1)
}

func (m *MockRepository) SetBatchStatus(ctx context.Context, batchID uuid.UUID, status BatchStatus) error {
	args := m.Called(ctx, batchID, status)
	return args.Error(0)
}

func (m *MockRepository) IncrementBatchAttempts(ctx context.Context, batchID uuid.UUID) (int, error) {
	args := m.Called(ctx, batchID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) FinishBatch(ctx context.Context, batch *Batch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockRepository) ListPendingBatches(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRepository) CountPendingBatches(ctx context.Context, clinicID uuid.UUID, deviceID string) (int, error) {
	args := m.Called(ctx, clinicID, deviceID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) LastSuccessfulSync(ctx context.Context, clinicID uuid.UUID, deviceID string) (*time.Time, error) {
	args := m.Called(ctx, clinicID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *MockRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) GetMapping(ctx context.Context, clinicID uuid.UUID, deviceID string, entity EntityType, localID string) (*Mapping, error) {
	args := m.Called(ctx, clinicID, deviceID, entity, localID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Mapping), args.Error(1)
}

func (m *MockRepository) RecordMapping(ctx context.Context, mapping *Mapping) error {
	args := m.Called(ctx, mapping)
	return args.Error(0)
}

func (m *MockRepository) CountMappings(ctx context.Context, clinicID uuid.UUID, deviceID string) (int, error) {
	args := m.Called(ctx, clinicID, deviceID)
	return args.Int(0), args.Error(1)
}

// MockEnqueuer is a mock implementation of the Enqueuer interface for testing
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, batchID uuid.UUID) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}

// fakeRecord is a minimal Record for resolver tests.
type fakeRecord struct {
	id       uuid.UUID
	created  time.Time
	modified time.Time
}

func (r fakeRecord) ServerID() uuid.UUID    { return r.id }
func (r fakeRecord) CreatedTime() time.Time { return r.created }
func (r fakeRecord) ModifiedTime() time.Time {
	return r.modified
}

// fakeHandler is a configurable append-only handler.
type fakeHandler struct {
	createFn  func(ctx context.Context, actor auth.Actor, data json.RawMessage, refs RefResolver) (uuid.UUID, error)
	changedFn func(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]Delta, error)
}

func (h *fakeHandler) Create(ctx context.Context, actor auth.Actor, data json.RawMessage, refs RefResolver) (uuid.UUID, error) {
	if h.createFn == nil {
		return uuid.New(), nil
	}
	return h.createFn(ctx, actor, data, refs)
}

func (h *fakeHandler) ChangedSince(ctx context.Context, clinicID uuid.UUID, since time.Time, limit int) ([]Delta, error) {
	if h.changedFn == nil {
		return nil, nil
	}
	return h.changedFn(ctx, clinicID, since, limit)
}

// fakeMutableHandler adds the update capability on top of fakeHandler.
type fakeMutableHandler struct {
	fakeHandler
	getFn      func(ctx context.Context, clinicID, serverID uuid.UUID) (Record, error)
	updateFn   func(ctx context.Context, actor auth.Actor, rec Record, data json.RawMessage, ts time.Time) error
	snapshotFn func(rec Record) (map[string]any, error)
}

func (h *fakeMutableHandler) Get(ctx context.Context, clinicID, serverID uuid.UUID) (Record, error) {
	return h.getFn(ctx, clinicID, serverID)
}

func (h *fakeMutableHandler) Update(ctx context.Context, actor auth.Actor, rec Record, data json.RawMessage, ts time.Time) error {
	if h.updateFn == nil {
		return nil
	}
	return h.updateFn(ctx, actor, rec, data, ts)
}

func (h *fakeMutableHandler) Snapshot(rec Record) (map[string]any, error) {
	if h.snapshotFn == nil {
		return map[string]any{"id": rec.ServerID().String()}, nil
	}
	return h.snapshotFn(rec)
}

var (
	testActor = auth.Actor{UserID: uuid.New(), ClinicID: uuid.New()}
)

func authedContext() context.Context {
	return context.WithValue(context.Background(), auth.ActorKey, testActor)
}

func testConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxBatchSize:    500,
		AsyncThreshold:  50,
		DeltaLimit:      200,
		MappingCacheTTL: time.Minute,
	}
}

func operation(entity EntityType, action Action, localID string) Operation {
	return Operation{
		Entity:    entity,
		Action:    action,
		LocalID:   localID,
		Data:      json.RawMessage(`{"first_name":"Ana"}`),
		Timestamp: time.Now().UTC(),
	}
}

func TestService_Submit_Unauthenticated(t *testing.T) {
	service := NewService(new(MockRepository), NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	_, _, err := service.Submit(context.Background(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{operation(EntityPatient, ActionCreate, "p-1")},
	})
	assert.Error(t, err)
}

func TestService_Submit_Validation(t *testing.T) {
	service := NewService(new(MockRepository), NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())
	ctx := authedContext()

	tests := []struct {
		name string
		req  BatchRequest
	}{
		{"missing device id", BatchRequest{
			Operations: []Operation{operation(EntityPatient, ActionCreate, "p-1")},
		}},
		{"empty batch", BatchRequest{DeviceID: "tablet-1"}},
		{"unknown entity", BatchRequest{
			DeviceID:   "tablet-1",
			Operations: []Operation{operation("invoice", ActionCreate, "i-1")},
		}},
		{"unknown action", BatchRequest{
			DeviceID:   "tablet-1",
			Operations: []Operation{operation(EntityPatient, "delete", "p-1")},
		}},
		{"missing local id", BatchRequest{
			DeviceID:   "tablet-1",
			Operations: []Operation{operation(EntityPatient, ActionCreate, "")},
		}},
		{"missing timestamp", BatchRequest{
			DeviceID: "tablet-1",
			Operations: []Operation{{
				Entity:  EntityPatient,
				Action:  ActionCreate,
				LocalID: "p-1",
				Data:    json.RawMessage(`{}`),
			}},
		}},
		{"missing payload", BatchRequest{
			DeviceID: "tablet-1",
			Operations: []Operation{{
				Entity:    EntityPatient,
				Action:    ActionCreate,
				LocalID:   "p-1",
				Timestamp: time.Now(),
			}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := service.Submit(ctx, tt.req)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestService_Submit_BatchTooLarge(t *testing.T) {
	service := NewService(new(MockRepository), NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	ops := make([]Operation, 501)
	for i := range ops {
		ops[i] = operation(EntityPatient, ActionCreate, fmt.Sprintf("p-%d", i))
	}

	_, _, err := service.Submit(authedContext(), BatchRequest{DeviceID: "tablet-1", Operations: ops})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestService_Submit_InlineCreate(t *testing.T) {
	mockRepo := new(MockRepository)
	serverID := uuid.New()

	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(_ context.Context, actor auth.Actor, _ json.RawMessage, _ RefResolver) (uuid.UUID, error) {
				assert.Equal(t, testActor.ClinicID, actor.ClinicID)
				return serverID, nil
			},
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusProcessing && b.OperationCount == 1 && b.DeviceID == "tablet-1"
	})).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").Return(nil, nil)
	mockRepo.On("RecordMapping", mock.Anything, mock.MatchedBy(func(m *Mapping) bool {
		return m.ServerID == serverID && m.LocalID == "p-1" && m.Entity == EntityPatient
	})).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusCompleted && b.Result.AppliedCount == 1
	})).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	resp, queued, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{operation(EntityPatient, ActionCreate, "p-1")},
	})
	require.NoError(t, err)
	assert.Nil(t, queued)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "applied", resp.Applied[0].Status)
	assert.Equal(t, serverID.String(), resp.Applied[0].ServerID)
	assert.Empty(t, resp.Conflicts)
	assert.Empty(t, resp.Errors)

	mockRepo.AssertExpectations(t)
}

func TestService_Submit_ReplayedCreate(t *testing.T) {
	mockRepo := new(MockRepository)
	serverID := uuid.New()

	created := false
	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(context.Context, auth.Actor, json.RawMessage, RefResolver) (uuid.UUID, error) {
				created = true
				return uuid.New(), nil
			},
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").
		Return(&Mapping{ServerID: serverID}, nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{operation(EntityPatient, ActionCreate, "p-1")},
	})
	require.NoError(t, err)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "already_applied", resp.Applied[0].Status)
	assert.Equal(t, serverID.String(), resp.Applied[0].ServerID)
	assert.False(t, created, "a replayed create must not reach the handler")
}

func TestService_Submit_IntraBatchReference(t *testing.T) {
	mockRepo := new(MockRepository)
	patientID := uuid.New()

	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(context.Context, auth.Actor, json.RawMessage, RefResolver) (uuid.UUID, error) {
				return patientID, nil
			},
		},
	})

	var resolvedPatient uuid.UUID
	registry.Register(EntityAppointment, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(ctx context.Context, _ auth.Actor, _ json.RawMessage, refs RefResolver) (uuid.UUID, error) {
				id, err := refs.ResolveRef(ctx, EntityPatient, "p-1")
				if err != nil {
					return uuid.Nil, err
				}
				resolvedPatient = id
				return uuid.New(), nil
			},
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	// Only the patient's own replay check hits the repository; the
	// appointment's reference resolves from the in-batch overlay.
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").Return(nil, nil).Once()
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityAppointment, "a-1").Return(nil, nil).Once()
	mockRepo.On("RecordMapping", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID: "tablet-1",
		Operations: []Operation{
			operation(EntityPatient, ActionCreate, "p-1"),
			operation(EntityAppointment, ActionCreate, "a-1"),
		},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Applied, 2)
	assert.Equal(t, patientID, resolvedPatient)
	mockRepo.AssertExpectations(t)
}

func TestService_Submit_StaleUpdateConflict(t *testing.T) {
	mockRepo := new(MockRepository)
	serverID := uuid.New()
	opTime := time.Now().Add(-time.Hour)

	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (Record, error) {
			return fakeRecord{id: serverID, modified: time.Now()}, nil
		},
		snapshotFn: func(rec Record) (map[string]any, error) {
			return map[string]any{"id": rec.ServerID().String(), "first_name": "Ana"}, nil
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").
		Return(&Mapping{ServerID: serverID}, nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		// Conflicts alone do not degrade the batch status.
		return b.Status == StatusCompleted && b.Result.ConflictsCount == 1
	})).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	op := operation(EntityPatient, ActionUpdate, "p-1")
	op.Timestamp = opTime

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{op},
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, ReasonStaleWrite, resp.Conflicts[0].Reason)
	assert.Equal(t, "Ana", resp.Conflicts[0].ServerVersion["first_name"])
	assert.Empty(t, resp.Applied)
}

func TestService_Submit_UpdateApplies(t *testing.T) {
	mockRepo := new(MockRepository)
	serverID := uuid.New()
	opTime := time.Now()

	var updatedAt time.Time
	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (Record, error) {
			return fakeRecord{id: serverID, modified: opTime.Add(-time.Hour)}, nil
		},
		updateFn: func(_ context.Context, _ auth.Actor, _ Record, _ json.RawMessage, ts time.Time) error {
			updatedAt = ts
			return nil
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").
		Return(&Mapping{ServerID: serverID}, nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	op := operation(EntityPatient, ActionUpdate, "p-1")
	op.Timestamp = opTime

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{op},
	})
	require.NoError(t, err)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "applied", resp.Applied[0].Status)
	assert.Equal(t, opTime, updatedAt, "the client timestamp must become the record's modified time")
}

func TestService_Submit_AppendOnlyUpdateRejected(t *testing.T) {
	mockRepo := new(MockRepository)

	// A plain EntityHandler carries no update capability.
	registry := NewRegistry()
	registry.Register(EntityRecord, &fakeHandler{})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{operation(EntityRecord, ActionUpdate, "r-1")},
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, ReasonImmutable, resp.Conflicts[0].Reason)
}

func TestService_Submit_UpdateTargetNotFound(t *testing.T) {
	mockRepo := new(MockRepository)

	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (Record, error) {
			return nil, fmt.Errorf("patient: %w", ErrNotFound)
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	// Local id that never got a mapping and does not parse as a uuid.
	opUnmapped := operation(EntityPatient, ActionUpdate, "p-unknown")
	// Local id that parses as a uuid but belongs to no record of this clinic.
	opForeign := operation(EntityPatient, ActionUpdate, uuid.NewString())

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{opUnmapped, opForeign},
	})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 2)
	for _, c := range resp.Conflicts {
		assert.Equal(t, ReasonTargetNotFound, c.Reason)
	}
}

func TestService_Submit_MappingFailureRollsBackCreate(t *testing.T) {
	mockRepo := new(MockRepository)
	serverID := uuid.New()

	createCalls := 0
	createDepth := -1
	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(context.Context, auth.Actor, json.RawMessage, RefResolver) (uuid.UUID, error) {
				createCalls++
				createDepth = mockRepo.txDepth
				return serverID, nil
			},
		},
	})

	mappingDepth := -1
	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").Return(nil, nil)
	mockRepo.On("RecordMapping", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { mappingDepth = mockRepo.txDepth }).
		Return(errors.New("connection reset")).Once()
	mockRepo.On("FinishBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusFailed && b.Result.ErrorsCount == 1
	})).Return(nil).Once()

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	req := BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{operation(EntityPatient, ActionCreate, "p-1")},
	}

	resp, _, err := service.Submit(authedContext(), req)
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Error, "record mapping")

	// The entity write and the mapping insert share one transaction, so the
	// failed insert takes the entity row down with it.
	assert.Equal(t, 1, createDepth, "create must run inside the transaction")
	assert.Equal(t, 1, mappingDepth, "mapping insert must run inside the transaction")

	// The retry finds no mapping and no leftover row, so the create runs
	// again and applies cleanly instead of duplicating.
	mockRepo.On("RecordMapping", mock.Anything, mock.MatchedBy(func(m *Mapping) bool {
		return m.ServerID == serverID && m.LocalID == "p-1"
	})).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusCompleted && b.Result.AppliedCount == 1
	})).Return(nil)

	resp, _, err = service.Submit(authedContext(), req)
	require.NoError(t, err)
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "applied", resp.Applied[0].Status)
	assert.Equal(t, 2, createCalls)

	mockRepo.AssertExpectations(t)
}

func TestService_Submit_FinishFailureMarksBatchFailed(t *testing.T) {
	mockRepo := new(MockRepository)

	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	mockRepo.On("RecordMapping", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	// The row must not stay parked in processing, the sweep only rescues
	// pending rows.
	mockRepo.On("SetBatchStatus", mock.Anything, mock.Anything, StatusFailed).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	_, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID:   "tablet-1",
		Operations: []Operation{operation(EntityPatient, ActionCreate, "p-1")},
	})
	require.Error(t, err)
	mockRepo.AssertCalled(t, "SetBatchStatus", mock.Anything, mock.Anything, StatusFailed)
}

func TestService_Submit_PartialFailureIsolation(t *testing.T) {
	mockRepo := new(MockRepository)

	calls := 0
	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(context.Context, auth.Actor, json.RawMessage, RefResolver) (uuid.UUID, error) {
				calls++
				if calls == 1 {
					return uuid.Nil, errors.New("dni already registered")
				}
				return uuid.New(), nil
			},
		},
	})

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	mockRepo.On("RecordMapping", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusPartial &&
			b.Result.AppliedCount == 1 &&
			b.Result.ErrorsCount == 1 &&
			b.ErrorMessage != ""
	})).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	resp, _, err := service.Submit(authedContext(), BatchRequest{
		DeviceID: "tablet-1",
		Operations: []Operation{
			operation(EntityPatient, ActionCreate, "p-1"),
			operation(EntityPatient, ActionCreate, "p-2"),
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "p-1", resp.Errors[0].LocalID)
	assert.Contains(t, resp.Errors[0].Error, "dni already registered")
	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "p-2", resp.Applied[0].LocalID)

	mockRepo.AssertExpectations(t)
}

func TestService_Submit_RoutesLargeBatchToQueue(t *testing.T) {
	mockRepo := new(MockRepository)
	mockEnqueuer := new(MockEnqueuer)

	ops := make([]Operation, 51)
	for i := range ops {
		ops[i] = operation(EntityPatient, ActionCreate, fmt.Sprintf("p-%d", i))
	}

	mockRepo.On("CreateBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusPending && b.OperationCount == 51
	})).Return(nil)
	mockEnqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, NewRegistry(), mockEnqueuer, slog.Default(), testConfig())

	resp, queued, err := service.Submit(authedContext(), BatchRequest{DeviceID: "tablet-1", Operations: ops})
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, queued)
	assert.Equal(t, "queued", queued.Status)
	assert.Equal(t, 51, queued.OperationCount)

	mockRepo.AssertExpectations(t)
	mockEnqueuer.AssertExpectations(t)
}

func TestService_Submit_PublishFailureStillQueued(t *testing.T) {
	mockRepo := new(MockRepository)
	mockEnqueuer := new(MockEnqueuer)

	ops := make([]Operation, 51)
	for i := range ops {
		ops[i] = operation(EntityPatient, ActionCreate, fmt.Sprintf("p-%d", i))
	}

	mockRepo.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	mockEnqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	service := NewService(mockRepo, NewRegistry(), mockEnqueuer, slog.Default(), testConfig())

	// The ledger row is durable, so a lost publish is not an intake failure:
	// the pending sweep re-enqueues it.
	_, queued, err := service.Submit(authedContext(), BatchRequest{DeviceID: "tablet-1", Operations: ops})
	require.NoError(t, err)
	require.NotNil(t, queued)
}

func TestService_ProcessLedger_SkipsNonPending(t *testing.T) {
	mockRepo := new(MockRepository)
	batchID := uuid.New()

	mockRepo.On("GetBatchByID", mock.Anything, batchID).Return(&Batch{
		ID:     batchID,
		Status: StatusCompleted,
	}, nil)

	service := NewService(mockRepo, NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	err := service.ProcessLedger(context.Background(), batchID)
	assert.NoError(t, err)
	mockRepo.AssertNotCalled(t, "SetBatchStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ProcessLedger_ProcessesPending(t *testing.T) {
	mockRepo := new(MockRepository)
	batchID := uuid.New()
	serverID := uuid.New()

	registry := NewRegistry()
	registry.Register(EntityPatient, &fakeMutableHandler{
		fakeHandler: fakeHandler{
			createFn: func(context.Context, auth.Actor, json.RawMessage, RefResolver) (uuid.UUID, error) {
				return serverID, nil
			},
		},
	})

	mockRepo.On("GetBatchByID", mock.Anything, batchID).Return(&Batch{
		ID:             batchID,
		ClinicID:       testActor.ClinicID,
		UserID:         testActor.UserID,
		DeviceID:       "tablet-1",
		Operations:     []Operation{operation(EntityPatient, ActionCreate, "p-1")},
		OperationCount: 1,
		Status:         StatusPending,
	}, nil)
	mockRepo.On("SetBatchStatus", mock.Anything, batchID, StatusProcessing).Return(nil)
	mockRepo.On("GetMapping", mock.Anything, testActor.ClinicID, "tablet-1", EntityPatient, "p-1").Return(nil, nil)
	mockRepo.On("RecordMapping", mock.Anything, mock.Anything).Return(nil)
	mockRepo.On("FinishBatch", mock.Anything, mock.MatchedBy(func(b *Batch) bool {
		return b.Status == StatusCompleted && b.ProcessedAt != nil
	})).Return(nil)

	service := NewService(mockRepo, registry, new(MockEnqueuer), slog.Default(), testConfig())

	err := service.ProcessLedger(context.Background(), batchID)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestService_BatchStatus(t *testing.T) {
	mockRepo := new(MockRepository)
	batchID := uuid.New()
	processedAt := time.Now()

	mockRepo.On("GetBatch", mock.Anything, testActor.ClinicID, batchID).Return(&Batch{
		ID:             batchID,
		Status:         StatusPartial,
		OperationCount: 10,
		Result:         &BatchResult{AppliedCount: 8, ErrorsCount: 2},
		ErrorMessage:   "2 of 10 operations failed",
		ProcessedAt:    &processedAt,
	}, nil)

	service := NewService(mockRepo, NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	status, err := service.BatchStatus(authedContext(), batchID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, status.Status)
	assert.Equal(t, 8, status.Result.AppliedCount)
	assert.Equal(t, "2 of 10 operations failed", status.ErrorMessage)
}

func TestService_BatchStatus_NotFound(t *testing.T) {
	mockRepo := new(MockRepository)
	batchID := uuid.New()

	mockRepo.On("GetBatch", mock.Anything, testActor.ClinicID, batchID).Return(nil, ErrBatchNotFound)

	service := NewService(mockRepo, NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	_, err := service.BatchStatus(authedContext(), batchID)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestService_DeviceStatus(t *testing.T) {
	mockRepo := new(MockRepository)
	lastSync := time.Now().Add(-time.Hour)

	mockRepo.On("LastSuccessfulSync", mock.Anything, testActor.ClinicID, "tablet-1").Return(&lastSync, nil)
	mockRepo.On("CountPendingBatches", mock.Anything, testActor.ClinicID, "tablet-1").Return(2, nil)
	mockRepo.On("CountMappings", mock.Anything, testActor.ClinicID, "tablet-1").Return(37, nil)

	service := NewService(mockRepo, NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	status, err := service.DeviceStatus(authedContext(), "tablet-1")
	require.NoError(t, err)
	assert.Equal(t, "tablet-1", status.DeviceID)
	assert.Equal(t, &lastSync, status.LastSync)
	assert.Equal(t, 2, status.PendingBatches)
	assert.Equal(t, 37, status.TotalMappings)
}

func TestService_DeviceStatus_MissingDeviceID(t *testing.T) {
	service := NewService(new(MockRepository), NewRegistry(), new(MockEnqueuer), slog.Default(), testConfig())

	_, err := service.DeviceStatus(authedContext(), "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestBatchResult_DeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		result BatchResult
		want   BatchStatus
	}{
		{"all applied", BatchResult{AppliedCount: 5}, StatusCompleted},
		{"conflicts only", BatchResult{AppliedCount: 3, ConflictsCount: 2}, StatusCompleted},
		{"mixed errors", BatchResult{AppliedCount: 3, ErrorsCount: 2}, StatusPartial},
		{"all errors", BatchResult{ErrorsCount: 5}, StatusFailed},
		{"empty", BatchResult{}, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.DeriveStatus())
		})
	}
}
