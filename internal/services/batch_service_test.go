package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	dto "github.com/maynagashev/fieldsync/models"
)

// mockExecutor - мок services.Executor.
type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, op services.Operation, actor services.Actor) (*services.SyncResult, error) {
	args := m.Called(ctx, op, actor)
	res, _ := args.Get(0).(*services.SyncResult)
	return res, args.Error(1)
}

const secondInspectionID = "33333333-3333-4333-8333-333333333333"

func TestBatchService_Isolation(t *testing.T) {
	f := newSyncFixture(t)
	f.seedInspection(inspectionID, 1, models.StatusDraft)
	f.seedInspection(secondInspectionID, 5, models.StatusDraft)
	batch := services.NewBatchService(f.sync, 100, testLogger())

	ops := []dto.BatchOperation{
		{
			OperationType:  models.OperationUpdateInspection,
			IdempotencyKey: "b-1",
			Data:           json.RawMessage(fmt.Sprintf(`{"id":%q,"version":1,"facility_name":"Склад №2"}`, inspectionID)),
		},
		{
			OperationType:  models.OperationUpdateInspection,
			IdempotencyKey: "b-2",
			Data:           json.RawMessage(fmt.Sprintf(`{"id":%q,"version":4,"status":"submitted"}`, secondInspectionID)),
		},
		{
			OperationType:  models.OperationCreateInspection,
			IdempotencyKey: "b-3",
			Data:           json.RawMessage(fmt.Sprintf(`{"template_id":%q,"facility_name":"Гараж"}`, templateID)),
		},
	}

	results, err := batch.Process(context.Background(), ops, inspector)
	require.NoError(t, err)
	require.Len(t, results, 3)

	statuses := []string{results[0].Status, results[1].Status, results[2].Status}
	assert.Equal(t, []string{services.ResultSuccess, services.ResultConflict, services.ResultSuccess}, statuses)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, ops[i].IdempotencyKey, r.IdempotencyKey)
	}

	require.NotNil(t, results[1].Conflict)
	assert.Equal(t, int64(4), results[1].Conflict.ClientVersion)
	assert.Equal(t, int64(5), results[1].Conflict.ServerVersion)
	var server models.Inspection
	require.NoError(t, json.Unmarshal(results[1].Conflict.ServerData, &server))
	assert.Equal(t, secondInspectionID, server.ID)

	assert.Equal(t, int64(2), f.store.inspection(inspectionID).Version)
	assert.Equal(t, int64(5), f.store.inspection(secondInspectionID).Version)
	assert.Equal(t, 2, f.store.ledgerLen())
	assert.False(t, services.AllSucceeded(results))
}

func TestBatchService_Replay(t *testing.T) {
	f := newSyncFixture(t)
	batch := services.NewBatchService(f.sync, 100, testLogger())
	ops := []dto.BatchOperation{{
		OperationType:  models.OperationCreateInspection,
		IdempotencyKey: "offline-1",
		Data: json.RawMessage(fmt.Sprintf(`{"id":%q,"template_id":%q,"facility_name":"Гараж"}`,
			inspectionID, templateID)),
	}}

	first, err := batch.Process(context.Background(), ops, inspector)
	require.NoError(t, err)
	second, err := batch.Process(context.Background(), ops, inspector)
	require.NoError(t, err)

	assert.True(t, services.AllSucceeded(first))
	assert.True(t, services.AllSucceeded(second))
	assert.False(t, first[0].Replayed)
	assert.True(t, second[0].Replayed)
	assert.Equal(t, string(first[0].Data), string(second[0].Data))
	assert.Equal(t, 1, f.store.inspectionsLen())
}

func TestBatchService_ItemErrors(t *testing.T) {
	tests := []struct {
		name     string
		op       dto.BatchOperation
		wantCode string
	}{
		{
			name:     "Неизвестный тип операции",
			op:       dto.BatchOperation{OperationType: "MERGE_INSPECTION", IdempotencyKey: "k", Data: json.RawMessage(`{}`)},
			wantCode: services.CodeUnsupportedOperation,
		},
		{
			name:     "Нет ключа идемпотентности",
			op:       dto.BatchOperation{OperationType: models.OperationCreateInspection, Data: json.RawMessage(`{}`)},
			wantCode: services.CodeValidation,
		},
		{
			name:     "Нет данных",
			op:       dto.BatchOperation{OperationType: models.OperationCreateInspection, IdempotencyKey: "k"},
			wantCode: services.CodeValidation,
		},
		{
			name:     "Данные null",
			op:       dto.BatchOperation{OperationType: models.OperationDeleteInspection, IdempotencyKey: "k", Data: json.RawMessage(`null`)},
			wantCode: services.CodeValidation,
		},
		{
			name: "Некорректный JSON данных",
			op: dto.BatchOperation{
				OperationType: models.OperationUpdateInspection, IdempotencyKey: "k",
				Data: json.RawMessage(`{"id":"x","version":"first"}`),
			},
			wantCode: services.CodeValidation,
		},
		{
			name: "Обновление без версии",
			op: dto.BatchOperation{
				OperationType: models.OperationUpdateInspection, IdempotencyKey: "k",
				Data: json.RawMessage(fmt.Sprintf(`{"id":%q}`, inspectionID)),
			},
			wantCode: services.CodeValidation,
		},
		{
			name: "Удаление без ID",
			op: dto.BatchOperation{
				OperationType: models.OperationDeleteInspection, IdempotencyKey: "k",
				Data: json.RawMessage(`{"version":1}`),
			},
			wantCode: services.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := new(mockExecutor)
			ok := &services.SyncResult{Status: services.ResultSuccess, Data: json.RawMessage(`{"id":"a","version":1}`)}
			executor.On("Execute", mock.Anything, mock.Anything, inspector).Return(ok, nil).Once()
			batch := services.NewBatchService(executor, 100, testLogger())

			following := dto.BatchOperation{
				OperationType:  models.OperationDeleteInspection,
				IdempotencyKey: "next",
				Data:           json.RawMessage(fmt.Sprintf(`{"id":%q}`, inspectionID)),
			}
			results, err := batch.Process(context.Background(), []dto.BatchOperation{tt.op, following}, inspector)
			require.NoError(t, err)
			require.Len(t, results, 2)

			assert.Equal(t, services.ResultError, results[0].Status)
			require.NotNil(t, results[0].Error)
			assert.Equal(t, tt.wantCode, results[0].Error.Code)
			assert.Equal(t, services.ResultSuccess, results[1].Status, "ошибка элемента не прерывает пакет")
			executor.AssertExpectations(t)
		})
	}
}

func TestBatchService_StorageFailureAborts(t *testing.T) {
	executor := new(mockExecutor)
	ok := &services.SyncResult{Status: services.ResultSuccess, Data: json.RawMessage(`{"id":"a","version":2}`)}
	storageErr := errors.New("connection reset")
	executor.On("Execute", mock.Anything, mock.MatchedBy(func(op services.Operation) bool {
		return op.IdempotencyKey == "ok-1"
	}), manager).Return(ok, nil).Once()
	executor.On("Execute", mock.Anything, mock.MatchedBy(func(op services.Operation) bool {
		return op.IdempotencyKey == "fails"
	}), manager).Return(nil, storageErr).Once()

	batch := services.NewBatchService(executor, 100, testLogger())
	data := json.RawMessage(fmt.Sprintf(`{"id":%q,"version":1}`, inspectionID))
	results, err := batch.Process(context.Background(), []dto.BatchOperation{
		{OperationType: models.OperationUpdateInspection, IdempotencyKey: "ok-1", Data: data},
		{OperationType: models.OperationUpdateInspection, IdempotencyKey: "fails", Data: data},
		{OperationType: models.OperationUpdateInspection, IdempotencyKey: "ok-2", Data: data},
	}, manager)
	require.ErrorIs(t, err, storageErr)
	assert.Nil(t, results)

	_, known := services.ErrorCode(err)
	assert.False(t, known, "сбой хранилища отдается как внутренняя ошибка")
	executor.AssertNotCalled(t, "Execute", mock.Anything, mock.MatchedBy(func(op services.Operation) bool {
		return op.IdempotencyKey == "ok-2"
	}), manager)
	executor.AssertExpectations(t)
}

func TestBatchService_TooLarge(t *testing.T) {
	executor := new(mockExecutor)
	batch := services.NewBatchService(executor, 3, testLogger())
	ops := make([]dto.BatchOperation, 4)

	results, err := batch.Process(context.Background(), ops, inspector)
	require.ErrorIs(t, err, services.ErrBatchTooLarge)
	assert.Nil(t, results)
	executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)

	code, ok := services.ErrorCode(err)
	assert.True(t, ok)
	assert.Equal(t, services.CodeValidation, code)
}

func TestBatchService_EmptyBatch(t *testing.T) {
	batch := services.NewBatchService(new(mockExecutor), 100, testLogger())

	results, err := batch.Process(context.Background(), nil, inspector)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.True(t, services.AllSucceeded(results))
}

func TestPatchFromRequest(t *testing.T) {
	status := "submitted"
	name := "Цех"
	patch := services.PatchFromRequest(dto.UpdateInspectionRequest{
		FacilityName: &name,
		Status:       &status,
		Responses:    json.RawMessage(`{"a":1}`),
	})

	require.NotNil(t, patch.Status)
	assert.Equal(t, models.StatusSubmitted, *patch.Status)
	assert.Equal(t, &name, patch.FacilityName)
	assert.Nil(t, patch.FacilityAddress)
	assert.JSONEq(t, `{"a":1}`, string(patch.Responses))
}
