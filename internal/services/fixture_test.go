package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/services"
	"github.com/maynagashev/fieldsync/internal/validation"
)

const (
	inspectorID      = int64(7)
	otherInspectorID = int64(8)
	managerID        = int64(1)
	templateID       = "11111111-1111-4111-8111-111111111111"
)

var (
	inspector      = services.Actor{UserID: inspectorID, Role: models.RoleInspector}
	otherInspector = services.Actor{UserID: otherInspectorID, Role: models.RoleInspector}
	manager        = services.Actor{UserID: managerID, Role: models.RoleManager}
	testNow        = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// memCache - кэш результатов журнала в памяти.
type memCache struct {
	mu   sync.Mutex
	recs map[string]*models.IdempotencyRecord
	hits int
}

func newMemCache() *memCache {
	return &memCache{recs: map[string]*models.IdempotencyRecord{}}
}

func (c *memCache) Get(_ context.Context, key string) (*models.IdempotencyRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[key]
	if ok {
		c.hits++
	}
	return rec, ok, nil
}

func (c *memCache) Set(_ context.Context, rec *models.IdempotencyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.IdempotencyKey] = rec
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.recs[key]
	return ok
}

// syncFixture собирает сервисы поверх memStore.
type syncFixture struct {
	store       *memStore
	cache       *memCache
	publisher   *recordingPublisher
	inspections *services.InspectionService
	templates   *services.TemplateService
	sync        *services.SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	return newSyncFixtureWithSchema(t, nil)
}

func newSyncFixtureWithSchema(t *testing.T, schema json.RawMessage) *syncFixture {
	t.Helper()

	store := newMemStore()
	store.putTemplate(&models.InspectionTemplate{
		ID:              templateID,
		Name:            "Пожарная безопасность",
		Version:         1,
		ChecklistItems:  json.RawMessage(`[]`),
		ResponsesSchema: schema,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	})

	validator, err := validation.NewResponsesValidator(16)
	require.NoError(t, err)

	clock := fixedClock{now: testNow}
	ids := &seqIDs{}
	logger := testLogger()

	templates := services.NewTemplateService(store.repos().Templates, validator, 16, time.Minute, clock, ids, logger)
	inspections := services.NewInspectionService(store.repos(), templates, validator, clock, ids, logger)
	cache := newMemCache()
	ledger := services.NewIdempotencyService(store.repos().Ledger, cache, logger)
	publisher := &recordingPublisher{}

	return &syncFixture{
		store:       store,
		cache:       cache,
		publisher:   publisher,
		inspections: inspections,
		templates:   templates,
		sync:        services.NewSyncService(store, inspections, ledger, publisher, clock, logger),
	}
}

// seedInspection кладет в хранилище инспекцию с заданными версией и статусом.
func (f *syncFixture) seedInspection(id string, version int64, status models.InspectionStatus) *models.Inspection {
	insp := &models.Inspection{
		ID:           id,
		TemplateID:   templateID,
		InspectorID:  inspectorID,
		FacilityName: "Склад №1",
		Responses:    json.RawMessage(`{}`),
		Status:       status,
		Version:      version,
		CreatedAt:    testNow.Add(-time.Hour),
		UpdatedAt:    testNow.Add(-time.Hour),
	}
	f.store.putInspection(insp)
	return insp
}

func updateOp(key, id string, version int64, patch services.InspectionPatch) services.Operation {
	return services.Operation{
		Type:           models.OperationUpdateInspection,
		IdempotencyKey: key,
		Update:         &services.UpdateOperation{ID: id, Version: version, Patch: patch},
	}
}

func createOp(key string, in services.CreateInspectionInput) services.Operation {
	return services.Operation{
		Type:           models.OperationCreateInspection,
		IdempotencyKey: key,
		Create:         &in,
	}
}

func strPtr(s string) *string { return &s }

func statusPtr(s models.InspectionStatus) *models.InspectionStatus { return &s }

func int64Ptr(v int64) *int64 { return &v }
