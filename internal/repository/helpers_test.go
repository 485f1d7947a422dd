package repository_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/fieldsync/internal/models"
)

// testLogger возвращает логгер, отбрасывающий вывод.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupDBMock создает sqlx.DB поверх sqlmock.
func setupDBMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

var inspectionColumnNames = []string{
	"id", "template_id", "inspector_id", "facility_name", "facility_address", "responses", "status", "version",
	"approved_by", "approved_at", "approval_notes", "rejected_at", "rejection_notes",
	"created_at", "submitted_at", "updated_at", "deleted", "deleted_at", "deleted_by",
}

// inspectionRows строит строки результата для инспекций.
func inspectionRows(items ...*models.Inspection) *sqlmock.Rows {
	rows := sqlmock.NewRows(inspectionColumnNames)
	for _, i := range items {
		rows.AddRow(
			i.ID, i.TemplateID, i.InspectorID, i.FacilityName, i.FacilityAddress, []byte(i.Responses),
			string(i.Status), i.Version,
			i.ApprovedBy, i.ApprovedAt, i.ApprovalNotes, i.RejectedAt, i.RejectionNotes,
			i.CreatedAt, i.SubmittedAt, i.UpdatedAt, i.Deleted, i.DeletedAt, i.DeletedBy,
		)
	}
	return rows
}

// sampleInspection возвращает черновик инспекции с заданной версией.
func sampleInspection(version int64) *models.Inspection {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.Inspection{
		ID:              "7f1c0a52-9a0e-4c55-8a55-2f6d7bd0c001",
		TemplateID:      "2b3f9a10-5c0e-4f7e-9d11-0a0b0c0d0e0f",
		InspectorID:     1,
		FacilityName:    "Котельная №3",
		FacilityAddress: "ул. Заводская, 12",
		Responses:       []byte(`{"q1":"ok"}`),
		Status:          models.StatusDraft,
		Version:         version,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
