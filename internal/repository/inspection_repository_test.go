package repository_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
)

var (
	lockQuery   = regexp.QuoteMeta(`FROM inspections WHERE id=$1 FOR UPDATE`)
	updateQuery = regexp.QuoteMeta(`UPDATE inspections SET`)
	insertQuery = regexp.QuoteMeta(`INSERT INTO inspections`)
)

func TestInspectionRepository_Create(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock, insp *models.Inspection)
		wantErr   error
	}{
		{
			name: "Успешное создание",
			mockSetup: func(mock sqlmock.Sqlmock, insp *models.Inspection) {
				mock.ExpectQuery(insertQuery).
					WithArgs(insp.ID, insp.TemplateID, insp.InspectorID, insp.FacilityName, insp.FacilityAddress,
						string(insp.Responses), insp.Status, insp.CreatedAt, insp.SubmittedAt, insp.UpdatedAt).
					WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
			},
		},
		{
			name: "Дубликат идентификатора",
			mockSetup: func(mock sqlmock.Sqlmock, _ *models.Inspection) {
				// ON CONFLICT DO NOTHING не возвращает строк
				mock.ExpectQuery(insertQuery).WillReturnRows(sqlmock.NewRows([]string{"version"}))
			},
			wantErr: repository.ErrDuplicateID,
		},
		{
			name: "Ошибка базы данных",
			mockSetup: func(mock sqlmock.Sqlmock, _ *models.Inspection) {
				mock.ExpectQuery(insertQuery).WillReturnError(errors.New("connection reset"))
			},
			wantErr: errors.New("ошибка выполнения запроса"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupDBMock(t)
			repo := repository.NewPostgresInspectionRepository(db, testLogger())
			insp := sampleInspection(0)
			tt.mockSetup(mock, insp)

			err := repo.Create(context.Background(), insp)

			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
				assert.Equal(t, int64(1), insp.Version)
			case errors.Is(tt.wantErr, repository.ErrDuplicateID):
				assert.ErrorIs(t, err, repository.ErrDuplicateID)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInspectionRepository_CompareAndWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("Версия совпала: мутация применена, версия +1", func(t *testing.T) {
		db, mock := setupDBMock(t)
		repo := repository.NewPostgresInspectionRepository(db, testLogger())

		current := sampleInspection(3)
		updated := sampleInspection(4)
		updated.FacilityName = "Котельная №4"

		mock.ExpectQuery(lockQuery).WithArgs(current.ID).WillReturnRows(inspectionRows(current))
		mock.ExpectQuery(updateQuery).
			WithArgs(
				"Котельная №4", current.FacilityAddress, string(current.Responses), current.Status,
				nil, nil, nil, nil, nil,
				nil, current.UpdatedAt, false, nil, nil,
				current.ID, int64(3),
			).
			WillReturnRows(inspectionRows(updated))

		got, err := repo.CompareAndWrite(ctx, current.ID, 3, func(insp *models.Inspection) error {
			insp.FacilityName = "Котельная №4"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Version)
		assert.Equal(t, "Котельная №4", got.FacilityName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Версия не совпала: ошибка без записи", func(t *testing.T) {
		db, mock := setupDBMock(t)
		repo := repository.NewPostgresInspectionRepository(db, testLogger())

		current := sampleInspection(4)
		mock.ExpectQuery(lockQuery).WithArgs(current.ID).WillReturnRows(inspectionRows(current))

		called := false
		got, err := repo.CompareAndWrite(ctx, current.ID, 3, func(_ *models.Inspection) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.Nil(t, got)
		assert.False(t, called, "мутатор не должен вызываться при несовпадении версии")

		var mismatch *repository.VersionMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, int64(3), mismatch.Expected)
		assert.Equal(t, int64(4), mismatch.Actual)
		assert.Equal(t, current.FacilityName, mismatch.Server.FacilityName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Ошибка мутатора: запись не выполняется", func(t *testing.T) {
		db, mock := setupDBMock(t)
		repo := repository.NewPostgresInspectionRepository(db, testLogger())

		current := sampleInspection(2)
		mock.ExpectQuery(lockQuery).WithArgs(current.ID).WillReturnRows(inspectionRows(current))
		errRule := errors.New("недопустимый переход")

		_, err := repo.CompareAndWrite(ctx, current.ID, 2, func(_ *models.Inspection) error {
			return errRule
		})
		assert.ErrorIs(t, err, errRule)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Инспекция не найдена", func(t *testing.T) {
		db, mock := setupDBMock(t)
		repo := repository.NewPostgresInspectionRepository(db, testLogger())

		mock.ExpectQuery(lockQuery).WithArgs("missing").WillReturnRows(sqlmock.NewRows(inspectionColumnNames))

		_, err := repo.CompareAndWrite(ctx, "missing", 1, func(_ *models.Inspection) error { return nil })
		assert.ErrorIs(t, err, repository.ErrInspectionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInspectionRepository_List(t *testing.T) {
	inspectorID := int64(7)
	status := models.StatusSubmitted

	tests := []struct {
		name      string
		filter    models.InspectionFilter
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "Без фильтров, лимит по умолчанию",
			filter:    models.InspectionFilter{},
			wantQuery: `WHERE NOT deleted ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			wantArgs:  []any{models.DefaultPageLimit, 0},
		},
		{
			name:      "Фильтр по инспектору и статусу, лимит ограничен",
			filter:    models.InspectionFilter{InspectorID: &inspectorID, Status: &status, Limit: 500, Offset: 40},
			wantQuery: `WHERE NOT deleted AND inspector_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			wantArgs:  []any{inspectorID, status, models.MaxPageLimit, 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupDBMock(t)
			repo := repository.NewPostgresInspectionRepository(db, testLogger())

			mock.ExpectQuery(regexp.QuoteMeta(tt.wantQuery)).
				WithArgs(toDriverArgs(tt.wantArgs)...).
				WillReturnRows(inspectionRows(sampleInspection(1)))

			items, err := repo.List(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Len(t, items, 1)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInspectionRepository_GetByID(t *testing.T) {
	db, mock := setupDBMock(t)
	repo := repository.NewPostgresInspectionRepository(db, testLogger())

	deleted := sampleInspection(2)
	deleted.Deleted = true
	deletedAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	deleted.DeletedAt = &deletedAt

	mock.ExpectQuery(regexp.QuoteMeta(`FROM inspections WHERE id=$1`)).
		WithArgs(deleted.ID).
		WillReturnRows(inspectionRows(deleted))

	got, err := repo.GetByID(context.Background(), deleted.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted, "мягко удаленная инспекция доступна по ID")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// toDriverArgs преобразует значения в аргументы sqlmock.
func toDriverArgs(vals []any) []driver.Value {
	out := make([]driver.Value, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
