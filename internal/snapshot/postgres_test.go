package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialops/dqi-engine/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgres_ManifestFound(t *testing.T) {
	store, mock := newMockStore(t)
	builtAt := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT build_id, fingerprint, config_version, built_at FROM manifest").
		WillReturnRows(pgxmock.NewRows([]string{"build_id", "fingerprint", "config_version", "built_at"}).
			AddRow("b-001", "abc123", "2026.1", builtAt))

	m, err := store.Manifest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "b-001", m.BuildID)
	assert.Equal(t, "abc123", m.Fingerprint)
	assert.True(t, builtAt.Equal(m.BuiltAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ManifestNilWhenEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT build_id, fingerprint, config_version, built_at FROM manifest").
		WillReturnError(pgx.ErrNoRows)

	m, err := store.Manifest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS manifest").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// anyArgs returns n pgxmock.AnyArg() matchers; pgxmock requires the expected
// argument count to match even when the values themselves are not asserted.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgres_ReplaceCommitsAtomically(t *testing.T) {
	store, mock := newMockStore(t)
	snap := testSnapshot()

	mock.ExpectBegin()
	for _, table := range []string{"manifest", "subject_records", "site_records", "study_records", "warnings"} {
		mock.ExpectExec("DELETE FROM " + table).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectExec("INSERT INTO manifest").
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for range snap.Subjects {
		mock.ExpectExec("INSERT INTO subject_records").
			WithArgs(anyArgs(5 + len(metricColumns) + 3)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range snap.Sites {
		mock.ExpectExec("INSERT INTO site_records").
			WithArgs(anyArgs(10)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range snap.Studies {
		mock.ExpectExec("INSERT INTO study_records").
			WithArgs(anyArgs(12)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range snap.Warnings {
		mock.ExpectExec("INSERT INTO warnings").
			WithArgs(anyArgs(6)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.Replace(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM manifest").
		WillReturnError(eris.New("disk full"))
	mock.ExpectRollback()

	err := store.Replace(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadSubjectsPreservesNulls(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{"study_id", "site_id", "subject_id", "site_conflict", "present"}
	cols = append(cols, metricColumns...)
	cols = append(cols, "dqi", "band", "clean_patient")

	row := []any{"12", "1002", "S-002", true, `{"edrr":true}`}
	for range metricColumns {
		row = append(row, (*float64)(nil))
	}
	row = append(row, (*float64)(nil), (*string)(nil), (*bool)(nil))

	mock.ExpectQuery("SELECT .* FROM subject_records").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(row...))

	subjects, err := store.loadSubjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 1)

	rec := subjects[0]
	assert.True(t, rec.SiteConflict)
	assert.True(t, rec.Present[model.CategoryEDRR])
	assert.Empty(t, rec.Features)
	assert.Nil(t, rec.DQI)
	assert.Nil(t, rec.CleanPatient)
	assert.NoError(t, mock.ExpectationsWereMet())
}
