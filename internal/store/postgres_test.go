package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "/data/a", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "/data/a")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_WithResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	resultJSON, err := json.Marshal(model.RunResult{Success: true, Deals: 4})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "snapshot_dir", "status", "result", "created_at", "updated_at"}).
			AddRow("run-1", "/data/a", model.RunStatusComplete, &resultJSON, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 4, run.Result.Deals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunResult_SetsStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET result`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRunResult(context.Background(), "run-1", &model.RunResult{Success: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE true AND status = \$1 AND snapshot_dir = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "/data/a", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "snapshot_dir", "status", "result", "created_at", "updated_at"}).
			AddRow("run-1", "/data/a", model.RunStatusComplete, (*[]byte)(nil), now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Status:      model.RunStatusComplete,
		SnapshotDir: "/data/a",
		Limit:       5,
		Offset:      10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompletePhase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_phases SET status`).
		WithArgs("partial", pgxmock.AnyArg(), "phase-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompletePhase(context.Background(), "phase-1", &model.PhaseResult{Name: "classify", Status: model.PhaseStatusPartial})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOutputs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	out := sampleOutputs()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "run_companies" WHERE "run_id" = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"run_companies"}, companyColumns).
		WillReturnResult(3)
	mock.ExpectExec(`DELETE FROM "run_deals" WHERE "run_id" = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"run_deals"}, dealColumns).
		WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM run_associations WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_associations"}, associationsUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "run_associations"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, s.SaveOutputs(context.Background(), "run-1", out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOutputs_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "run_companies"`).
		WithArgs("run-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.SaveOutputs(context.Background(), "run-1", sampleOutputs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace companies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOutputs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	for _, table := range []string{"run_companies", "run_deals", "run_associations"} {
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE run_id = \$1`).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
	}
	mock.ExpectCommit()

	require.NoError(t, s.DeleteOutputs(context.Background(), "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOutputs_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM run_companies`).
		WithArgs("run-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.DeleteOutputs(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete run_companies for run run-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAssociations(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	target := int64(7)

	mock.ExpectQuery(`FROM run_associations WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"source_entity", "source_id", "target_entity", "target_id", "status", "target_display_name", "target_context",
		}).
			AddRow(model.EntityDeal, int64(1), model.EntityCompany, &target, model.StatusResolved, "ACME", "").
			AddRow(model.EntityDeal, int64(1), model.EntityContact, (*int64)(nil), model.StatusNoForeignKey, "", ""))

	got, err := s.ListAssociations(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].TargetID)
	assert.Equal(t, int64(7), *got[0].TargetID)
	assert.Nil(t, got[1].TargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
