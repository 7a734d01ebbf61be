package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-migrate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	snapshot_dir TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	result       TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_companies (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	id          INTEGER NOT NULL,
	record_type TEXT NOT NULL,
	parent_id   INTEGER,
	data        TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS run_deals (
	run_id            TEXT NOT NULL REFERENCES runs(id),
	id                INTEGER NOT NULL,
	pipeline          TEXT NOT NULL,
	target_stage_name TEXT NOT NULL,
	outcome_tag       TEXT NOT NULL,
	data              TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS run_associations (
	run_id              TEXT NOT NULL REFERENCES runs(id),
	source_entity       TEXT NOT NULL,
	source_id           INTEGER NOT NULL,
	target_entity       TEXT NOT NULL,
	target_id           INTEGER,
	status              TEXT NOT NULL,
	target_display_name TEXT NOT NULL DEFAULT '',
	target_context      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, source_entity, source_id, target_entity)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_snapshot_dir ON runs(snapshot_dir);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_run_associations_status ON run_associations(run_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, snapshotDir string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, snapshot_dir, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, snapshotDir, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:          id,
		SnapshotDir: snapshotDir,
		Status:      model.RunStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRunAffected(res, runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(runStatusFor(result)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRunAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SnapshotDir != "" {
		query += ` AND snapshot_dir = ?`
		args = append(args, filter.SnapshotDir)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) SaveOutputs(ctx context.Context, runID string, out Outputs) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save outputs")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"run_companies", "run_deals", "run_associations"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s for run %s", table, runID)
		}
	}

	for _, c := range out.Companies {
		data, mErr := json.Marshal(c)
		if mErr != nil {
			return eris.Wrap(mErr, "sqlite: marshal company record")
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_companies (run_id, id, record_type, parent_id, data) VALUES (?, ?, ?, ?, ?)`,
			runID, c.ID, string(c.RecordType), nullableInt64(c.ParentID), string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert company %d", c.ID)
		}
	}

	for _, d := range out.Deals {
		data, mErr := json.Marshal(d)
		if mErr != nil {
			return eris.Wrap(mErr, "sqlite: marshal deal")
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_deals (run_id, id, pipeline, target_stage_name, outcome_tag, data) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, d.ID, d.Pipeline, d.TargetStageName, string(d.OutcomeTag), string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert deal %d", d.ID)
		}
	}

	for _, a := range out.Associations {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_associations
			 (run_id, source_entity, source_id, target_entity, target_id, status, target_display_name, target_context)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, source_entity, source_id, target_entity) DO UPDATE SET
			 target_id = excluded.target_id, status = excluded.status,
			 target_display_name = excluded.target_display_name, target_context = excluded.target_context`,
			runID, string(a.SourceEntity), a.SourceID, string(a.TargetEntity), nullableInt64(a.TargetID),
			string(a.Status), a.TargetDisplayName, a.TargetContext,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert association %s/%d/%s", a.SourceEntity, a.SourceID, a.TargetEntity)
		}
	}

	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit save outputs")
	}
	return nil
}

func (s *SQLiteStore) DeleteOutputs(ctx context.Context, runID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete outputs")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"run_companies", "run_deals", "run_associations"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return eris.Wrapf(err, "sqlite: delete %s for run %s", table, runID)
		}
	}
	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit delete outputs")
	}
	return nil
}

func (s *SQLiteStore) ListAssociations(ctx context.Context, runID string) ([]model.AssociationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_entity, source_id, target_entity, target_id, status, target_display_name, target_context
		 FROM run_associations WHERE run_id = ?
		 ORDER BY source_entity, source_id, target_entity`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list associations")
	}
	defer rows.Close()

	var out []model.AssociationRecord
	for rows.Next() {
		var a model.AssociationRecord
		var targetID sql.NullInt64
		if err := rows.Scan(&a.SourceEntity, &a.SourceID, &a.TargetEntity, &targetID, &a.Status, &a.TargetDisplayName, &a.TargetContext); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan association")
		}
		if targetID.Valid {
			a.TargetID = model.Int64Ptr(targetID.Int64)
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list associations iterate")
}

func (s *SQLiteStore) ListDeals(ctx context.Context, runID string) ([]model.ClassifiedDeal, error) {
	return listJSON[model.ClassifiedDeal](ctx, s.db, `SELECT data FROM run_deals WHERE run_id = ? ORDER BY id`, runID)
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, runID string) ([]model.CompanyRecord, error) {
	return listJSON[model.CompanyRecord](ctx, s.db, `SELECT data FROM run_companies WHERE run_id = ? ORDER BY id`, runID)
}

// helpers

func listJSON[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query outputs")
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan output")
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal output")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query outputs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func checkRunAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "sqlite: run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.SnapshotDir, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrRunNotFound, "sqlite: get run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
