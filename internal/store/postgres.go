package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, snapshot_dir, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_phase":      `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":    `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_dir TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	result       JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_companies (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	id          BIGINT NOT NULL,
	record_type TEXT NOT NULL,
	parent_id   BIGINT,
	data        JSONB NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS run_deals (
	run_id            TEXT NOT NULL REFERENCES runs(id),
	id                BIGINT NOT NULL,
	pipeline          TEXT NOT NULL,
	target_stage_name TEXT NOT NULL,
	outcome_tag       TEXT NOT NULL,
	data              JSONB NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS run_associations (
	run_id              TEXT NOT NULL REFERENCES runs(id),
	source_entity       TEXT NOT NULL,
	source_id           BIGINT NOT NULL,
	target_entity       TEXT NOT NULL,
	target_id           BIGINT,
	status              TEXT NOT NULL,
	target_display_name TEXT NOT NULL DEFAULT '',
	target_context      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, source_entity, source_id, target_entity)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_snapshot_dir ON runs(snapshot_dir);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_run_deals_outcome ON run_deals(run_id, outcome_tag);
CREATE INDEX IF NOT EXISTS idx_run_associations_status ON run_associations(run_id, status);
`

var (
	companyColumns     = []string{"run_id", "id", "record_type", "parent_id", "data"}
	dealColumns        = []string{"run_id", "id", "pipeline", "target_stage_name", "outcome_tag", "data"}
	associationsUpsert = db.UpsertConfig{
		Table: "run_associations",
		Columns: []string{
			"run_id", "source_entity", "source_id", "target_entity",
			"target_id", "status", "target_display_name", "target_context",
		},
		ConflictKeys: []string{"run_id", "source_entity", "source_id", "target_entity"},
	}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, snapshotDir string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, snapshot_dir, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, snapshotDir, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id,
		SnapshotDir: snapshotDir,
		Status:      model.RunStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(runStatusFor(result)), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, snapshot_dir, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SnapshotDir != "" {
		query += fmt.Sprintf(` AND snapshot_dir = $%d`, argIdx)
		args = append(args, filter.SnapshotDir)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var resultJSON *[]byte

	if err := row.Scan(&r.ID, &r.SnapshotDir, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

// SaveOutputs replaces the run's company and deal rows via COPY and upserts its
// association rows on their natural key, all in one transaction.
func (s *PostgresStore) SaveOutputs(ctx context.Context, runID string, out Outputs) error {
	companyRows := make([][]any, 0, len(out.Companies))
	for _, c := range out.Companies {
		data, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal company record")
		}
		companyRows = append(companyRows, []any{runID, c.ID, string(c.RecordType), nullableInt64(c.ParentID), data})
	}
	dealRows := make([][]any, 0, len(out.Deals))
	for _, d := range out.Deals {
		data, err := json.Marshal(d)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal deal")
		}
		dealRows = append(dealRows, []any{runID, d.ID, d.Pipeline, d.TargetStageName, string(d.OutcomeTag), data})
	}
	assocRows := make([][]any, 0, len(out.Associations))
	for _, a := range out.Associations {
		assocRows = append(assocRows, []any{
			runID, string(a.SourceEntity), a.SourceID, string(a.TargetEntity),
			nullableInt64(a.TargetID), string(a.Status), a.TargetDisplayName, a.TargetContext,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save outputs")
	}
	defer tx.Rollback(ctx)

	if _, err := db.ReplaceScoped(ctx, tx, "run_companies", "run_id", runID, companyColumns, companyRows); err != nil {
		return eris.Wrapf(err, "postgres: replace companies for run %s", runID)
	}
	if _, err := db.ReplaceScoped(ctx, tx, "run_deals", "run_id", runID, dealColumns, dealRows); err != nil {
		return eris.Wrapf(err, "postgres: replace deals for run %s", runID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM run_associations WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear associations for run %s", runID)
	}
	if _, err := db.UpsertTx(ctx, tx, associationsUpsert, assocRows); err != nil {
		return eris.Wrapf(err, "postgres: upsert associations for run %s", runID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit save outputs")
	}
	return nil
}

func (s *PostgresStore) DeleteOutputs(ctx context.Context, runID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin delete outputs")
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"run_companies", "run_deals", "run_associations"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE run_id = $1`, runID); err != nil {
			return eris.Wrapf(err, "postgres: delete %s for run %s", table, runID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit delete outputs")
	}
	return nil
}

func (s *PostgresStore) ListAssociations(ctx context.Context, runID string) ([]model.AssociationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_entity, source_id, target_entity, target_id, status, target_display_name, target_context
		 FROM run_associations WHERE run_id = $1
		 ORDER BY source_entity, source_id, target_entity`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list associations")
	}
	defer rows.Close()

	var out []model.AssociationRecord
	for rows.Next() {
		var a model.AssociationRecord
		if err := rows.Scan(&a.SourceEntity, &a.SourceID, &a.TargetEntity, &a.TargetID, &a.Status, &a.TargetDisplayName, &a.TargetContext); err != nil {
			return nil, eris.Wrap(err, "postgres: scan association")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list associations iterate")
}

func (s *PostgresStore) ListDeals(ctx context.Context, runID string) ([]model.ClassifiedDeal, error) {
	return pgListJSON[model.ClassifiedDeal](ctx, s.pool, `SELECT data FROM run_deals WHERE run_id = $1 ORDER BY id`, runID)
}

func (s *PostgresStore) ListCompanies(ctx context.Context, runID string) ([]model.CompanyRecord, error) {
	return pgListJSON[model.CompanyRecord](ctx, s.pool, `SELECT data FROM run_companies WHERE run_id = $1 ORDER BY id`, runID)
}

func pgListJSON[T any](ctx context.Context, pool db.Pool, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query outputs")
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan output")
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal output")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query outputs iterate")
}
