package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assocConfig = UpsertConfig{
	Table:        "run_associations",
	Columns:      []string{"run_id", "source_entity", "source_id", "target_entity", "status"},
	ConflictKeys: []string{"run_id", "source_entity", "source_id", "target_entity"},
}

func TestUpsertTx_EmptyRows(t *testing.T) {
	n, err := UpsertTx(context.Background(), nil, assocConfig, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertTx_NoColumns(t *testing.T) {
	_, err := UpsertTx(context.Background(), nil, UpsertConfig{
		Table:        "run_associations",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertTx_NoConflictKeys(t *testing.T) {
	_, err := UpsertTx(context.Background(), nil, UpsertConfig{
		Table:   "run_associations",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsertTx_Success(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_run_associations" \(LIKE "run_associations" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_associations"}, assocConfig.Columns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("run_id", "source_entity", "source_id", "target_entity"\) DO UPDATE SET "status" = EXCLUDED."status"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	rows := [][]any{
		{"run-1", "Deal", int64(1), "Company", "Resolved"},
		{"run-1", "Deal", int64(1), "Contact", "NoForeignKey"},
	}
	n, err := UpsertTx(context.Background(), mock, assocConfig, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_associations"}, assocConfig.Columns).
		WillReturnError(fmt.Errorf("disk full"))

	_, err = UpsertTx(context.Background(), mock, assocConfig, [][]any{{"run-1", "Deal", int64(1), "Company", "Resolved"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for run_associations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTx_AllColumnsAreKeys(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_links"}, []string{"a", "b"}).WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("a", "b"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err = UpsertTx(context.Background(), mock, UpsertConfig{
		Table:        "links",
		Columns:      []string{"a", "b"},
		ConflictKeys: []string{"a", "b"},
	}, [][]any{{1, 2}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"migrate.run_deals", `"migrate"."run_deals"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
