package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/config"
	"github.com/sells-group/crm-migrate/internal/export"
	"github.com/sells-group/crm-migrate/internal/model"
)

const testCompanies = "id,name,website\n" +
	"1,Acme Paris,www.acme.com\n" +
	"2,Acme Lyon,acme.com\n" +
	"3,Beta Corp,\n"

func writeSnapshot(t *testing.T, dir, deals string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "companies.csv"), []byte(testCompanies), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deals.csv"), []byte(deals), 0o644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(root, "history.db")
	c.Batch.Workers = 2
	c.Input.Dir = filepath.Join(root, "snapshot")
	c.Output.Dir = filepath.Join(root, "out")
	c.Output.Format = export.FormatCSV
	c.Server.Port = 8080
	return c
}

func TestRunMigration_EndToEnd(t *testing.T) {
	c := testConfig(t)
	writeSnapshot(t, c.Input.Dir, "id,pipeline,stage,status,forecast,certainty,company_id\n"+
		"100,Hardware,01 - Identification,En cours,1000,50,1\n"+
		"101,Hardware,01 - Identification,,500,100,42\n")
	require.NoError(t, c.Validate("run"))

	res, err := runMigration(context.Background(), c, true)
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	assert.True(t, res.Summary.Success)
	assert.Equal(t, 2, res.Summary.Deals)
	assert.GreaterOrEqual(t, res.Summary.Unresolved, 1)

	outDir := filepath.Join(c.Output.Dir, res.RunID)
	for _, name := range []string{"companies.csv", "deals.csv", "associations.csv", "clusters.csv", export.AuditFile, export.ReportFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	st, err := initHistory(context.Background(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, c.Input.Dir, run.SnapshotDir)

	var buf bytes.Buffer
	formatRunSummary(&buf, res)
	assert.Contains(t, buf.String(), res.RunID)
	assert.Contains(t, buf.String(), "Associations:")
}

func TestRunMigration_NoStoreNoExport(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "none"
	writeSnapshot(t, c.Input.Dir, "id,stage\n100,Qualification\n")

	res, err := runMigration(context.Background(), c, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.NoDirExists(t, c.Output.Dir)
}

func TestRunMigration_MissingSnapshot(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "none"

	_, err := runMigration(context.Background(), c, false)
	require.Error(t, err)
}

func TestRunMigration_DiffBetweenRuns(t *testing.T) {
	c := testConfig(t)
	writeSnapshot(t, c.Input.Dir, "id,pipeline,stage,company_id\n101,Hardware,01 - Identification,42\n")
	first, err := runMigration(context.Background(), c, false)
	require.NoError(t, err)

	writeSnapshot(t, c.Input.Dir, "id,pipeline,stage,company_id\n101,Hardware,01 - Identification,1\n")
	second, err := runMigration(context.Background(), c, false)
	require.NoError(t, err)

	st, err := initHistory(context.Background(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	text, err := diffRuns(context.Background(), st, first.RunID, second.RunID, 0)
	require.NoError(t, err)
	assert.Contains(t, text, "-Deal 101 -> Company - [UnresolvedTarget]")
	assert.Contains(t, text, "+Deal 101 -> Company 1 [Resolved]")

	same, err := diffRuns(context.Background(), st, second.RunID, second.RunID, 0)
	require.NoError(t, err)
	assert.Empty(t, same)
}

func TestApplyRunFlags(t *testing.T) {
	c := &config.Config{}
	c.Input.Dir = "cfg-in"
	c.Batch.Workers = 4

	runInput, runWorkers = "flag-in", 9
	t.Cleanup(func() { runInput, runWorkers = "", 0 })

	applyRunFlags(c)
	assert.Equal(t, "flag-in", c.Input.Dir)
	assert.Equal(t, 9, c.Batch.Workers)
	assert.Empty(t, c.Output.Dir)
}

func TestLoadCatalog_DefaultOverride(t *testing.T) {
	c := &config.Config{}
	c.Pipelines.Default = "Services"
	catalog, err := loadCatalog(c)
	require.NoError(t, err)
	assert.Equal(t, "Services", catalog.DefaultPipeline())

	c.Pipelines.Default = "Nope"
	_, err = loadCatalog(c)
	assert.Error(t, err)

	c.Pipelines.Default = ""
	c.Pipelines.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadCatalog(c)
	assert.Error(t, err)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	c := &config.Config{}
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	assert.Error(t, err)

	c.Store.Driver = "none"
	_, err = initHistory(context.Background(), c)
	assert.Error(t, err)
}
