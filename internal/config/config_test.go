package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml or .env is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "crm-migrate.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Empty(t, cfg.Pipelines.File)
	assert.Equal(t, int64(0), cfg.Cluster.ParentIDOffset)
	assert.Equal(t, "snapshot", cfg.Input.Dir)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, "csv", cfg.Output.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/crm
log:
  level: debug
  format: console
batch:
  workers: 8
pipelines:
  file: pipelines.yaml
  default: Services
cluster:
  parent_id_offset: 900000
output:
  format: xlsx
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/crm", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, "pipelines.yaml", cfg.Pipelines.File)
	assert.Equal(t, "Services", cfg.Pipelines.Default)
	assert.Equal(t, int64(900000), cfg.Cluster.ParentIDOffset)
	assert.Equal(t, "xlsx", cfg.Output.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CRMMIGRATE_STORE_DRIVER", "none")
	t.Setenv("CRMMIGRATE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CRMMIGRATE_BATCH_WORKERS=12\nCRMMIGRATE_SERVER_PORT=7000\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("CRMMIGRATE_BATCH_WORKERS") //nolint:errcheck
	})
	// An explicit environment variable wins over .env.
	t.Setenv("CRMMIGRATE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Batch.Workers)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "crm-migrate.db"
	cfg.Batch.Workers = 4
	cfg.Input.Dir = "snapshot"
	cfg.Output.Format = "csv"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "run ok", mode: "run"},
		{name: "run without store", mode: "run", mutate: func(c *Config) { c.Store.Driver = "none" }},
		{name: "classify ok", mode: "classify"},
		{name: "history ok", mode: "history"},
		{name: "serve ok", mode: "serve"},
		{
			name:    "run missing input",
			mode:    "run",
			mutate:  func(c *Config) { c.Input.Dir = "" },
			wantErr: []string{"input.dir is required"},
		},
		{
			name:    "run bad format",
			mode:    "run",
			mutate:  func(c *Config) { c.Output.Format = "parquet" },
			wantErr: []string{"output.format must be csv or xlsx"},
		},
		{
			name:    "workers out of range",
			mode:    "cluster",
			mutate:  func(c *Config) { c.Batch.Workers = 0 },
			wantErr: []string{"batch.workers must be between 1 and 64"},
		},
		{
			name:    "history needs a store",
			mode:    "history",
			mutate:  func(c *Config) { c.Store.Driver = "none" },
			wantErr: []string{"has no run history"},
		},
		{
			name:    "unknown driver",
			mode:    "run",
			mutate:  func(c *Config) { c.Store.Driver = "mysql" },
			wantErr: []string{"store.driver must be sqlite, postgres or none"},
		},
		{
			name:    "postgres without url",
			mode:    "serve",
			mutate:  func(c *Config) { c.Store.Driver = "postgres"; c.Store.DatabaseURL = "" },
			wantErr: []string{"store.database_url is required"},
		},
		{
			name:    "serve bad port",
			mode:    "serve",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: []string{"server.port must be > 0"},
		},
		{
			name: "errors are collected",
			mode: "run",
			mutate: func(c *Config) {
				c.Input.Dir = ""
				c.Cluster.ParentIDOffset = -1
			},
			wantErr: []string{"input.dir is required", "cluster.parent_id_offset must be >= 0"},
		},
		{
			name:    "unknown mode",
			mode:    "enrich",
			wantErr: []string{"unknown mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
