package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. CRMMIGRATE_STORE_DRIVER.
const EnvPrefix = "CRMMIGRATE"

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Pipelines PipelinesConfig `yaml:"pipelines" mapstructure:"pipelines"`
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Input     InputConfig     `yaml:"input" mapstructure:"input"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BatchConfig configures the classification and resolution worker pools.
type BatchConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// PipelinesConfig points at the stage catalog. An empty file uses the built-in tables.
type PipelinesConfig struct {
	File    string `yaml:"file" mapstructure:"file"`
	Default string `yaml:"default" mapstructure:"default"`
}

// ClusterConfig configures site clustering.
type ClusterConfig struct {
	// ParentIDOffset pins the first synthetic parent id. Zero derives it from the data.
	ParentIDOffset int64 `yaml:"parent_id_offset" mapstructure:"parent_id_offset"`
}

// InputConfig locates the legacy snapshot.
type InputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// OutputConfig configures the exported tables.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the read-only run history API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Load reads configuration from .env, config.yaml and the environment, in increasing
// precedence.
func Load() (*Config, error) {
	// .env never overrides variables already set in the environment.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, eris.Wrap(err, "config: load .env")
		}
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crm-migrate.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.workers", 4)
	v.SetDefault("pipelines.file", "")
	v.SetDefault("pipelines.default", "")
	v.SetDefault("cluster.parent_id_offset", 0)
	v.SetDefault("input.dir", "snapshot")
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.format", "csv")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. All problems are reported
// together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		if c.Input.Dir == "" {
			errs = append(errs, "input.dir is required")
		}
		if c.Output.Format != "" && c.Output.Format != "csv" && c.Output.Format != "xlsx" {
			errs = append(errs, "output.format must be csv or xlsx")
		}
		errs = append(errs, c.validateBatch()...)
		errs = append(errs, c.validateStore(true)...)
	case "classify", "cluster":
		if c.Input.Dir == "" {
			errs = append(errs, "input.dir is required")
		}
		errs = append(errs, c.validateBatch()...)
	case "history":
		errs = append(errs, c.validateStore(false)...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateStore(false)...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Cluster.ParentIDOffset < 0 {
		errs = append(errs, "cluster.parent_id_offset must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateBatch() []string {
	if c.Batch.Workers < 1 || c.Batch.Workers > 64 {
		return []string{"batch.workers must be between 1 and 64"}
	}
	return nil
}

// validateStore checks the store settings. optional allows the "none" driver.
func (c *Config) validateStore(optional bool) []string {
	switch c.Store.Driver {
	case "none":
		if !optional {
			return []string{"store.driver none has no run history"}
		}
		return nil
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
		return nil
	default:
		return []string{"store.driver must be sqlite, postgres or none"}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
