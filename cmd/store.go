package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/config"
	"github.com/sells-group/crm-migrate/internal/migrate"
	"github.com/sells-group/crm-migrate/internal/stage"
	"github.com/sells-group/crm-migrate/internal/store"
)

// initStore opens and migrates the configured store. The "none" driver returns a nil
// store, which commands that only need outputs accept.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		st, err = store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initHistory opens the store for commands that read run history.
func initHistory(ctx context.Context, c *config.Config) (store.Store, error) {
	if err := c.Validate("history"); err != nil {
		return nil, err
	}
	return initStore(ctx, c)
}

// loadCatalog compiles the configured stage catalog, applying the default pipeline
// override.
func loadCatalog(c *config.Config) (*stage.Catalog, error) {
	def, err := stage.LoadDefinition(c.Pipelines.File)
	if err != nil {
		return nil, err
	}
	if c.Pipelines.Default != "" {
		def.DefaultPipeline = c.Pipelines.Default
	}
	return stage.Compile(def)
}

// engineOptions maps configuration onto engine options.
func engineOptions(c *config.Config) migrate.Options {
	opts := migrate.Options{Workers: c.Batch.Workers}
	opts.Cluster.ParentIDOffset = c.Cluster.ParentIDOffset
	return opts
}
