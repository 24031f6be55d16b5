package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/bb-biodiversity/internal/catalog"
	"github.com/kyleking/bb-biodiversity/internal/config"
	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/logging"
	"github.com/kyleking/bb-biodiversity/internal/query"
	"github.com/kyleking/bb-biodiversity/internal/schema"
	"github.com/kyleking/bb-biodiversity/internal/storage"
)

// overrideFlags are the flags config.LoadConfigWithOverrides understands.
var overrideFlags = []string{"config", "db-driver", "db-dsn", "log-level", "log-format"}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to a JSON or YAML config file"},
		&cli.StringFlag{Name: "db-driver", Usage: "database driver: sqlite3, duckdb or pgx"},
		&cli.StringFlag{Name: "db-dsn", Usage: "database file path or connection string"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "text or json"},
	}
}

// loadConfig resolves the configuration for cmd, with its set flags taking
// precedence over file and environment.
func loadConfig(cmd *cli.Command, extra ...string) (*config.Config, error) {
	overrides := map[string]interface{}{}
	for _, name := range append(overrideFlags, extra...) {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration").
			WithSuggestion("Run 'bb-biodiversity config' to inspect the resolved settings")
	}

	cfg.ExpandAllPaths()

	return cfg, nil
}

// dataset is an opened store with its reflected catalog and query engine.
type dataset struct {
	db      *storage.DB
	schema  *schema.Catalog
	catalog *catalog.Catalog
	engine  *query.Engine
}

func (d *dataset) Close() error {
	return d.db.Close()
}

// openDataset connects to the store, reflects its schema and binds the
// entity catalog. Every failure here is fatal to the caller.
func openDataset(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dataset, error) {
	log := logger.WithFields(map[string]interface{}{
		"driver": cfg.Database.Driver,
		"dsn":    cfg.Database.RedactedDSN(),
	})

	var ds *dataset

	err := logging.LoggerMiddleware(log, "open dataset", func() error {
		db, err := storage.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}

		sc, err := schema.ReflectNamespace(ctx, db.SQL(), db.Dialect(), cfg.Database.Schema,
			cfg.Dataset.ObservationsTable, cfg.Dataset.MetadataTable, cfg.Dataset.TaxonomyTable)
		if err != nil {
			_ = db.Close()
			return err
		}

		cat, err := catalog.Bind(sc, query.Bindings(cfg.Dataset))
		if err != nil {
			_ = db.Close()
			return err
		}

		ds = &dataset{
			db:      db,
			schema:  sc,
			catalog: cat,
			engine:  query.New(db, cat, query.OptionsFromConfig(cfg, logger)),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"tables":  ds.schema.Len(),
		"samples": len(ds.catalog.SampleColumns()),
	}).Info("schema reflected")

	return ds, nil
}
