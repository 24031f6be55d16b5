package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"  // Postgres driver, registers "pgx"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver

	"github.com/kyleking/bb-biodiversity/internal/config"
	"github.com/kyleking/bb-biodiversity/internal/errors"
)

// Dialect names a supported backing store. The value doubles as the
// database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "pgx"
)

// ParseDialect validates a configured driver name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(name); d {
	case DialectSQLite, DialectDuckDB, DialectPostgres:
		return d, nil
	default:
		return "", errors.Newf(errors.ErrTypeConfig, "unsupported database driver %q", name)
	}
}

// Placeholder returns the bind parameter marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}

	return fmt.Sprintf("$%d", n)
}

// QuoteIdent quotes a table or column name. All supported dialects use
// standard double-quoted identifiers.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DB is a pooled handle on the backing store
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the store described by cfg and verifies it is reachable.
// Every failure is reported as SchemaUnavailable: without a store there is
// nothing to reflect.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := buildDSN(dialect, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeSchemaUnavailable, "failed to open %s database", dialect)
	}

	lifetime, idle := cfg.PoolLifetimes()
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(idle)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, errors.ErrTypeSchemaUnavailable, "failed to ping %s database", dialect)
	}

	return &DB{db: db, dialect: dialect}, nil
}

// buildDSN turns the configured path or connection string into the driver
// DSN, applying read-only mode where the driver supports it.
func buildDSN(dialect Dialect, cfg config.DatabaseConfig) (string, error) {
	switch dialect {
	case DialectSQLite, DialectDuckDB:
		path := config.ExpandPath(cfg.DSN)
		if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
			return path, nil
		}

		// Never let the driver create an empty database in place of a missing dataset.
		if _, err := os.Stat(path); err != nil {
			return "", errors.Wrapf(err, errors.ErrTypeSchemaUnavailable, "database file %s is not accessible", path)
		}

		if !cfg.ReadOnly {
			return path, nil
		}

		if dialect == DialectSQLite {
			return "file:" + (&url.URL{Path: path}).EscapedPath() + "?mode=ro", nil
		}

		return path + "?access_mode=read_only", nil
	default:
		// Postgres sessions are read-only only through the role's grants.
		return cfg.DSN, nil
	}
}

// SQL returns the underlying pool.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Dialect returns the store dialect
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// QueryContext runs a query on a pooled connection. The connection is held
// until the returned rows are closed.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// Ping checks the store is still reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the pool
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}

	return d.db.Close()
}
