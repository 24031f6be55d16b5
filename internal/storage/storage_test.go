package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/testutil"
)

func TestParseDialect(t *testing.T) {
	for _, name := range []string{"sqlite3", "duckdb", "pgx"} {
		d, err := ParseDialect(name)
		require.NoError(t, err)
		assert.Equal(t, Dialect(name), d)
	}

	_, err := ParseDialect("mysql")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "?", DialectSQLite.Placeholder(1))
	assert.Equal(t, "$1", DialectDuckDB.Placeholder(1))
	assert.Equal(t, "$2", DialectPostgres.Placeholder(2))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"BB_940"`, QuoteIdent("BB_940"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `"x"" OR 1=1 --"`, QuoteIdent(`x" OR 1=1 --`))
}

func TestOpenSQLiteReadOnly(t *testing.T) {
	path := testutil.WriteDataset(t, "sqlite3", testutil.DefaultDataset())
	cfg := testutil.Config("sqlite3", path)

	db, err := Open(context.Background(), cfg.Database)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DialectSQLite, db.Dialect())
	require.NoError(t, db.Ping(context.Background()))

	var n int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*) FROM "samples"`).Scan(&n))
	assert.Equal(t, 5, n)

	_, err = db.SQL().Exec(`DELETE FROM "samples"`)
	assert.Error(t, err, "read-only connection must reject writes")
}

func TestOpenDuckDBReadOnly(t *testing.T) {
	path := testutil.WriteDataset(t, "duckdb", testutil.DefaultDataset())
	cfg := testutil.Config("duckdb", path)

	db, err := Open(context.Background(), cfg.Database)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*) FROM "otu"`).Scan(&n))
	assert.Equal(t, 6, n)

	_, err = db.SQL().Exec(`DELETE FROM "otu"`)
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	cfg := testutil.Config("sqlite3", filepath.Join(t.TempDir(), "missing.sqlite"))

	_, err := Open(context.Background(), cfg.Database)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeSchemaUnavailable))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	cfg := testutil.Config("oracle", "whatever")

	_, err := Open(context.Background(), cfg.Database)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestBuildDSN(t *testing.T) {
	path := testutil.WriteDataset(t, "sqlite3", testutil.DefaultDataset())
	cfg := testutil.Config("sqlite3", path)

	dsn, err := buildDSN(DialectSQLite, cfg.Database)
	require.NoError(t, err)
	assert.Equal(t, "file:"+path+"?mode=ro", dsn)

	cfg.Database.ReadOnly = false
	dsn, err = buildDSN(DialectSQLite, cfg.Database)
	require.NoError(t, err)
	assert.Equal(t, path, dsn)

	cfg.Database.DSN = "file:custom.sqlite?cache=shared"
	dsn, err = buildDSN(DialectSQLite, cfg.Database)
	require.NoError(t, err)
	assert.Equal(t, "file:custom.sqlite?cache=shared", dsn)

	pg := testutil.Config("pgx", "postgres://bb@localhost/bb")
	dsn, err = buildDSN(DialectPostgres, pg.Database)
	require.NoError(t, err)
	assert.Equal(t, "postgres://bb@localhost/bb", dsn)
}
