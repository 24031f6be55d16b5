package schema

import (
	"context"
	"database/sql"
	"strings"

	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/storage"
)

// introspector reads table and column metadata for one dialect.
type introspector interface {
	tables(ctx context.Context, db *sql.DB) ([]string, error)
	columns(ctx context.Context, db *sql.DB, table string) ([]Column, error)
	// rowID names the pseudo-column that returns rows in storage order.
	rowID(ctx context.Context, db *sql.DB, table string, columns []Column) (string, error)
}

// DefaultNamespace is the schema searched when none is configured.
func DefaultNamespace(dialect storage.Dialect) string {
	if dialect == storage.DialectPostgres {
		return "public"
	}

	return "main"
}

func introspectorFor(dialect storage.Dialect, namespace string) (introspector, error) {
	if namespace == "" {
		namespace = DefaultNamespace(dialect)
	}

	switch dialect {
	case storage.DialectSQLite:
		return sqliteIntrospector{schema: namespace}, nil
	case storage.DialectDuckDB, storage.DialectPostgres:
		return infoSchemaIntrospector{schema: namespace, dialect: dialect}, nil
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "no schema reflection for dialect %q", dialect)
	}
}

// Reflect enumerates every table and column in the dialect's default schema
// and returns them as a Catalog keyed by physical table name. It fails with
// SchemaUnavailable when the store cannot be reached or read, and with
// IncompleteSchema when any name in expected is absent.
//
// Reflect only reads metadata, so calling it twice against an unchanged
// store yields Equal catalogs.
func Reflect(ctx context.Context, db *sql.DB, dialect storage.Dialect, expected ...string) (*Catalog, error) {
	return ReflectNamespace(ctx, db, dialect, "", expected...)
}

// ReflectNamespace is Reflect over a named schema: an attached database for
// SQLite, a catalog schema for DuckDB and Postgres. An empty namespace means
// DefaultNamespace.
func ReflectNamespace(ctx context.Context, db *sql.DB, dialect storage.Dialect, namespace string, expected ...string) (*Catalog, error) {
	in, err := introspectorFor(dialect, namespace)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchemaUnavailable, "store is unreachable")
	}

	names, err := in.tables(ctx, db)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchemaUnavailable, "failed to list tables")
	}

	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		cols, err := in.columns(ctx, db, name)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeSchemaUnavailable, "failed to list columns of %s", name)
		}

		rowID, err := in.rowID(ctx, db, name, cols)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeSchemaUnavailable, "failed to inspect storage of %s", name)
		}

		tables = append(tables, newTable(name, cols, rowID))
	}

	catalog := newCatalog(tables)

	var missing []string
	for _, name := range expected {
		if _, ok := catalog.Table(name); !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, errors.Newf(errors.ErrTypeIncompleteSchema,
			"expected tables not found: %s", strings.Join(missing, ", ")).
			WithSuggestion("Check database.dsn points at the biodiversity dataset").
			WithSuggestion("Set the dataset.*_table options if the tables are named differently")
	}

	return catalog, nil
}

type sqliteIntrospector struct {
	schema string
}

func (s sqliteIntrospector) tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM `+storage.QuoteIdent(s.schema)+`.sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s sqliteIntrospector) columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?, ?) ORDER BY cid`, table, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c       Column
			notNull bool
			pk      int
		)

		if err := rows.Scan(&c.Name, &c.Type, &notNull, &pk); err != nil {
			return nil, err
		}

		c.Nullable = !notNull
		c.PrimaryKey = pk > 0
		cols = append(cols, c)
	}

	return cols, rows.Err()
}

// sqliteRowIDAliases are tried in order; a declared column of the same name
// hides the alias.
var sqliteRowIDAliases = []string{"rowid", "_rowid_", "oid"}

// rowID returns the first unshadowed rowid alias. WITHOUT ROWID tables have
// none and are read in primary key order.
func (s sqliteIntrospector) rowID(ctx context.Context, db *sql.DB, table string, columns []Column) (string, error) {
	var ddl sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT sql FROM `+storage.QuoteIdent(s.schema)+`.sqlite_master WHERE type = 'table' AND name = ?`,
		table).Scan(&ddl)
	if err != nil {
		return "", err
	}

	if strings.Contains(strings.ToUpper(ddl.String), "WITHOUT ROWID") {
		return "", nil
	}

	return unshadowed(columns, sqliteRowIDAliases...), nil
}

func unshadowed(columns []Column, candidates ...string) string {
	for _, c := range candidates {
		shadowed := false
		for _, col := range columns {
			if strings.EqualFold(col.Name, c) {
				shadowed = true
				break
			}
		}

		if !shadowed {
			return c
		}
	}

	return ""
}

// infoSchemaIntrospector reads the SQL-standard information_schema views,
// which DuckDB and Postgres both provide.
type infoSchemaIntrospector struct {
	schema  string
	dialect storage.Dialect
}

func (i infoSchemaIntrospector) tables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		WHERE table_schema = `+i.dialect.Placeholder(1)+` AND table_type = 'BASE TABLE'
		ORDER BY table_name`, i.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (i infoSchemaIntrospector) columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		WHERE table_schema = `+i.dialect.Placeholder(1)+` AND table_name = `+i.dialect.Placeholder(2)+`
		ORDER BY ordinal_position`, i.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c        Column
			nullable string
		)

		if err := rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, err
		}

		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	pk := i.primaryKey(ctx, db, table)
	for n := range cols {
		_, cols[n].PrimaryKey = pk[cols[n].Name]
	}

	return cols, nil
}

// rowID is DuckDB's insertion-ordered rowid. Postgres has no stable row
// order, so its tables report none.
func (i infoSchemaIntrospector) rowID(_ context.Context, _ *sql.DB, _ string, columns []Column) (string, error) {
	if i.dialect != storage.DialectDuckDB {
		return "", nil
	}

	return unshadowed(columns, "rowid"), nil
}

// primaryKey returns the primary key columns of table. Keys are optional
// metadata: a store that cannot report them yields an empty set.
func (i infoSchemaIntrospector) primaryKey(ctx context.Context, db *sql.DB, table string) map[string]struct{} {
	pk := map[string]struct{}{}

	rows, err := db.QueryContext(ctx,
		`SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = `+i.dialect.Placeholder(1)+`
			AND tc.table_name = `+i.dialect.Placeholder(2), i.schema, table)
	if err != nil {
		return pk
	}
	defer rows.Close()

	names, err := scanStrings(rows)
	if err != nil {
		return map[string]struct{}{}
	}

	for _, n := range names {
		pk[n] = struct{}{}
	}

	return pk
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	return out, rows.Err()
}
