// Package schema discovers the tables and columns of the backing store at
// startup and holds them as an immutable Catalog.
package schema

import (
	"slices"
	"strings"
)

// Column is a reflected column. Values are copied out of the catalog, so
// callers cannot alter it.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// Table is a reflected table with its columns in declaration order.
type Table struct {
	name    string
	columns []Column
	index   map[string]int
	rowID   string
}

func newTable(name string, columns []Column, rowID string) *Table {
	t := &Table{
		name:    name,
		columns: columns,
		index:   make(map[string]int, len(columns)),
		rowID:   rowID,
	}

	for i, c := range columns {
		t.index[c.Name] = i
	}

	return t
}

// Name returns the physical table name
func (t *Table) Name() string {
	return t.name
}

// RowID returns the pseudo-column that yields rows in storage order, or ""
// when the store has none for this table.
func (t *Table) RowID() string {
	return t.rowID
}

// Columns returns a copy of the columns in declaration order.
func (t *Table) Columns() []Column {
	return slices.Clone(t.columns)
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}

	return names
}

// Column looks a column up by exact name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}

	return t.columns[i], true
}

// HasColumn reports whether the table declares a column with exactly this name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// PrimaryKey returns the primary key column names, or nil when the table has none.
func (t *Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}

	return pk
}

// Catalog maps physical table names to reflected tables. It is built once by
// Reflect and never modified, so concurrent reads need no locking.
type Catalog struct {
	tables map[string]*Table
	names  []string
}

func newCatalog(tables []*Table) *Catalog {
	c := &Catalog{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		c.tables[t.name] = t
		c.names = append(c.names, t.name)
	}

	slices.Sort(c.names)

	return c
}

// Table resolves a physical table name. An exact match wins; otherwise a
// unique case-insensitive match is accepted, as unquoted SQL identifiers are
// case-insensitive in every supported dialect.
func (c *Catalog) Table(name string) (*Table, bool) {
	if t, ok := c.tables[name]; ok {
		return t, true
	}

	var found *Table
	for n, t := range c.tables {
		if strings.EqualFold(n, name) {
			if found != nil {
				return nil, false
			}

			found = t
		}
	}

	return found, found != nil
}

// TableNames returns the physical table names, sorted.
func (c *Catalog) TableNames() []string {
	return slices.Clone(c.names)
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Equal reports whether both catalogs hold the same tables and columns.
func (c *Catalog) Equal(other *Catalog) bool {
	if c == nil || other == nil {
		return c == other
	}

	if !slices.Equal(c.names, other.names) {
		return false
	}

	for name, t := range c.tables {
		o := other.tables[name]
		if o == nil || t.rowID != o.rowID || !slices.Equal(t.columns, o.columns) {
			return false
		}
	}

	return true
}
