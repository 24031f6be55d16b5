// Package catalog binds the logical entities the query engine works with to
// the physical tables found by schema reflection.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/schema"
)

// Entity is a logical table name
type Entity string

const (
	Observations Entity = "observations"
	Metadata     Entity = "metadata"
	Taxonomy     Entity = "taxonomy"
)

// RequiredEntities must all be bound for the catalog to be usable.
var RequiredEntities = []Entity{Observations, Metadata, Taxonomy}

// Binding ties an entity to a physical table.
type Binding struct {
	Table string
	// Required columns must exist or binding fails.
	Required []string
	// Keys are identifier columns. For observations every other column is a
	// sample column. Key columns that are absent are ignored.
	Keys []string
}

type entry struct {
	table   *schema.Table
	columns []string
	allowed map[string]struct{}
	keys    map[string]struct{}
}

// Catalog is the read-only view of the bound entities. It is never mutated
// after Bind returns.
type Catalog struct {
	entries map[Entity]*entry
	samples []string
}

// Bind resolves every binding against the reflected schema. It fails with
// IncompleteSchema when a required entity is unbound, or a bound table or
// required column is missing.
func Bind(sc *schema.Catalog, bindings map[Entity]Binding) (*Catalog, error) {
	for _, e := range RequiredEntities {
		if _, ok := bindings[e]; !ok {
			return nil, errors.Newf(errors.ErrTypeIncompleteSchema, "no table bound for entity %s", e)
		}
	}

	c := &Catalog{entries: make(map[Entity]*entry, len(bindings))}

	for e, b := range bindings {
		tbl, ok := sc.Table(b.Table)
		if !ok {
			return nil, errors.Newf(errors.ErrTypeIncompleteSchema, "table %s for entity %s not found", b.Table, e)
		}

		var missing []string
		for _, col := range b.Required {
			if !tbl.HasColumn(col) {
				missing = append(missing, col)
			}
		}

		if len(missing) > 0 {
			return nil, errors.Newf(errors.ErrTypeIncompleteSchema,
				"table %s for entity %s lacks columns: %s", tbl.Name(), e, strings.Join(missing, ", "))
		}

		ent := &entry{
			table:   tbl,
			columns: tbl.ColumnNames(),
			allowed: make(map[string]struct{}),
			keys:    make(map[string]struct{}),
		}

		for _, col := range ent.columns {
			ent.allowed[col] = struct{}{}
		}

		for _, k := range slices.Concat(b.Keys, tbl.PrimaryKey()) {
			if _, ok := ent.allowed[k]; ok {
				ent.keys[k] = struct{}{}
			}
		}

		c.entries[e] = ent
	}

	obs := c.entries[Observations]
	for _, col := range obs.columns {
		if _, isKey := obs.keys[col]; !isKey {
			c.samples = append(c.samples, col)
		}
	}

	return c, nil
}

// Table returns the physical table bound to e.
func (c *Catalog) Table(e Entity) (*schema.Table, bool) {
	ent, ok := c.entries[e]
	if !ok {
		return nil, false
	}

	return ent.table, true
}

// MustTable returns the physical table bound to a required entity.
func (c *Catalog) MustTable(e Entity) *schema.Table {
	t, ok := c.Table(e)
	if !ok {
		panic(fmt.Sprintf("catalog: entity %s is not bound", e))
	}

	return t
}

// ColumnNames returns the columns of e in store declaration order. The slice
// is a fresh copy.
func (c *Catalog) ColumnNames(e Entity) []string {
	ent, ok := c.entries[e]
	if !ok {
		return nil
	}

	return slices.Clone(ent.columns)
}

// HasColumn reports whether e has a column named exactly name.
func (c *Catalog) HasColumn(e Entity, name string) bool {
	ent, ok := c.entries[e]
	if !ok {
		return false
	}

	_, found := ent.allowed[name]

	return found
}

// IsKey reports whether name is an identifier column of e.
func (c *Catalog) IsKey(e Entity, name string) bool {
	ent, ok := c.entries[e]
	if !ok {
		return false
	}

	_, found := ent.keys[name]

	return found
}

// SampleColumns returns the observation columns that hold per-sample
// abundances, in declaration order.
func (c *Catalog) SampleColumns() []string {
	return slices.Clone(c.samples)
}

// IsSampleColumn reports whether name is one of SampleColumns.
func (c *Catalog) IsSampleColumn(name string) bool {
	return c.HasColumn(Observations, name) && !c.IsKey(Observations, name)
}

// Entities returns the bound entities, sorted.
func (c *Catalog) Entities() []Entity {
	out := make([]Entity, 0, len(c.entries))
	for e := range c.entries {
		out = append(out, e)
	}

	slices.Sort(out)

	return out
}
