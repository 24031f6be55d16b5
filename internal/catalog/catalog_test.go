package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/schema"
	"github.com/kyleking/bb-biodiversity/internal/storage"
	"github.com/kyleking/bb-biodiversity/internal/testutil"
)

func reflectFixture(t *testing.T, ds testutil.Dataset) *schema.Catalog {
	t.Helper()

	path := testutil.WriteDataset(t, "sqlite3", ds)

	db, err := storage.Open(context.Background(), testutil.Config("sqlite3", path).Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sc, err := schema.Reflect(context.Background(), db.SQL(), db.Dialect())
	require.NoError(t, err)

	return sc
}

func defaultBindings() map[Entity]Binding {
	return map[Entity]Binding{
		Observations: {Table: "samples", Required: []string{"otu_id"}, Keys: []string{"otu_id"}},
		Metadata:     {Table: "samples_metadata", Required: []string{"SAMPLEID", "WFREQ"}},
		Taxonomy:     {Table: "otu", Required: []string{"otu_id", "lowest_taxonomic_unit_found"}},
	}
}

func TestBind(t *testing.T) {
	c, err := Bind(reflectFixture(t, testutil.DefaultDataset()), defaultBindings())
	require.NoError(t, err)

	assert.Equal(t, []Entity{Metadata, Observations, Taxonomy}, c.Entities())
	assert.Equal(t, []string{"otu_id", "BB_940", "BB_941", "BB_943"}, c.ColumnNames(Observations))
	assert.Equal(t, []string{"BB_940", "BB_941", "BB_943"}, c.SampleColumns())

	tbl, ok := c.Table(Taxonomy)
	require.True(t, ok)
	assert.Equal(t, "otu", tbl.Name())
	assert.Equal(t, "samples", c.MustTable(Observations).Name())
}

func TestHasColumn(t *testing.T) {
	c, err := Bind(reflectFixture(t, testutil.DefaultDataset()), defaultBindings())
	require.NoError(t, err)

	assert.True(t, c.HasColumn(Observations, "BB_940"))
	assert.True(t, c.HasColumn(Observations, "otu_id"))
	assert.False(t, c.HasColumn(Observations, "bb_940"))
	assert.False(t, c.HasColumn(Observations, "BB_999"))
	assert.False(t, c.HasColumn(Observations, `BB_940" OR 1=1 --`))
	assert.False(t, c.HasColumn(Entity("unbound"), "BB_940"))

	assert.True(t, c.IsKey(Observations, "otu_id"))
	assert.False(t, c.IsSampleColumn("otu_id"))
	assert.True(t, c.IsSampleColumn("BB_941"))
}

func TestSampleColumnsKeepSchemaOrder(t *testing.T) {
	ds := testutil.DefaultDataset()
	ds.SampleColumns = []string{"BB_999", "BB_100", "BB_500"}
	for i := range ds.Observations {
		ds.Observations[i].Values = []any{1, 2, 3}
	}

	c, err := Bind(reflectFixture(t, ds), defaultBindings())
	require.NoError(t, err)

	assert.Equal(t, []string{"BB_999", "BB_100", "BB_500"}, c.SampleColumns())
}

func TestBindIncompleteSchema(t *testing.T) {
	sc := reflectFixture(t, testutil.DefaultDataset())

	tests := []struct {
		name   string
		mutate func(map[Entity]Binding)
	}{
		{"missing entity", func(b map[Entity]Binding) { delete(b, Taxonomy) }},
		{"missing table", func(b map[Entity]Binding) {
			b[Taxonomy] = Binding{Table: "taxa"}
		}},
		{"missing column", func(b map[Entity]Binding) {
			b[Metadata] = Binding{Table: "samples_metadata", Required: []string{"SAMPLEID", "COUNTRY"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := defaultBindings()
			tt.mutate(b)

			_, err := Bind(sc, b)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeIncompleteSchema))
		})
	}
}

func TestColumnNamesReturnsCopy(t *testing.T) {
	c, err := Bind(reflectFixture(t, testutil.DefaultDataset()), defaultBindings())
	require.NoError(t, err)

	names := c.ColumnNames(Observations)
	names[0] = "changed"
	samples := c.SampleColumns()
	samples[0] = "changed"

	assert.Equal(t, "otu_id", c.ColumnNames(Observations)[0])
	assert.Equal(t, "BB_940", c.SampleColumns()[0])
	assert.Nil(t, c.ColumnNames(Entity("unbound")))
}

func TestConcurrentReads(t *testing.T) {
	c, err := Bind(reflectFixture(t, testutil.DefaultDataset()), defaultBindings())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for _, col := range c.SampleColumns() {
				assert.True(t, c.HasColumn(Observations, col))
			}
		}()
	}

	wg.Wait()
}
