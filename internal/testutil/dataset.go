// Package testutil builds small belly-button datasets on disk for tests.
package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver

	"github.com/kyleking/bb-biodiversity/internal/config"
)

// Observation is one row of the samples table: an OTU and its abundance in
// each sample column, in Dataset.SampleColumns order. A nil value is NULL.
type Observation struct {
	OTUID  int64
	Values []any
}

// OTU is one row of the otu table. A nil description is NULL.
type OTU struct {
	OTUID       int64
	Description any
}

// Metadata is one row of the samples_metadata table. Nil fields are NULL.
type Metadata struct {
	SampleID  int64
	Event     string
	Ethnicity any
	Gender    any
	Age       any
	WFreq     any
	BBType    any
	Location  any
}

// Dataset describes the full fixture. Rows are inserted in slice order,
// which is the storage order the queries observe.
type Dataset struct {
	SampleColumns []string
	Observations  []Observation
	OTUs          []OTU
	Metadata      []Metadata

	// SkipTables leaves the named tables out entirely.
	SkipTables []string
	// UniqueSampleID adds a UNIQUE constraint on SAMPLEID.
	UniqueSampleID bool
}

// DefaultDataset is the fixture most tests share.
func DefaultDataset() Dataset {
	return Dataset{
		SampleColumns: []string{"BB_940", "BB_941", "BB_943"},
		Observations: []Observation{
			{OTUID: 5, Values: []any{0, 10, nil}},
			{OTUID: 12, Values: []any{200, 0, 3}},
			{OTUID: 7, Values: []any{200, 0, 0}},
			{OTUID: 1166, Values: []any{163, 25, 0}},
			{OTUID: 2858, Values: []any{126, 0, 0}},
		},
		OTUs: []OTU{
			{OTUID: 1, Description: "Archaea;Euryarchaeota;Halobacteria;Halobacteriales;Halobacteriaceae;Halococcus"},
			{OTUID: 2, Description: "Archaea;Euryarchaeota;Halobacteria;Halobacteriales;Halobacteriaceae;Halococcus"},
			{OTUID: 3, Description: "Bacteria"},
			{OTUID: 4, Description: "Bacteria"},
			{OTUID: 5, Description: ""},
			{OTUID: 6, Description: nil},
		},
		Metadata: []Metadata{
			{SampleID: 940, Event: "BellyButtonsScienceOnline", Ethnicity: "Caucasian", Gender: "F", Age: 24, WFreq: 3, BBType: "I", Location: "Beaufort/NC"},
			{SampleID: 941, Event: "BellyButtonsScienceOnline", Ethnicity: "Caucasian/Midleastern", Gender: "F", Age: 34, WFreq: 1, BBType: "I", Location: "Chicago/IL"},
			{SampleID: 943, Event: "BellyButtonsScienceOnline", Ethnicity: "Caucasian", Gender: "F", Age: 49, WFreq: 1, BBType: "I", Location: "Omaha/NE"},
			{SampleID: 944, Event: "BellyButtonsScienceOnline", Ethnicity: nil, Gender: "M", Age: nil, WFreq: nil, BBType: "O", Location: nil},
		},
	}
}

// WriteDataset creates the fixture with the given driver ("sqlite3" or
// "duckdb") in a temp directory and returns its path. The writing
// connection is closed before returning.
func WriteDataset(t testing.TB, driver string, ds Dataset) string {
	t.Helper()

	ext := ".sqlite"
	if driver == "duckdb" {
		ext = ".duckdb"
	}

	path := filepath.Join(t.TempDir(), "belly_button_biodiversity"+ext)

	db, err := sql.Open(driver, path)
	if err != nil {
		t.Fatalf("failed to open %s fixture: %v", driver, err)
	}
	defer db.Close()

	for _, stmt := range ds.statements() {
		if _, err := db.Exec(stmt.query, stmt.args...); err != nil {
			t.Fatalf("fixture statement %q failed: %v", stmt.query, err)
		}
	}

	return path
}

// Config returns a configuration pointing at a fixture file.
func Config(driver, path string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = driver
	cfg.Database.DSN = path

	return cfg
}

type statement struct {
	query string
	args  []any
}

func (ds Dataset) skipped(table string) bool {
	for _, s := range ds.SkipTables {
		if s == table {
			return true
		}
	}

	return false
}

func (ds Dataset) statements() []statement {
	var stmts []statement

	if !ds.skipped("samples") {
		// INT, not INTEGER: an INTEGER PRIMARY KEY would alias the SQLite
		// rowid and turn storage order into key order.
		cols := []string{`"otu_id" INT PRIMARY KEY`}
		for _, c := range ds.SampleColumns {
			cols = append(cols, quote(c)+" INTEGER")
		}

		stmts = append(stmts, statement{query: fmt.Sprintf(`CREATE TABLE "samples" (%s)`, strings.Join(cols, ", "))})

		insert := fmt.Sprintf(`INSERT INTO "samples" VALUES (%s)`, placeholders(len(ds.SampleColumns)+1))
		for _, o := range ds.Observations {
			stmts = append(stmts, statement{query: insert, args: append([]any{o.OTUID}, o.Values...)})
		}
	}

	if !ds.skipped("otu") {
		stmts = append(stmts, statement{query: `CREATE TABLE "otu" ("otu_id" INTEGER PRIMARY KEY, "lowest_taxonomic_unit_found" TEXT)`})
		for _, o := range ds.OTUs {
			stmts = append(stmts, statement{query: `INSERT INTO "otu" VALUES (?, ?)`, args: []any{o.OTUID, o.Description}})
		}
	}

	if !ds.skipped("samples_metadata") {
		sampleID := `"SAMPLEID" INTEGER`
		if ds.UniqueSampleID {
			sampleID += " UNIQUE"
		}

		stmts = append(stmts, statement{query: `CREATE TABLE "samples_metadata" (` + sampleID + `, "EVENT" TEXT, "ETHNICITY" TEXT, "GENDER" TEXT, "AGE" INTEGER, "WFREQ" INTEGER, "BBTYPE" TEXT, "LOCATION" TEXT)`})
		for _, m := range ds.Metadata {
			stmts = append(stmts, statement{
				query: `INSERT INTO "samples_metadata" VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				args:  []any{m.SampleID, m.Event, m.Ethnicity, m.Gender, m.Age, m.WFreq, m.BBType, m.Location},
			})
		}
	}

	return stmts
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
