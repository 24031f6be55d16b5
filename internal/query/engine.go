// Package query runs the read-only dataset queries. Column names that arrive
// from requests are checked against the entity catalog before any SQL is
// built; values are always bound as parameters.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kyleking/bb-biodiversity/internal/catalog"
	"github.com/kyleking/bb-biodiversity/internal/config"
	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/logging"
	"github.com/kyleking/bb-biodiversity/internal/schema"
	"github.com/kyleking/bb-biodiversity/internal/storage"
)

// Metadata attribute columns, in response order.
const (
	ColumnAge       = "AGE"
	ColumnBBType    = "BBTYPE"
	ColumnEthnicity = "ETHNICITY"
	ColumnGender    = "GENDER"
	ColumnLocation  = "LOCATION"
)

// SampleMetadata is the metadata record of one sample. Attributes the
// dataset leaves NULL are nil.
type SampleMetadata struct {
	Age       *int64  `json:"AGE"`
	BBType    *string `json:"BBTYPE"`
	Ethnicity *string `json:"ETHNICITY"`
	Gender    *string `json:"GENDER"`
	Location  *string `json:"LOCATION"`
	SampleID  int64   `json:"SAMPLEID"`
}

// Abundance holds the OTUs present in a sample, most abundant first.
// OTUIDs[i] is the OTU whose abundance is SampleValues[i].
type Abundance struct {
	OTUIDs       []int64   `json:"otu_ids"`
	SampleValues []float64 `json:"sample_values"`
}

// Options configures an Engine
type Options struct {
	OTUIDColumn            string
	DescriptionColumn      string
	SampleIDColumn         string
	WashingFrequencyColumn string
	LabelPrefix            string
	QueryTimeout           time.Duration
	Logger                 *logging.Logger
}

// OptionsFromConfig derives engine options from the application config
func OptionsFromConfig(cfg *config.Config, logger *logging.Logger) Options {
	return Options{
		OTUIDColumn:            cfg.Dataset.OTUIDColumn,
		DescriptionColumn:      cfg.Dataset.DescriptionColumn,
		SampleIDColumn:         cfg.Dataset.SampleIDColumn,
		WashingFrequencyColumn: cfg.Dataset.WashingFrequencyColumn,
		LabelPrefix:            cfg.Dataset.SampleLabelPrefix,
		QueryTimeout:           cfg.Database.QueryTimeoutDuration(),
		Logger:                 logger,
	}
}

// Bindings returns the catalog bindings the engine needs for ds: the tables
// to resolve and the columns each must have.
func Bindings(ds config.DatasetConfig) map[catalog.Entity]catalog.Binding {
	return map[catalog.Entity]catalog.Binding{
		catalog.Observations: {
			Table:    ds.ObservationsTable,
			Required: []string{ds.OTUIDColumn},
			Keys:     []string{ds.OTUIDColumn},
		},
		catalog.Metadata: {
			Table: ds.MetadataTable,
			Required: []string{
				ColumnAge, ColumnBBType, ColumnEthnicity, ColumnGender, ColumnLocation,
				ds.SampleIDColumn, ds.WashingFrequencyColumn,
			},
			Keys: []string{ds.SampleIDColumn},
		},
		catalog.Taxonomy: {
			Table:    ds.TaxonomyTable,
			Required: []string{ds.DescriptionColumn},
			Keys:     []string{ds.OTUIDColumn},
		},
	}
}

// Engine executes dataset queries against a bound catalog. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	db      *storage.DB
	catalog *catalog.Catalog
	opts    Options
	log     *logging.Logger
}

// New creates an engine. The catalog must have been bound with Bindings.
func New(db *storage.DB, cat *catalog.Catalog, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.GetLogger()
	}

	return &Engine{
		db:      db,
		catalog: cat,
		opts:    opts,
		log:     log.WithField("component", "query"),
	}
}

// Ping checks that the underlying store still answers.
func (e *Engine) Ping(ctx context.Context) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.db.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "database did not answer ping")
	}

	return nil
}

// SampleNames lists the sample columns in schema declaration order.
func (e *Engine) SampleNames(_ context.Context) ([]string, error) {
	return e.catalog.SampleColumns(), nil
}

// OTUDescriptions lists the taxonomy description of every OTU in storage
// order. Duplicates are kept and NULL descriptions are nil.
func (e *Engine) OTUDescriptions(ctx context.Context) ([]*string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tbl := e.catalog.MustTable(catalog.Taxonomy)
	q := fmt.Sprintf("SELECT %s FROM %s",
		storage.QuoteIdent(e.opts.DescriptionColumn), storage.QuoteIdent(tbl.Name())) + storageOrder(tbl)

	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*string{}
	for rows.Next() {
		var desc sql.NullString
		if err := rows.Scan(&desc); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to scan OTU description")
		}

		out = append(out, nullString(desc))
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to read OTU descriptions")
	}

	return out, nil
}

// Metadata returns the metadata record for a sample label such as "BB_940".
func (e *Engine) Metadata(ctx context.Context, label string) (*SampleMetadata, error) {
	id, err := ParseSampleLabel(label, e.opts.LabelPrefix)
	if err != nil {
		return nil, err
	}

	columns := []string{ColumnAge, ColumnBBType, ColumnEthnicity, ColumnGender, ColumnLocation, e.opts.SampleIDColumn}

	var (
		age                                 sql.NullInt64
		bbType, ethnicity, gender, location sql.NullString
		sampleID                            int64
	)

	err = e.lookupSample(ctx, id, columns, &age, &bbType, &ethnicity, &gender, &location, &sampleID)
	if err != nil {
		return nil, err
	}

	return &SampleMetadata{
		Age:       nullInt(age),
		BBType:    nullString(bbType),
		Ethnicity: nullString(ethnicity),
		Gender:    nullString(gender),
		Location:  nullString(location),
		SampleID:  sampleID,
	}, nil
}

// WashingFrequency returns the weekly washing frequency for a sample label.
// A nil result means the sample exists but the value was not recorded.
func (e *Engine) WashingFrequency(ctx context.Context, label string) (*int64, error) {
	id, err := ParseSampleLabel(label, e.opts.LabelPrefix)
	if err != nil {
		return nil, err
	}

	var wfreq sql.NullInt64
	if err := e.lookupSample(ctx, id, []string{e.opts.WashingFrequencyColumn}, &wfreq); err != nil {
		return nil, err
	}

	return nullInt(wfreq), nil
}

// lookupSample selects columns from the single metadata row of sample id
// into dest. No row is SampleNotFound; more than one is IntegrityViolation.
func (e *Engine) lookupSample(ctx context.Context, id int64, columns []string, dest ...any) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tbl := e.catalog.MustTable(catalog.Metadata)

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = storage.QuoteIdent(c)
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s LIMIT 2",
		strings.Join(quoted, ", "),
		storage.QuoteIdent(tbl.Name()),
		storage.QuoteIdent(e.opts.SampleIDColumn),
		e.db.Dialect().Placeholder(1))

	rows, err := e.query(ctx, q, id)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, errors.ErrTypeDatabase, "failed to read sample metadata")
		}

		return errors.Newf(errors.ErrTypeSampleNotFound, "no metadata for sample %s",
			FormatSampleLabel(id, e.opts.LabelPrefix))
	}

	if err := rows.Scan(dest...); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to scan sample metadata")
	}

	if rows.Next() {
		e.log.WithFields(map[string]interface{}{
			"table":     tbl.Name(),
			"sample_id": id,
		}).Error("metadata has more than one row for a sample id; data contract breached")

		return errors.Newf(errors.ErrTypeIntegrityViolation, "sample %s has more than one metadata row",
			FormatSampleLabel(id, e.opts.LabelPrefix))
	}

	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to read sample metadata")
	}

	return nil
}

// SampleAbundance returns the OTUs present in sample column, ordered by
// abundance descending with ties in storage order. Rows whose value is NULL
// or zero are excluded. column comes straight from the request and must be
// a sample column of the catalog, otherwise UnknownColumn is returned and
// no query is run.
func (e *Engine) SampleAbundance(ctx context.Context, column string) (*Abundance, error) {
	if !e.catalog.IsSampleColumn(column) {
		return nil, errors.Newf(errors.ErrTypeUnknownColumn, "no sample column named %q", column)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	tbl := e.catalog.MustTable(catalog.Observations)
	col := storage.QuoteIdent(column)

	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s <> 0",
		storage.QuoteIdent(e.opts.OTUIDColumn), col, storage.QuoteIdent(tbl.Name()), col, col) + storageOrder(tbl)

	rows, err := e.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type observation struct {
		otuID int64
		value float64
	}

	var found []observation
	for rows.Next() {
		var o observation
		if err := rows.Scan(&o.otuID, &o.value); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to scan abundance row")
		}

		found = append(found, o)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to read abundance rows")
	}

	// SQL ORDER BY is not stable across dialects, so order here.
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].value > found[j].value
	})

	result := &Abundance{
		OTUIDs:       make([]int64, len(found)),
		SampleValues: make([]float64, len(found)),
	}

	for i, o := range found {
		result.OTUIDs[i] = o.otuID
		result.SampleValues[i] = o.value
	}

	return result, nil
}

// storageOrder orders rows as they were stored when the table exposes a row
// id. The name comes from reflection, never from a request.
func storageOrder(tbl *schema.Table) string {
	if tbl.RowID() == "" {
		return ""
	}

	return " ORDER BY " + tbl.RowID()
}

func (e *Engine) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	e.log.WithField("sql", q).Debugf("running query with %d args", len(args))

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "query failed")
	}

	return rows, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, e.opts.QueryTimeout)
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	return &s.String
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}

	return &n.Int64
}
