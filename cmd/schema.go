package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/kyleking/bb-biodiversity/internal/catalog"
	"github.com/kyleking/bb-biodiversity/internal/logging"
)

func SchemaCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "schema",
		Usage:       "Display the reflected database schema",
		Description: `Reflect the database and print every table with its columns, marking the tables bound to the dataset entities and the sample columns.`,
		Flags: slices.Concat(commonFlags(), []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "text", Usage: "text, json or yaml"},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Close()

			format := cmd.String("format")

			var s *spinner.Spinner
			if format == "text" {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
				s.Suffix = " Reflecting schema..."
				s.Start()
			}

			ds, err := openDataset(ctx, cfg, logger)
			if s != nil {
				s.Stop()
			}

			if err != nil {
				return err
			}
			defer ds.Close()

			return runSchema(out, ds, format)
		},
	}
}

// SchemaColumn describes one reflected column.
type SchemaColumn struct {
	Name       string `json:"name"                  yaml:"name"`
	Type       string `json:"type"                  yaml:"type"`
	Nullable   bool   `json:"nullable"              yaml:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// SchemaTable describes one reflected table and the entity it is bound to.
type SchemaTable struct {
	Name    string         `json:"name"             yaml:"name"`
	Entity  string         `json:"entity,omitempty" yaml:"entity,omitempty"`
	Columns []SchemaColumn `json:"columns"          yaml:"columns"`
}

// SchemaReport is the machine-readable output of the schema command.
type SchemaReport struct {
	Driver  string        `json:"driver"  yaml:"driver"`
	Tables  []SchemaTable `json:"tables"  yaml:"tables"`
	Samples []string      `json:"samples" yaml:"samples"`
}

func buildSchemaReport(ds *dataset) SchemaReport {
	bound := map[string]catalog.Entity{}
	for _, e := range ds.catalog.Entities() {
		bound[ds.catalog.MustTable(e).Name()] = e
	}

	report := SchemaReport{
		Driver:  string(ds.db.Dialect()),
		Samples: ds.catalog.SampleColumns(),
	}

	for _, name := range ds.schema.TableNames() {
		tbl, _ := ds.schema.Table(name)

		st := SchemaTable{Name: name, Entity: string(bound[name])}
		for _, c := range tbl.Columns() {
			st.Columns = append(st.Columns, SchemaColumn{
				Name:       c.Name,
				Type:       c.Type,
				Nullable:   c.Nullable,
				PrimaryKey: c.PrimaryKey,
			})
		}

		report.Tables = append(report.Tables, st)
	}

	return report
}

func runSchema(w io.Writer, ds *dataset, format string) error {
	report := buildSchemaReport(ds)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()

		return enc.Encode(report)
	case "text":
	default:
		return fmt.Errorf("unknown format %q, want text, json or yaml", format)
	}

	fmt.Fprintf(w, "Database Schema (%s)\n", report.Driver)
	fmt.Fprintf(w, "===============\n")

	for _, t := range report.Tables {
		header := t.Name
		if t.Entity != "" {
			header = fmt.Sprintf("%s [%s]", t.Name, t.Entity)
		}

		fmt.Fprintf(w, "\n%s\n", header)

		// The observations table has one column per sample; list only the keys.
		columns := t.Columns
		if t.Entity == string(catalog.Observations) {
			columns = slices.DeleteFunc(slices.Clone(columns), func(c SchemaColumn) bool {
				return ds.catalog.IsSampleColumn(c.Name)
			})
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range columns {
			var flags []string
			if c.PrimaryKey {
				flags = append(flags, "primary key")
			}

			if !c.Nullable {
				flags = append(flags, "not null")
			}

			fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name, c.Type, strings.Join(flags, ", "))
		}

		_ = tw.Flush()

		if t.Entity == string(catalog.Observations) {
			fmt.Fprintf(w, "  ... and %d sample columns\n", len(report.Samples))
		}
	}

	fmt.Fprintf(w, "\nSamples: %d\n", len(report.Samples))

	return nil
}
