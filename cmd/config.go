package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/bb-biodiversity/internal/config"
)

func ConfigCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Flags: slices.Concat(commonFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the raw configuration as JSON"},
		}),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			return runConfig(out, cfg, cmd.Bool("json"))
		},
	}
}

func runConfig(w io.Writer, cfg *config.Config, raw bool) error {
	shown := *cfg
	shown.Database.DSN = cfg.Database.RedactedDSN()

	if raw {
		jsonData, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))

		return nil
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nDatabase:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Database.Driver)
	fmt.Fprintf(w, "  DSN: %s\n", shown.Database.DSN)
	fmt.Fprintf(w, "  Read Only: %t\n", cfg.Database.ReadOnly)
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(w, "  Max Idle Connections: %d\n", cfg.Database.MaxIdleConns)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)

	if cfg.Database.Schema != "" {
		fmt.Fprintf(w, "  Schema: %s\n", cfg.Database.Schema)
	}

	fmt.Fprintln(w, "\nServer:")
	fmt.Fprintf(w, "  Address: %s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "  Read Timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Fprintf(w, "  Write Timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Fprintf(w, "  Idle Timeout: %s\n", cfg.Server.IdleTimeout)
	fmt.Fprintf(w, "  Shutdown Timeout: %s\n", cfg.Server.ShutdownTimeout)
	fmt.Fprintf(w, "  Monitor Interval: %s\n", cfg.Server.MonitorInterval)

	fmt.Fprintln(w, "\nDataset:")
	fmt.Fprintf(w, "  Observations Table: %s\n", cfg.Dataset.ObservationsTable)
	fmt.Fprintf(w, "  Metadata Table: %s\n", cfg.Dataset.MetadataTable)
	fmt.Fprintf(w, "  Taxonomy Table: %s\n", cfg.Dataset.TaxonomyTable)
	fmt.Fprintf(w, "  Sample Label Prefix: %s\n", cfg.Dataset.SampleLabelPrefix)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	return nil
}
