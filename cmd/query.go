package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/bb-biodiversity/internal/errors"
	"github.com/kyleking/bb-biodiversity/internal/logging"
	"github.com/kyleking/bb-biodiversity/internal/query"
)

// QueryCommand runs the HTTP routes' queries from the command line and
// prints the same JSON the server would send.
func QueryCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Run a dataset query and print the JSON result",
		Commands: []*cli.Command{
			queryCommand(out, "names", "List the sample names", "",
				func(ctx context.Context, e *query.Engine, _ string) (interface{}, error) {
					return e.SampleNames(ctx)
				}),
			queryCommand(out, "otu", "List the OTU descriptions", "",
				func(ctx context.Context, e *query.Engine, _ string) (interface{}, error) {
					return e.OTUDescriptions(ctx)
				}),
			queryCommand(out, "metadata", "Show the metadata of a sample", "SAMPLE",
				func(ctx context.Context, e *query.Engine, sample string) (interface{}, error) {
					return e.Metadata(ctx, sample)
				}),
			queryCommand(out, "wfreq", "Show the weekly washing frequency of a sample", "SAMPLE",
				func(ctx context.Context, e *query.Engine, sample string) (interface{}, error) {
					return e.WashingFrequency(ctx, sample)
				}),
			queryCommand(out, "samples", "List the OTUs present in a sample, most abundant first", "SAMPLE",
				func(ctx context.Context, e *query.Engine, sample string) (interface{}, error) {
					abundance, err := e.SampleAbundance(ctx, sample)
					if err != nil {
						return nil, err
					}

					return []*query.Abundance{abundance}, nil
				}),
		},
	}
}

type queryFunc func(ctx context.Context, e *query.Engine, arg string) (interface{}, error)

func queryCommand(out io.Writer, name, usage, argName string, run queryFunc) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argName,
		Flags:     commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			arg := cmd.Args().First()
			if argName != "" && arg == "" {
				return errors.Newf(errors.ErrTypeInvalidSampleLabel, "%s requires a %s argument", name, argName).
					WithSuggestion("Pass a sample name such as BB_940; 'bb-biodiversity query names' lists them")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Close()

			ds, err := openDataset(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer ds.Close()

			result, err := run(ctx, ds.engine, arg)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")

			return enc.Encode(result)
		},
	}
}
