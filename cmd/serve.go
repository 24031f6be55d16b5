package cmd

import (
	"context"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/bb-biodiversity/internal/config"
	"github.com/kyleking/bb-biodiversity/internal/logging"
	"github.com/kyleking/bb-biodiversity/internal/monitor"
	"github.com/kyleking/bb-biodiversity/internal/server"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Description: `Reflect the database schema, bind the dataset tables and serve the JSON
routes until interrupted. Startup fails if the database cannot be reached or
a required table or column is missing.`,
		Flags: slices.Concat(commonFlags(), []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, e.g. :5000"},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, "addr")
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Close()

			return runServe(ctx, cfg, logger)
		},
	}
}

// runServe blocks until ctx is canceled. Schema problems are returned before
// the listener is opened.
func runServe(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	ds, err := openDataset(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ds.Close()

	mon := monitor.NewMonitor(ds.db.SQL(), logger)
	mon.Start(ctx, cfg.Server.MonitorIntervalDuration())

	srv := server.NewServer(server.New(ds.engine, logger), cfg.Server, logger)
	err = srv.Run(ctx)

	mon.Stop()
	mon.Sample()
	logger.Debug(mon.GetFormattedStats())

	return err
}
