package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/bb-biodiversity/internal/errors"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// NewApp builds the root command. Command output goes to out.
func NewApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "bb-biodiversity",
		Usage:   "Serve the belly button biodiversity dataset over HTTP",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Description: `bb-biodiversity reflects the schema of the belly button biodiversity
database at startup and serves read-only JSON views of its samples, OTU
taxonomy and per-sample metadata.`,
		Writer: out,
		Commands: []*cli.Command{
			ServeCommand(),
			SchemaCommand(out),
			QueryCommand(out),
			ConfigCommand(out),
		},
	}
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewApp(os.Stdout).Run(ctx, os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

// ExitCode maps a command error to the process exit status: 2 when the
// configuration or dataset could not be loaded, 1 for any other failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsFatal(err):
		return 2
	default:
		return 1
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	if se, ok := errors.AsError(err); ok {
		for _, s := range se.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}
