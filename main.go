package main

import (
	"os"

	"github.com/kyleking/bb-biodiversity/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
