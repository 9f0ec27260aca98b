package main

import (
	"os"

	"github.com/firefly-engineering/clonebox/cmd"
	"github.com/firefly-engineering/clonebox/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
