// Command stategraph loads, validates, and runs graph definitions.
package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/stategraph/internal/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
