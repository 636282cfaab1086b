// Command coldvault is the entrypoint for the backup engine's three modes
// (init, backup, restore) plus the verify convenience command.
package main

import (
	"fmt"
	"os"

	"github.com/coldvault/coldvault/internal/cli"
)

func main() {
	root := cli.NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitFatal)
	}
}
