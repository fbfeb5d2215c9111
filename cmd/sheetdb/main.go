// Command sheetdb serves and administers a sheetdb database.
package main

import (
	"os"

	"github.com/roach88/sheetdb/internal/cli"
)

func main() {
	// Commands report their own failures; only the exit code is left.
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
