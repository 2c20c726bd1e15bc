// Command campaignflow runs and supervises marketing campaign workflows.
package main

import (
	"os"

	"github.com/example/campaignflow/cmd/campaignflow/internal/cli"
	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
)

func main() {
	if err := cli.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
