package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs, most recently updated first",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list (0 = all)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.coordinator.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.PrintInfo("no runs")
		return nil
	}
	ui.PrintRuns(runs)
	return nil
}
