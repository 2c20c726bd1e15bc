package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
)

var statusPhases bool

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the latest checkpoint of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusPhases, "phases", false, "Also print the phase history")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.coordinator.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	ui.PrintHeader(fmt.Sprintf("Run %s", state.RunID))
	ui.PrintRun(state)
	if statusPhases {
		fmt.Println()
		ui.PrintPhases(state)
	}
	return nil
}
