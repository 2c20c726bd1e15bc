package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
	"github.com/example/campaignflow/internal/engine"
)

var resumeProgress bool

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run from its latest checkpoint",
	Long: `Resume continues a paused or interrupted run. A run paused at a gate
stays paused until its approval is decided; completed and failed runs are
reported unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeProgress, "progress", false, "Print every phase as it executes")
}

func runResume(cmd *cobra.Command, args []string) error {
	var observer engine.Observer
	if resumeProgress {
		observer = engine.ObserverFunc(printEvent)
	}
	a, err := newApp(cmd.Context(), observer)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.PrintStep(fmt.Sprintf("Resuming %s", args[0]))
	state, err := a.coordinator.ResumeRun(cmd.Context(), args[0])
	if state != nil {
		fmt.Println()
		ui.PrintRun(state)
		printOutcome(state)
	}
	return err
}
