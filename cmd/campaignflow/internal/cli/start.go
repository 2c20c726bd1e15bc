package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/engine"
	"github.com/example/campaignflow/internal/service"
)

var (
	startTenant       string
	startBrand        string
	startParams       map[string]string
	startMaxRevisions int
	startProgress     bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new campaign run",
	Long: `Start creates a run and drives it until it pauses at an approval gate,
completes, or fails. With dev auto-approve enabled every gate is approved
automatically and the run goes straight to the end.`,
	Example: `  campaignflow start --tenant acme --brand spring \
      --param product="Trail Shoe" --param audience=runners --progress`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startTenant, "tenant", "", "Tenant the run belongs to (required)")
	startCmd.Flags().StringVar(&startBrand, "brand", "", "Brand the campaign is for (required)")
	startCmd.Flags().StringToStringVarP(&startParams, "param", "p", nil, "Campaign parameter as key=value (repeatable)")
	startCmd.Flags().IntVar(&startMaxRevisions, "max-revisions", 0, "Revision budget for this run (default from config)")
	startCmd.Flags().BoolVar(&startProgress, "progress", false, "Print every phase as it executes")

	startCmd.MarkFlagRequired("tenant")
	startCmd.MarkFlagRequired("brand")
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var observer engine.Observer
	if startProgress {
		observer = engine.ObserverFunc(printEvent)
	}
	a, err := newApp(ctx, observer)
	if err != nil {
		return err
	}
	defer a.Close()

	p := service.StartParams{Params: startParams}
	if cmd.Flags().Changed("max-revisions") {
		p.MaxRevisions = &startMaxRevisions
	}

	ui.PrintStep(fmt.Sprintf("Starting campaign for %s/%s", startTenant, startBrand))
	state, err := a.coordinator.StartRun(ctx, startTenant, startBrand, p)
	if state != nil {
		fmt.Println()
		ui.PrintRun(state)
		printOutcome(state)
	}
	return err
}

// printEvent renders one engine event for --progress.
func printEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventPhaseStarted:
		ui.PrintStep(fmt.Sprintf("[%d] %s", ev.Step, ev.Phase))
	case engine.EventPhaseFinished:
		if ev.Err != nil {
			ui.PrintError(fmt.Sprintf("[%d] %s failed after %s: %v", ev.Step, ev.Phase, ui.FormatDuration(ev.Duration), ev.Err))
			return
		}
		ui.PrintInfo(fmt.Sprintf("%s done in %s", ev.Phase, ui.FormatDuration(ev.Duration)))
	case engine.EventRunPaused:
		ui.PrintWarning(fmt.Sprintf("paused at %s waiting on %s", ev.Phase, ev.ApprovalID))
	case engine.EventRunCompleted:
		ui.PrintSuccess("run completed")
	case engine.EventRunFailed:
		ui.PrintError(fmt.Sprintf("run failed at %s: %v", ev.Phase, ev.Err))
	}
}

// printOutcome tells the user what to do next with a run.
func printOutcome(s *domain.RunState) {
	fmt.Println()
	switch s.Status {
	case domain.RunStatusPaused:
		if pa := s.PendingApproval; pa != nil {
			ui.PrintWarning(fmt.Sprintf("Waiting for approval %s on %s", pa.RequestID, pa.ArtifactType))
			ui.PrintInfo(fmt.Sprintf("campaignflow approvals decide %s --approve --by <name>", pa.RequestID))
		}
	case domain.RunStatusCompleted:
		ui.PrintSuccess(fmt.Sprintf("Campaign %s packaged", s.RunID))
	case domain.RunStatusFailed:
		ui.PrintError(fmt.Sprintf("Campaign %s failed", s.RunID))
	default:
		ui.PrintInfo(fmt.Sprintf("Resume with: campaignflow resume %s", s.RunID))
	}
}
