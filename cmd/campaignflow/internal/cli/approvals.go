package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/service"
)

var (
	approvalsRole string

	decideApprove bool
	decideFixes   bool
	decideReject  bool
	decideBy      string
	decideNotes   string
	waitTimeout   time.Duration
	waitNoResume  bool
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List, decide and wait on approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests, oldest first",
	RunE:  runApprovalsList,
}

var approvalsDecideCmd = &cobra.Command{
	Use:   "decide <request-id>",
	Short: "Approve or reject a request and resume its run",
	Long: `Decide records a verdict on a pending request and resumes the run that
was waiting on it. A rejection needs --notes; the notes are fed back to the
phase that produced the rejected artifact.`,
	Example: `  campaignflow approvals decide ap-123 --approve --by alice
  campaignflow approvals decide ap-123 --approve-with-fixes --by alice --notes "swap hero image"
  campaignflow approvals decide ap-123 --reject --by alice --notes "off-brand tone"`,
	Args: cobra.ExactArgs(1),
	RunE: runApprovalsDecide,
}

var approvalsWaitCmd = &cobra.Command{
	Use:   "wait <request-id>",
	Short: "Block until a request is decided or expires, then resume its run",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsWait,
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalsRole, "role", "", "Only list requests for this approver role")

	approvalsDecideCmd.Flags().BoolVar(&decideApprove, "approve", false, "Approve the artifact")
	approvalsDecideCmd.Flags().BoolVar(&decideFixes, "approve-with-fixes", false, "Approve the artifact with requested fixes")
	approvalsDecideCmd.Flags().BoolVar(&decideReject, "reject", false, "Reject the artifact")
	approvalsDecideCmd.Flags().StringVar(&decideBy, "by", "", "Name of the approver (required)")
	approvalsDecideCmd.Flags().StringVar(&decideNotes, "notes", "", "Decision notes (required to reject)")
	approvalsDecideCmd.MarkFlagsMutuallyExclusive("approve", "approve-with-fixes", "reject")
	approvalsDecideCmd.MarkFlagsOneRequired("approve", "approve-with-fixes", "reject")
	approvalsDecideCmd.MarkFlagRequired("by")

	approvalsWaitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (0 = until the request expires)")
	approvalsWaitCmd.Flags().BoolVar(&waitNoResume, "no-resume", false, "Do not resume the run after the decision")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsDecideCmd)
	approvalsCmd.AddCommand(approvalsWaitCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.coordinator.ListPendingApprovals(cmd.Context(), approvalsRole)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		ui.PrintInfo("no pending approvals")
		return nil
	}
	ui.PrintApprovals(pending, time.Now())
	return nil
}

func runApprovalsDecide(cmd *cobra.Command, args []string) error {
	d := service.DecisionApprove
	switch {
	case decideFixes:
		d = service.DecisionApproveWithFixes
	case decideReject:
		d = service.DecisionReject
	}

	a, err := newApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.PrintStep(fmt.Sprintf("Recording %s on %s", d, args[0]))
	decided, state, err := a.coordinator.DecideApproval(cmd.Context(), args[0], d, decideBy, decideNotes)
	if decided != nil {
		ui.PrintSuccess(fmt.Sprintf("%s %s by %s", decided.ID, decided.Status, decided.DecidedBy))
	}
	if errors.Is(err, domain.ErrResumeFailed) {
		ui.PrintWarning(fmt.Sprintf("decision kept; retry with: campaignflow resume %s", decided.RunID))
	}
	if state != nil {
		fmt.Println()
		ui.PrintRun(state)
		printOutcome(state)
	}
	return err
}

func runApprovalsWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ui.PrintStep(fmt.Sprintf("Waiting on %s", args[0]))
	req, err := a.gateway.WaitFor(ctx, args[0], cfg.Approval.PollInterval)
	if errors.Is(err, context.DeadlineExceeded) {
		ui.PrintWarning("still pending")
		return nil
	}
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("%s by %s", req.Status, req.DecidedBy)
	if req.Notes != "" {
		msg += ": " + req.Notes
	}
	if req.Status == domain.ApprovalStatusRejected {
		ui.PrintWarning(msg)
	} else {
		ui.PrintSuccess(msg)
	}
	if waitNoResume {
		return nil
	}

	state, err := a.coordinator.ResumeRun(cmd.Context(), req.RunID)
	if state != nil {
		fmt.Println()
		ui.PrintRun(state)
		printOutcome(state)
	}
	return err
}
