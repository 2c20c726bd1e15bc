package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/domain"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// PrintHeader prints a section header
func PrintHeader(title string) {
	line := strings.Repeat("=", len(title)+4)
	fmt.Printf("\n%s%s%s\n", colorBold+colorBlue, line, colorReset)
	fmt.Printf("%s  %s  %s\n", colorBold+colorBlue, title, colorReset)
	fmt.Printf("%s%s%s\n\n", colorBold+colorBlue, line, colorReset)
}

// PrintStep prints a step in progress
func PrintStep(message string) {
	fmt.Printf("%s▶%s %s\n", colorCyan, colorReset, message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

// PrintInfo prints an informational message
func PrintInfo(message string) {
	fmt.Printf("  %s\n", message)
}

// statusColor picks the color for a run status.
func statusColor(s domain.RunStatus) string {
	switch s {
	case domain.RunStatusCompleted:
		return colorGreen
	case domain.RunStatusFailed:
		return colorRed
	case domain.RunStatusPaused:
		return colorYellow
	default:
		return colorCyan
	}
}

// PrintRun prints the detail view of a run.
func PrintRun(s *domain.RunState) {
	fmt.Printf("%sRun:%s       %s\n", colorBold, colorReset, s.RunID)
	fmt.Printf("  Tenant:    %s\n", s.TenantID)
	fmt.Printf("  Brand:     %s\n", s.BrandID)
	fmt.Printf("  Status:    %s%s%s\n", statusColor(s.Status), s.Status, colorReset)
	fmt.Printf("  Phase:     %s (step %d)\n", s.CurrentPhase, s.Step)
	fmt.Printf("  Revisions: %d/%d\n", s.RevisionCount, s.MaxRevisions)

	if pa := s.PendingApproval; pa != nil {
		fmt.Printf("  Waiting:   %s%s%s on %s (expires %s)\n",
			colorYellow, pa.RequestID, colorReset, pa.ArtifactType, pa.ExpiresAt.Format(time.RFC3339))
	}
	if fo := s.ForcedOverride; fo != nil {
		fmt.Printf("  %sForced:%s    %s after %d revisions (%s)\n",
			colorYellow, colorReset, fo.OriginalVerdict, fo.RevisionCount, fo.Reason)
	}
	if s.Error != nil {
		fmt.Printf("  %sError:%s     %s: %s\n", colorRed, colorReset, s.Error.Phase, s.Error.Message)
	}

	if arts := s.ArtifactList(); len(arts) > 0 {
		fmt.Printf("\n%sArtifacts%s\n", colorBold, colorReset)
		for _, a := range arts {
			fmt.Printf("  %-18s v%d %s(%s by %s)%s\n",
				a.Type, a.Version, colorGray, a.Provenance.Phase, a.Provenance.Model, colorReset)
		}
	}
	if len(s.Feedback) > 0 {
		fmt.Printf("\n%sFeedback%s\n", colorBold, colorReset)
		for _, f := range s.Feedback {
			fmt.Printf("  - %s\n", f)
		}
	}
}

// PrintPhases prints the phase history of a run.
func PrintPhases(s *domain.RunState) {
	rows := make([][]string, 0, len(s.PhaseHistory))
	for _, p := range s.PhaseHistory {
		rows = append(rows, []string{
			fmt.Sprint(p.Step), p.Phase, p.Outcome, formatDuration(p.Duration),
		})
	}
	PrintTable([]string{"STEP", "PHASE", "OUTCOME", "DURATION"}, rows)
}

// PrintRuns prints a run listing.
func PrintRuns(runs []domain.RunSummary) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		waiting := ""
		if r.PendingApproval != nil {
			waiting = r.PendingApproval.RequestID
		}
		rows = append(rows, []string{
			r.RunID, r.TenantID, r.BrandID, r.Status.String(), r.CurrentPhase,
			fmt.Sprint(r.RevisionCount), waiting, r.UpdatedAt.Format(time.RFC3339),
		})
	}
	PrintTable([]string{"RUN", "TENANT", "BRAND", "STATUS", "PHASE", "REV", "WAITING", "UPDATED"}, rows)
}

// PrintApprovals prints pending approval requests.
func PrintApprovals(reqs []*domain.ApprovalRequest, now time.Time) {
	rows := make([][]string, 0, len(reqs))
	for _, r := range reqs {
		rows = append(rows, []string{
			r.ID, r.RunID, string(r.ArtifactType), r.ApproverRole, formatDuration(r.ExpiresAt.Sub(now)),
		})
	}
	PrintTable([]string{"REQUEST", "RUN", "ARTIFACT", "ROLE", "EXPIRES IN"}, rows)
}

// PrintDiagnostics prints a transport decision and the trail behind it.
func PrintDiagnostics(d *checkpoint.Diagnostics) {
	selected := colorGreen + d.Selected + colorReset
	if d.Degraded {
		selected = colorRed + d.Selected + " (degraded)" + colorReset
	}
	fmt.Printf("%sSelected:%s %s\n", colorBold, colorReset, selected)
	fmt.Printf("  Checked:  %s\n", d.CheckedAt.Format(time.RFC3339))
	fmt.Printf("  Expires:  %s\n", d.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("  DNS:      %s\n", lookup(d.DNS))
	fmt.Printf("  SRV:      %s\n", lookup(d.SRV))

	if len(d.Probes) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(d.Probes))
		for _, p := range d.Probes {
			ok := "ok"
			if !p.OK {
				ok = "failed"
			}
			rows = append(rows, []string{p.Transport, ok, p.Latency.String(), p.Error})
		}
		PrintTable([]string{"TRANSPORT", "RESULT", "LATENCY", "ERROR"}, rows)
	}

	fmt.Printf("\n%sTrail%s\n", colorBold, colorReset)
	for _, t := range d.Trail {
		fmt.Printf("  %s%s%s %-8s %s\n", colorGray, t.At.Format("15:04:05.000"), colorReset, t.Step, t.Message)
	}
}

func lookup(l checkpoint.LookupResult) string {
	switch {
	case !l.Attempted:
		return colorGray + "skipped" + colorReset
	case l.OK:
		return colorGreen + strings.Join(l.Addrs, ", ") + colorReset
	default:
		return colorRed + l.Error + colorReset
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// PrintTable prints a simple table
func PrintTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Printf("%s%-*s%s  ", colorBold, widths[i], h, colorReset)
	}
	fmt.Println()

	for _, w := range widths {
		fmt.Print(strings.Repeat("-", w) + "  ")
	}
	fmt.Println()

	for _, row := range rows {
		for i, cell := range row {
			fmt.Printf("%-*s  ", widths[i], cell)
		}
		fmt.Println()
	}
}

// FormatDuration formats a duration for display (exported version)
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}
