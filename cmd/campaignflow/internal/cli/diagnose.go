package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
	"github.com/example/campaignflow/internal/config"
	"github.com/example/campaignflow/internal/observability"
)

var (
	diagnoseForce bool
	diagnoseJSON  bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Show which checkpoint transport would be used and why",
	Long: `Diagnose resolves the primary checkpoint host, probes the gRPC primary
and the HTTP fallback, and prints the selected transport with the trail of
checks behind the decision. It exits non-zero when both transports fail.`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagnoseForce, "force", false, "Ignore any cached decision")
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "Print the diagnostics as JSON")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	c := *cfg
	c.Checkpoint.Mode = config.ModeRemote

	store, closers, err := openStore(&c, logger, observability.NewMetrics(), nil)
	if err != nil {
		return err
	}
	defer func() {
		for _, cl := range closers {
			_ = cl()
		}
	}()

	d := store.Diagnostics(cmd.Context(), diagnoseForce)

	if diagnoseJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
	} else {
		ui.PrintHeader("Checkpoint transport")
		ui.PrintDiagnostics(d)
	}

	if d.Degraded {
		return fmt.Errorf("no checkpoint transport is healthy (primary %s, fallback %s)",
			c.Checkpoint.PrimaryAddr, c.Checkpoint.FallbackURL)
	}
	return nil
}
