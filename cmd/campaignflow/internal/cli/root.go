package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/campaignflow/internal/config"
	"github.com/example/campaignflow/internal/logging"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "campaignflow",
	Short: "Run marketing campaign workflows with human approval gates",
	Long: `campaignflow drives campaigns through a phase graph: metrics, calendar,
brief, copy, design, QA review and packaging. Runs pause at approval gates,
are checkpointed after every phase, and resume from the last checkpoint.

WORKFLOW:
  1. Start the checkpoint servers:  campaignflow serve
  2. Start a run:                   campaignflow start --tenant acme --brand spring
  3. List what needs a decision:    campaignflow approvals list
  4. Decide:                        campaignflow approvals decide <id> --approve --by alice
  5. Inspect the run:               campaignflow status <run-id>

EXAMPLES:
  # Start a run and print every phase as it executes
  campaignflow start --tenant acme --brand spring --param product="Trail Shoe" --progress

  # Reject a brief with notes; the run loops back to the brief
  campaignflow approvals decide ap-123 --reject --by alice --notes "tone is off"

  # Show which checkpoint transport the engine would use right now
  campaignflow diagnose --force`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "campaignflow.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level to the console")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(diagnoseCmd)
}

// setup loads the configuration and builds the logger for every command.
func setup(*cobra.Command, []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		c.Logging.Level = "debug"
		c.Logging.Format = "console"
		c.Logging.Development = true
	}

	l, err := logging.New(c.Logging)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}
