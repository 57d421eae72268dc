package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/your-org/scanforge/embedded"
	"github.com/your-org/scanforge/internal/config"
	"github.com/your-org/scanforge/internal/plan"
)

var (
	flagConfigPath string
	flagPlanPath   string
	flagVerbose    bool

	cfg *config.Config
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file (default: scanforge.yaml in ., ~/.config/scanforge, /etc/scanforge)")
	rootCmd.PersistentFlags().StringVarP(&flagPlanPath, "plan", "p", "", "task plan file (default: bundled plan \"default\")")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initEngine

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(plansCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error("scanforge failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "scanforge",
	Short:        "Orchestrates external scan tools under bounded concurrency and layered timeouts",
	SilenceUsage: true,
}

func initEngine(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(flagConfigPath)
	if err != nil {
		return err
	}
	if flagVerbose {
		cfg.Log.Verbose = true
		cfg.Log.Level = "debug"
	}
	return nil
}

// loadPlan resolves the effective plan: an explicit file wins, otherwise the
// bundled default ships with the binary.
func loadPlan() (*plan.Plan, error) {
	if flagPlanPath != "" {
		return plan.Load(flagPlanPath)
	}
	data, err := embedded.ReadPlan(embedded.DefaultPlanName)
	if err != nil {
		return nil, fmt.Errorf("no --plan given and %w", err)
	}
	return plan.Parse(embedded.DefaultPlanName, data)
}
