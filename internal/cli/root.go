package cli

import (
	"fmt"
	"os"

	"discuno-payments/config"
	"discuno-payments/internal/logging"

	"github.com/spf13/cobra"
)

var Version = "dev"

func Execute() {
	rootCmd := &cobra.Command{
		Use:           "discuno-payments",
		Short:         "Discuno payment side effects: webhook, checkout workflows and mentor payouts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	logging.Setup(cfg.LogLevel)
	return cfg, nil
}
