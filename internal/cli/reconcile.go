package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one transfer reconciliation pass and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TransferJobTimeout)
			defer cancel()

			a, err := newApp(ctx, cfg, "discuno-payments-reconcile")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			summary, err := a.payoutJob().Run(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
