package cli

import (
	"discuno-payments/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the payment and workflow tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DBURL)
			if err != nil {
				return err
			}
			defer database.Close(db)
			return database.Migrate(db)
		},
	}
}
