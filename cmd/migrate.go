package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/stock-sync/internal/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the inventory_item and outbox_event tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := openSQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if err := db.Migrate(context.Background(), sqlDB); err != nil {
			return err
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}
