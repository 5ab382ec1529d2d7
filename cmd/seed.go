package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/stock-sync/internal/logger"
	"github.com/jmehdipour/stock-sync/internal/outbox"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a store with demo products",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if storeID != "" {
			cfg.Store.ID = storeID
		}
		if cfg.Store.ID == "" {
			return errors.New("store id is required (--store-id or store.id)")
		}
		log := logger.Init(cfg.Log.Level)

		// 2) connect
		sqlDB, err := openSQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		// Announcements are only written to the outbox here; the running
		// store node publishes them.
		pub := outbox.NewPublisher(repository.NewOutboxRepository(sqlDB), nil, log, outbox.Config{})
		svc := inventory.NewStore(sqlDB, repository.NewInventoryRepository(), pub, streamNames(cfg), cfg.Store.ID, log)

		log.Info("seeding demo products", zap.String("store_id", cfg.Store.ID))
		return seedProducts(context.Background(), svc)
	},
}

func init() {
	seedCmd.Flags().StringVar(&storeID, "store-id", "", "store identifier (overrides store.id)")
}

var demoStock = []struct {
	productID string
	quantity  int
}{
	{"sku-apple", 40},
	{"sku-banana", 25},
	{"sku-cherry", 10},
	{"sku-durian", 0},
	{"sku-elderberry", 5},
}

// seedProducts creates the demo products (idempotent) and sets their stock.
func seedProducts(ctx context.Context, svc *inventory.Store) error {
	for _, p := range demoStock {
		if _, err := svc.CreateItem(ctx, p.productID); err != nil && !errors.Is(err, inventory.ErrConflict) {
			return fmt.Errorf("create %s: %w", p.productID, err)
		}
		if _, err := svc.SetQuantity(ctx, p.productID, p.quantity); err != nil {
			return fmt.Errorf("set %s: %w", p.productID, err)
		}
	}
	return nil
}
