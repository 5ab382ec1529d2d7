package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/stock-sync/internal/dispatcher"
	"github.com/jmehdipour/stock-sync/internal/heartbeat"
	httpSrv "github.com/jmehdipour/stock-sync/internal/http"
	"github.com/jmehdipour/stock-sync/internal/logger"
	"github.com/jmehdipour/stock-sync/internal/metrics"
	"github.com/jmehdipour/stock-sync/internal/outbox"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	"github.com/jmehdipour/stock-sync/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var storeID string

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Run a store node",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		log := logger.Init(cfg.Log.Level).With(zap.String("node", "store"), zap.String("store_id", cfg.Store.ID))
		defer func() { _ = log.Sync() }()
		metrics.MustRegister(prometheus.DefaultRegisterer)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sqlDB, err := openSQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		rdb, err := openRedis(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		chDB, err := openJournal(ctx, cfg)
		if err != nil {
			return err
		}
		var journal repository.EventJournal
		if chDB != nil {
			defer func() { _ = chDB.Close() }()
			journal = repository.NewEventJournal(chDB)
		}

		tr := newTransport(cfg, rdb)
		defer tr.Close()

		names := streamNames(cfg)
		pub := outbox.NewPublisher(repository.NewOutboxRepository(sqlDB), tr.appender, log, outbox.Config{
			Interval:  cfg.Outbox.Interval,
			BatchSize: cfg.Outbox.BatchSize,
		})
		beat := heartbeat.NewEmitter(rdb, cfg.Store.ID, cfg.Heartbeat.Interval, cfg.Heartbeat.KeyTTL, log)
		svc := inventory.NewStore(sqlDB, repository.NewInventoryRepository(), pub, names, cfg.Store.ID, log)

		disp, err := dispatcher.New(
			dispatcher.NewRedisDedup(rdb, cfg.Dedup.NodePrefix(cfg.Store.ID), cfg.Dedup.TTL),
			log,
			svc.Handlers(),
			journalOption(journal, cfg.Store.ID, log)...,
		)
		if err != nil {
			return fmt.Errorf("dispatch table: %w", err)
		}

		sub, err := tr.subscribe(ctx, cfg, rdb, cfg.Consumer.StoreGroup(cfg.Store.ID), names.StoreInbound(cfg.Store.ID))
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		server := httpSrv.NewStoreServer(svc, []httpSrv.Disconnector{beat, pub}, httpSrv.Options{
			Redis:    rdb,
			RPS:      cfg.RateLimit.RPS,
			LogLevel: cfg.Log.Level,
			Logger:   log,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return pub.Run(gctx) })
		g.Go(func() error { return beat.Run(gctx) })
		g.Go(func() error { return worker.NewConsumer(sub, disp, log).Run(gctx) })
		g.Go(func() error { return serveHTTP(gctx, server, cfg.HTTP.Addr, log) })

		log.Info("store node started")
		return g.Wait()
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeID, "store-id", "", "store identifier (overrides store.id)")
}
