package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/stock-sync/internal/dispatcher"
	"github.com/jmehdipour/stock-sync/internal/heartbeat"
	httpSrv "github.com/jmehdipour/stock-sync/internal/http"
	"github.com/jmehdipour/stock-sync/internal/logger"
	"github.com/jmehdipour/stock-sync/internal/metrics"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/outbox"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/jmehdipour/stock-sync/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var centralCmd = &cobra.Command{
	Use:   "central",
	Short: "Run the central node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Central.Stores) == 0 {
			return errors.New("central.stores is empty")
		}

		log := logger.Init(cfg.Log.Level).With(zap.String("node", "central"))
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
		svc := inventory.NewCentral(
			sqlDB,
			repository.NewInventoryRepository(),
			pub,
			heartbeat.NewMonitor(rdb, cfg.Heartbeat.Timeout),
			names,
			cfg.Central.Stores,
			log,
		)

		disp, err := dispatcher.New(
			dispatcher.NewRedisDedup(rdb, cfg.Dedup.NodePrefix("central"), cfg.Dedup.TTL),
			log,
			svc.Handlers(),
			journalOption(journal, "central", log)...,
		)
		if err != nil {
			return fmt.Errorf("dispatch table: %w", err)
		}

		sub, err := tr.subscribe(ctx, cfg, rdb, cfg.Consumer.CentralGroup(), names.CentralInbound(cfg.Central.Stores))
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		server := httpSrv.NewCentralServer(svc, journal, httpSrv.Options{
			Redis:    rdb,
			RPS:      cfg.RateLimit.RPS,
			LogLevel: cfg.Log.Level,
			Logger:   log,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return pub.Run(gctx) })
		g.Go(func() error { return worker.NewConsumer(sub, disp, log).Run(gctx) })
		g.Go(func() error { return serveHTTP(gctx, server, cfg.HTTP.Addr, log) })

		log.Info("central node started", zap.Strings("stores", cfg.Central.Stores))
		return g.Wait()
	},
}

// journalOption records processed announcements in ClickHouse when enabled.
func journalOption(journal repository.EventJournal, node string, log *zap.Logger) []dispatcher.Option {
	if journal == nil {
		return nil
	}
	return []dispatcher.Option{dispatcher.WithObserver(func(ctx context.Context, d stream.Delivery, at time.Time) {
		created, _ := stream.ParseTime(d.Record.CreatedAt)
		err := journal.Record(ctx, model.JournalEntry{
			EventID:     d.Record.ID,
			Stream:      d.Stream,
			Type:        d.Record.Type,
			Payload:     d.Record.Payload,
			CreatedAt:   created,
			ProcessedAt: at,
			Node:        node,
		})
		if err != nil {
			log.Warn("journal write failed", zap.String("event_id", d.Record.ID), zap.Error(err))
		}
	})}
}
