package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/stock-sync/internal/config"
	"github.com/jmehdipour/stock-sync/internal/db"
	httpSrv "github.com/jmehdipour/stock-sync/internal/http"
	"github.com/jmehdipour/stock-sync/internal/kafka"
	"github.com/jmehdipour/stock-sync/internal/redisstream"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openSQL(cfg config.Config) (*sqlx.DB, error) {
	sqlDB, err := db.NewSQLConnection(cfg.MySQL.Driver, cfg.MySQL.DSN, db.SQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.MySQL.Driver, err)
	}
	return sqlDB, nil
}

func openRedis(cfg config.Config) (*redis.Client, error) {
	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rdb, nil
}

// openJournal returns nil when no ClickHouse DSN is configured.
func openJournal(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	if cfg.ClickHouse.DSN == "" {
		return nil, nil
	}
	ch, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	if err := db.MigrateClickHouse(ctx, ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("clickhouse migrate: %w", err)
	}
	return ch, nil
}

func streamNames(cfg config.Config) stream.Names {
	return stream.Names{
		StoreToCentralTmpl:   cfg.Streams.StoreToCentral,
		CentralToStoreTmpl:   cfg.Streams.CentralToStore,
		CentralBroadcastName: cfg.Streams.CentralBroadcast,
		StoreToStoreTmpl:     cfg.Streams.StoreToStore,
		StoreBroadcastTmpl:   cfg.Streams.StoreBroadcast,
	}
}

// transport is the shared log as seen by one node.
type transport struct {
	appender stream.Appender
	closers  []func() error
}

func (t *transport) Close() {
	for _, c := range t.closers {
		_ = c()
	}
}

func newTransport(cfg config.Config, rdb *redis.Client) *transport {
	if cfg.LogTransport.Driver == "kafka" {
		p := kafka.NewProducer(cfg.Kafka.Brokers)
		return &transport{appender: p, closers: []func() error{p.Close}}
	}
	return &transport{appender: redisstream.NewAppender(rdb)}
}

func (t *transport) subscribe(ctx context.Context, cfg config.Config, rdb *redis.Client, group string, streams []string) (stream.Subscription, error) {
	if cfg.LogTransport.Driver == "kafka" {
		return kafka.NewConsumerFromConfig(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topics:         streams,
			GroupID:        group,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
			MaxWait:        cfg.Kafka.MaxWait,
		}), nil
	}
	return redisstream.Subscribe(ctx, rdb, redisstream.Config{
		Group:   group,
		Streams: streams,
		Block:   cfg.Consumer.Block,
		Count:   cfg.Consumer.Count,
	})
}

// serveHTTP runs srv until ctx is done, then shuts it down within 5s.
func serveHTTP(ctx context.Context, srv *httpSrv.Server, addr string, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http", zap.String("addr", addr))
		errCh <- srv.Start(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
