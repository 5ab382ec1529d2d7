// Package heartbeat keeps a freshness timestamp per store in Redis and
// answers whether a store is currently reachable.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/stock-sync/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 50 * time.Second
)

// Key is where store id keeps its last heartbeat, as epoch millis.
func Key(storeID string) string { return "store:" + storeID + ":heartbeat" }

// Emitter writes this store's heartbeat on a fixed period.
type Emitter struct {
	rdb      redis.Cmdable
	storeID  string
	interval time.Duration
	ttl      time.Duration // 0 keeps the key forever
	logger   *zap.Logger
	now      func() time.Time

	disconnected atomic.Bool
}

func NewEmitter(rdb redis.Cmdable, storeID string, interval, ttl time.Duration, logger *zap.Logger) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{rdb: rdb, storeID: storeID, interval: interval, ttl: ttl, logger: logger, now: time.Now}
}

// SetDisconnected stops (true) or resumes (false) heartbeats.
func (e *Emitter) SetDisconnected(v bool) { e.disconnected.Store(v) }

func (e *Emitter) Disconnected() bool { return e.disconnected.Load() }

// Beat writes one heartbeat unless disconnected.
func (e *Emitter) Beat(ctx context.Context) error {
	if e.disconnected.Load() {
		return nil
	}
	ms := strconv.FormatInt(e.now().UnixMilli(), 10)
	if err := e.rdb.Set(ctx, Key(e.storeID), ms, e.ttl).Err(); err != nil {
		return fmt.Errorf("heartbeat %s: %w", e.storeID, err)
	}
	metrics.HeartbeatsTotal.Inc()
	return nil
}

// Run beats once immediately and then every interval until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context) error {
	tick := time.NewTicker(e.interval)
	defer tick.Stop()

	for {
		if err := e.Beat(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("heartbeat failed", zap.String("store_id", e.storeID), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// Monitor reads heartbeats written by Emitters.
type Monitor struct {
	rdb     redis.Cmdable
	timeout time.Duration
	now     func() time.Time
}

func NewMonitor(rdb redis.Cmdable, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{rdb: rdb, timeout: timeout, now: time.Now}
}

// IsAlive reports whether storeID has a heartbeat no older than the timeout.
// A missing key means not alive.
func (m *Monitor) IsAlive(ctx context.Context, storeID string) (bool, error) {
	raw, err := m.rdb.Get(ctx, Key(storeID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read heartbeat %s: %w", storeID, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse heartbeat %s: %w", storeID, err)
	}
	return m.now().Sub(time.UnixMilli(ms)) <= m.timeout, nil
}
