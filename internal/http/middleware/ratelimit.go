package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig config for Redis-based RPS limiter.
type RateLimitConfig struct {
	Redis          redis.Cmdable
	DefaultRPS     int           // 0 disables limiting
	KeyPrefix      string        // e.g. "rl:ip:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
	Skip           []string      // paths never limited
	Now            func() time.Time
}

// RateLimitMiddleware applies a simple fixed-window per-client-IP RPS limit.
// Without Redis each process keeps its own token bucket per IP.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:ip:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	skip := make(map[string]struct{}, len(cfg.Skip))
	for _, p := range cfg.Skip {
		skip[p] = struct{}{}
	}

	local := newLocalBuckets(cfg.DefaultRPS)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			max := cfg.DefaultRPS
			if max <= 0 {
				return next(c)
			}
			if _, ok := skip[c.Path()]; ok {
				return next(c)
			}
			if cfg.Redis == nil {
				if !local.allow(c.RealIP()) {
					return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				}
				return next(c)
			}

			// fixed-window key: rl:ip:{ip}:{window index}
			now := cfg.Now()
			window := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + c.RealIP() + ":" + strconv.FormatInt(window, 10)

			// INCR and set expiry 2*window (safety)
			ctx := c.Request().Context()
			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, cfg.Window*2)
			if _, err := pipe.Exec(ctx); err != nil {
				return next(c)
			}

			if cnt.Val() > int64(max) {
				if cfg.RetryAfterHint {
					// seconds until next window, at least 1
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}

type localBuckets struct {
	mu      sync.Mutex
	rps     int
	buckets map[string]*rate.Limiter
}

func newLocalBuckets(rps int) *localBuckets {
	return &localBuckets{rps: rps, buckets: make(map[string]*rate.Limiter)}
}

func (l *localBuckets) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.buckets[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.rps)
		l.buckets[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
