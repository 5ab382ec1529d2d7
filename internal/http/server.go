package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/stock-sync/internal/http/middleware"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/service/inventory"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Options struct {
	Redis    redis.Cmdable // rate limiter store; nil disables limiting
	RPS      int
	LogLevel string
	Logger   *zap.Logger
}

type Server struct {
	e      *echo.Echo
	logger *zap.Logger
}

func newServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(opts.LogLevel))
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	e.Use(middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          opts.Redis,
		DefaultRPS:     opts.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
		Skip:           []string{"/metrics", "/healthz"},
	}))

	return &Server{e: e, logger: opts.Logger}
}

// NewCentralServer serves the central API. journal may be nil.
func NewCentralServer(svc *inventory.Central, journal repository.EventJournal, opts Options) *Server {
	s := newServer(opts)
	centralRoutes(s.e, svc)
	if journal != nil {
		s.e.GET("/reports/events", listEventsHandler(journal))
	}
	return s
}

// NewStoreServer serves one store's API. links are cut by POST /disconnected.
func NewStoreServer(svc *inventory.Store, links []Disconnector, opts Options) *Server {
	s := newServer(opts)
	storeRoutes(s.e, svc, links)
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.logger.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
