package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"clone-proxy-go/internal/client"
	"clone-proxy-go/internal/clone"
	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/cookies"
	"clone-proxy-go/internal/handler"
	"clone-proxy-go/internal/kv"
	"clone-proxy-go/internal/metrics"
	"clone-proxy-go/internal/middleware"
	"clone-proxy-go/internal/rewrite"
	"clone-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("clone-proxy"),
		kong.Description("Clones third-party pages for annotation and proxies their sub-resources."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewUpstream,
			newCookieStore,
			newPipeline,
			newCloneService,
			newProxyService,
			newKVStore,
			service.NewKVService,
			handler.NewCloneHandler,
			handler.NewProxyHandler,
			handler.NewKVHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// No write timeout: large media is streamed through /proxy. The upstream
	// client timeout bounds each request instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newCookieStore(cfg *config.Config, logger *slog.Logger) (*cookies.Store, error) {
	return cookies.Load(cfg.Cookies.File, logger)
}

func newPipeline(cfg *config.Config, logger *slog.Logger) *clone.Pipeline {
	return clone.NewPipeline(clone.Options{
		Encoder:       rewrite.Encoder{IncludeProtocol: cfg.Rewrite.ProtocolSegment()},
		HeadAssets:    clone.HeadAssetStrategy(cfg.Rewrite.HeadAssetStrategy),
		Scripts:       clone.ScriptPolicy(cfg.Rewrite.ScriptPolicy),
		WrapperClass:  cfg.Rewrite.WrapperClass,
		DefaultTitle:  cfg.Rewrite.DefaultTitle,
		ProxyImages:   cfg.Rewrite.ProxyImages,
		SkipFontHosts: cfg.Rewrite.SkipFontHosts,
	}, logger)
}

func newCloneService(
	up *client.Upstream,
	store *cookies.Store,
	p *clone.Pipeline,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *service.CloneService {
	return service.NewCloneService(up, store, p, cfg, m, logger)
}

func newProxyService(up *client.Upstream, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *service.ProxyService {
	return service.NewProxyService(up, cfg, m, logger)
}

// newKVStore returns a nil KVStore when the KV endpoint is disabled. A Redis
// server that is down at startup is only logged: clone and proxy keep working.
func newKVStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) service.KVStore {
	if !cfg.KV.Enabled {
		logger.Info("kv endpoint disabled")
		return nil
	}

	store := kv.New(cfg.KV, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				logger.Warn("redis unreachable at startup", "addr", cfg.KV.Addr, "err", err)
				return nil
			}
			logger.Info("kv store connected", "addr", cfg.KV.Addr)
			return nil
		},
		OnStop: func(_ context.Context) error {
			return store.Close()
		},
	})
	return store
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
