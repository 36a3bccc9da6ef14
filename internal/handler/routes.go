package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// metrics endpoint is only mounted when metrics are enabled and m is non-nil.
func RegisterRoutes(
	e *echo.Echo,
	clone *CloneHandler,
	proxy *ProxyHandler,
	kv *KVHandler,
	health *HealthHandler,
	cfg *config.Config,
	m *metrics.Metrics,
) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.GET("/clone", clone.Handle)

	e.Any("/proxy", proxy.Handle)
	e.Any("/proxy/*", proxy.Handle)

	// /kv/get and /kv/set keep older clients working.
	for _, p := range []string{"/kv", "/kv/get", "/kv/set"} {
		e.OPTIONS(p, kv.Preflight)
	}
	e.GET("/kv", kv.Get)
	e.POST("/kv", kv.Set)
	e.GET("/kv/get", kv.Get)
	e.POST("/kv/set", kv.Set)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
