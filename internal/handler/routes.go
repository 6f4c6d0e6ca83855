package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"revproxy-go/internal/config"
	"revproxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Each
// configured endpoint is mounted at its prefix for every HTTP method; the
// method is opaque data to the proxy core.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	for _, ep := range proxy.service.Endpoints() {
		h := proxy.Endpoint(ep)
		e.Any(ep.PathPrefix, h)
		e.Any(ep.PathPrefix+"/*", h)
	}
}
