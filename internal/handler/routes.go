package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ng-dev-proxy/internal/config"
	"ng-dev-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Paths
// the dev servers own never reach these routes unless the router passed
// them on.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, health *HealthHandler, spa *SPAHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", spa.Serve)
}
