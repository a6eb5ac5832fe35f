// Package middleware provides Echo middleware for request logging and metrics.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"ng-dev-proxy/internal/metrics"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests a dev server answered carry its prefix.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if prefix, ok := c.Get(metrics.PrefixKey).(string); ok {
				attrs = append(attrs, "prefix", prefix)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}
