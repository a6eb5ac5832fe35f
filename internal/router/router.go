// Package router dispatches inbound requests to the dev server that owns
// their path prefix, and hands everything else to the next handler.
package router

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"ng-dev-proxy/internal/metrics"
	"ng-dev-proxy/internal/registry"
	"ng-dev-proxy/internal/service"
	"ng-dev-proxy/internal/wspump"
)

// Config holds the router settings fixed at construction.
type Config struct {
	WaitInterval time.Duration
	WaitAttempts int
	// ProxyToPathRoot sends only the last path segment upstream, for dev
	// servers that ignore --base-href.
	ProxyToPathRoot bool
	// Reserved paths are never proxied.
	Reserved []string
}

// Router is the dispatch middleware.
type Router struct {
	reg     *registry.Registry
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Router. The metrics parameter is optional.
func New(reg *registry.Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		reg:     reg,
		cfg:     cfg,
		logger:  logger.With("component", "router"),
		metrics: m,
	}
}

// Middleware returns the echo middleware. A request falls through to the
// next handler when no prefix matches, when its dev server is not ready
// within the wait ceiling, or when the dev server answers 404 to a GET or
// HEAD request.
func (rt *Router) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if rt.reserved(path) {
				return next(c)
			}

			entry := rt.reg.Match(path)
			if entry == nil {
				rt.countFallthrough(metrics.ReasonNoMatch)
				return next(c)
			}
			c.Set(metrics.PrefixKey, entry.Target.Prefix)

			backend := entry.Backend()
			if backend == nil {
				backend = rt.wait(req.Context(), entry)
				if backend == nil {
					rt.logger.Warn("dev server not ready; passing request on",
						"prefix", entry.Target.Prefix,
						"path", path,
					)
					rt.countFallthrough(metrics.ReasonNotReady)
					return next(c)
				}
			}

			upstreamPath := path
			if rt.cfg.ProxyToPathRoot {
				upstreamPath = LegacyPath(path)
			}

			if wspump.IsUpgrade(req) {
				return rt.serveWebSocket(c, backend, upstreamPath)
			}

			resp, err := backend.Forward(req, upstreamPath)
			if err != nil {
				return rt.mapError(c, err)
			}

			if resp.StatusCode == http.StatusNotFound && fallsThroughOn404(req.Method) {
				_ = resp.Body.Close()
				rt.countFallthrough(metrics.ReasonUpstream404)
				return next(c)
			}

			// If the copy fails mid-stream the status has already been sent,
			// so the client receives a truncated response.
			if err := service.WriteResponse(c.Response(), resp); err != nil {
				rt.logger.Error("streaming response body",
					"err", err,
					"path", path,
				)
			}
			return nil
		}
	}
}

func (rt *Router) wait(ctx context.Context, entry *registry.Entry) *service.Backend {
	start := time.Now()
	backend, _ := entry.WaitReady(ctx, rt.cfg.WaitInterval, rt.cfg.WaitAttempts)
	if rt.metrics != nil {
		rt.metrics.ReadinessWait.WithLabelValues(entry.Target.Prefix).Observe(time.Since(start).Seconds())
	}
	return backend
}

func (rt *Router) serveWebSocket(c echo.Context, backend *service.Backend, path string) error {
	err := backend.ServeWebSocket(c.Response(), c.Request(), path)
	if !c.Response().Committed {
		// The connection was hijacked; record the upgrade for the logs.
		c.Response().Status = http.StatusSwitchingProtocols
	}
	switch {
	case err == nil:
	case errors.Is(err, wspump.ErrDial):
		// Already answered with 400.
		rt.logger.Warn("websocket proxy failed", "err", err, "path", c.Request().URL.Path)
	default:
		rt.logger.Debug("websocket session error", "err", err, "path", c.Request().URL.Path)
	}
	return nil
}

func (rt *Router) reserved(path string) bool {
	for _, p := range rt.cfg.Reserved {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (rt *Router) countFallthrough(reason string) {
	if rt.metrics != nil {
		rt.metrics.FallthroughTotal.WithLabelValues(reason).Inc()
	}
}

// fallsThroughOn404 limits the 404 fall-through to methods whose request
// can be safely handed to the static file and index handlers.
func fallsThroughOn404(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// LegacyPath returns the path a dev server that ignores --base-href
// expects: the part of path from its last '/' on. A path whose only '/' is
// the leading one is returned unchanged.
func LegacyPath(path string) string {
	if i := strings.LastIndex(path, "/"); i > 0 {
		return path[i:]
	}
	return path
}

func (rt *Router) mapError(c echo.Context, err error) error {
	rt.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "dev server request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "dev server request timed out",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "dev server host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "dev server connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "dev server request failed",
	})
}
