package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"ng-dev-proxy/internal/angularcli"
	"ng-dev-proxy/internal/client"
	"ng-dev-proxy/internal/config"
	"ng-dev-proxy/internal/handler"
	"ng-dev-proxy/internal/metrics"
	"ng-dev-proxy/internal/middleware"
	"ng-dev-proxy/internal/model"
	"ng-dev-proxy/internal/readiness"
	"ng-dev-proxy/internal/registry"
	"ng-dev-proxy/internal/router"
	"ng-dev-proxy/internal/service"
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
		kong.Name("ng-dev-proxy"),
		kong.Description("Reverse proxy in front of Angular CLI dev servers."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			loadWorkspace,
			resolveTargets,
			registry.New,
			client.NewUpstreamClient,
			service.NewBackendFactory,
			newRouterConfig,
			router.New,
			newMonitor,
			handler.NewHealthHandler,
			newSPAHandler,
			newEcho,
		),
		fx.Invoke(
			checkPorts,
			handler.RegisterRoutes,
			warnWebRoot,
			startMonitor,
			startServer,
		),
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
	case "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	default:
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// loadWorkspace strips a BOM from package.json and reads the workspace
// file. A project without one still runs; every app then needs an explicit
// --base-href or is served from the root.
func loadWorkspace(cfg *config.Config, logger *slog.Logger) (*angularcli.Workspace, error) {
	dir := cfg.Angular.ProjectDir

	stripped, err := angularcli.StripBOM(filepath.Join(dir, angularcli.PackageJSONFileName))
	if err != nil {
		return nil, err
	}
	if stripped {
		logger.Info("removed byte order mark from package.json", "dir", dir)
	}

	ws, err := angularcli.LoadWorkspace(dir)
	if errors.Is(err, angularcli.ErrWorkspaceNotFound) {
		logger.Warn("no angular workspace file; base hrefs come from serve options only", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("angular workspace loaded", "file", ws.File, "apps", len(ws.Apps))
	return ws, nil
}

func resolveTargets(cfg *config.Config, ws *angularcli.Workspace, logger *slog.Logger) ([]model.Target, error) {
	targets, err := angularcli.ResolveTargets(ws, cfg.Angular.ServeOptions)
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		logger.Info("dev server configured", "prefix", t.Prefix, "upstream", t.String())
	}
	return targets, nil
}

// newRouterConfig decides the legacy path-root mode once at startup.
func newRouterConfig(cfg *config.Config, logger *slog.Logger) (router.Config, error) {
	var toRoot bool
	switch cfg.Angular.PathRoot {
	case config.PathRootOn:
		toRoot = true
	case config.PathRootOff:
		toRoot = false
	default:
		v, err := angularcli.CLIVersion(cfg.Angular.ProjectDir)
		if err != nil {
			return router.Config{}, err
		}
		toRoot = angularcli.ServesFromRoot(v)
		if v != nil {
			logger.Info("angular cli detected", "version", v.String(), "proxy_to_path_root", toRoot)
		}
	}

	reserved := []string{"/healthz", "/proxy/status"}
	if cfg.Metrics.Enabled {
		reserved = append(reserved, cfg.Metrics.Path)
	}

	return router.Config{
		WaitInterval:    cfg.Readiness.WaitInterval(),
		WaitAttempts:    cfg.Readiness.WaitAttempts,
		ProxyToPathRoot: toRoot,
		Reserved:        reserved,
	}, nil
}

func newMonitor(reg *registry.Registry, f *service.BackendFactory, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *readiness.Monitor {
	return readiness.NewMonitor(reg, readiness.NewSocketProbe(), f.New, cfg.Readiness.PollInterval(), logger, m)
}

func newSPAHandler(cfg *config.Config, ws *angularcli.Workspace, targets []model.Target) *handler.SPAHandler {
	apps := make([]handler.SPAApp, 0, len(targets))
	for _, t := range targets {
		apps = append(apps, handler.SPAApp{BaseHref: t.BaseHref, IndexFile: ws.IndexFor(t.BaseHref)})
	}
	return handler.NewSPAHandler(cfg.Angular.WebRootPath(), apps)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, rt *router.Router) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. Upgraded WebSocket
	// connections clear these deadlines.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0): dev server responses are streamed and
	// a request may wait minutes for a dev server to come up.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	// Dev servers first; whatever they leave is served from the web root,
	// then by the routes.
	e.Use(rt.Middleware())
	e.Use(echomw.StaticWithConfig(echomw.StaticConfig{Root: cfg.Angular.WebRootPath()}))

	return e
}

// checkPorts refuses to start when strict_ports is set and a dev server
// port is already taken before the proxy runs.
func checkPorts(cfg *config.Config, targets []model.Target) error {
	if !cfg.Readiness.StrictPorts {
		return nil
	}
	return readiness.CheckPortsFree(context.Background(), readiness.NewSocketProbe(), targets)
}

func warnWebRoot(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnWebRoot(logger)
}

func startMonitor(lc fx.Lifecycle, mon *readiness.Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The start context expires with the start timeout; the
			// watchers live until Stop.
			mon.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			mon.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "config", cfg.FilePath())
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
