// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"ng-dev-proxy.toml",
	"configs/config.toml",
}

// Legacy path-root modes for [angular] path_root.
const (
	PathRootAuto = "auto"
	PathRootOn   = "on"
	PathRootOff  = "off"
)

// Readiness wait bounds, in polling attempts.
const (
	MinWaitAttempts = 120
	MaxWaitAttempts = 240
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel   string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	ProjectDir string   `kong:"short='d',help='Angular project directory (overrides config).',env='NG_PROJECT_DIR'"`
	Serve      []string `kong:"short='s',sep='none',help='ng serve options of one app, e.g. \"--port 4201 --base-href /admin/\". Repeat per app (replaces config).'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Angular   AngularConfig   `toml:"angular"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Readiness ReadinessConfig `toml:"readiness"`
	WebSocket WebSocketConfig `toml:"websocket"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (5000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// AngularConfig describes the Angular workspace and its dev servers.
type AngularConfig struct {
	ProjectDir   string   `toml:"project_dir"`
	WebRoot      string   `toml:"web_root"`  // relative paths resolve against ProjectDir
	PathRoot     string   `toml:"path_root"` // auto|on|off
	ServeOptions []string `toml:"serve_options"`
}

// UpstreamConfig holds dev server connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int  `toml:"timeout_seconds"`
	IdleConnections int  `toml:"idle_connections"`
	VerifyTLS       bool `toml:"verify_tls"`
}

// ReadinessConfig controls dev server readiness polling.
type ReadinessConfig struct {
	PollIntervalMS int  `toml:"poll_interval_ms"`
	WaitIntervalMS int  `toml:"wait_interval_ms"`
	WaitAttempts   int  `toml:"wait_attempts"`
	// StrictPorts fails startup when a dev server port is already bound.
	// Off by default: the proxy does not launch ng serve, so a listener
	// present at startup is usually the operator's dev server, not a clash.
	StrictPorts    bool `toml:"strict_ports"`
}

// WebSocketConfig holds WebSocket relay settings.
type WebSocketConfig struct {
	KeepAliveSeconds  int `toml:"keepalive_seconds"`
	BufferSize        int `toml:"buffer_size"`
	CloseGraceSeconds int `toml:"close_grace_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// ./ng-dev-proxy.toml then configs/config.toml, and runs on defaults when
// neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.ProjectDir != "" {
		c.Angular.ProjectDir = cli.ProjectDir
	}
	if len(cli.Serve) > 0 {
		c.Angular.ServeOptions = cli.Serve
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Angular.PathRoot) {
	case PathRootAuto, PathRootOn, PathRootOff, "":
		// valid
	default:
		return fmt.Errorf("angular.path_root must be one of: auto, on, off; got %q", c.Angular.PathRoot)
	}

	// Readiness.
	if c.Readiness.PollIntervalMS < 0 {
		return fmt.Errorf("readiness.poll_interval_ms must be non-negative; got %d", c.Readiness.PollIntervalMS)
	}
	if c.Readiness.WaitIntervalMS < 0 {
		return fmt.Errorf("readiness.wait_interval_ms must be non-negative; got %d", c.Readiness.WaitIntervalMS)
	}
	if n := c.Readiness.WaitAttempts; n != 0 && (n < MinWaitAttempts || n > MaxWaitAttempts) {
		return fmt.Errorf("readiness.wait_attempts must be %d-%d; got %d", MinWaitAttempts, MaxWaitAttempts, n)
	}

	// WebSocket.
	if c.WebSocket.KeepAliveSeconds < 0 {
		return fmt.Errorf("websocket.keepalive_seconds must be non-negative; got %d", c.WebSocket.KeepAliveSeconds)
	}
	if c.WebSocket.BufferSize < 0 {
		return fmt.Errorf("websocket.buffer_size must be non-negative; got %d", c.WebSocket.BufferSize)
	}
	if c.WebSocket.CloseGraceSeconds < 0 {
		return fmt.Errorf("websocket.close_grace_seconds must be non-negative; got %d", c.WebSocket.CloseGraceSeconds)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return errors.New("metrics.path must not be the root; the root belongs to the dev servers")
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 30 * 1024 * 1024 // 30 MB
	}
	if c.Angular.ProjectDir == "" {
		c.Angular.ProjectDir = "."
	}
	if c.Angular.WebRoot == "" {
		c.Angular.WebRoot = "dist"
	}
	if c.Angular.PathRoot == "" {
		c.Angular.PathRoot = PathRootAuto
	}
	c.Angular.PathRoot = strings.ToLower(c.Angular.PathRoot)
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Readiness.PollIntervalMS == 0 {
		c.Readiness.PollIntervalMS = 2000
	}
	if c.Readiness.WaitIntervalMS == 0 {
		c.Readiness.WaitIntervalMS = 500
	}
	if c.Readiness.WaitAttempts == 0 {
		c.Readiness.WaitAttempts = MinWaitAttempts
	}
	if c.WebSocket.KeepAliveSeconds == 0 {
		c.WebSocket.KeepAliveSeconds = 60
	}
	if c.WebSocket.BufferSize == 0 {
		c.WebSocket.BufferSize = 4096
	}
	if c.WebSocket.CloseGraceSeconds == 0 {
		c.WebSocket.CloseGraceSeconds = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FilePath returns the config file that was loaded, or "" when running on
// defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// Addr returns the server listen address as host:port.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WebRootPath returns the static file root, resolved against ProjectDir.
func (a *AngularConfig) WebRootPath() string {
	if filepath.IsAbs(a.WebRoot) {
		return a.WebRoot
	}
	return filepath.Join(a.ProjectDir, a.WebRoot)
}

// PollInterval is the readiness monitor's probe interval.
func (r *ReadinessConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

// WaitInterval is the per-request readiness polling interval.
func (r *ReadinessConfig) WaitInterval() time.Duration {
	return time.Duration(r.WaitIntervalMS) * time.Millisecond
}

// KeepAlive is the interval between pings sent to the dev server.
func (w *WebSocketConfig) KeepAlive() time.Duration {
	return time.Duration(w.KeepAliveSeconds) * time.Second
}

// CloseGrace is how long a relay waits for the close reply after
// forwarding a close frame.
func (w *WebSocketConfig) CloseGrace() time.Duration {
	return time.Duration(w.CloseGraceSeconds) * time.Second
}

// WarnWebRoot logs a warning if the static file root does not exist. The
// proxy still starts: fall-through requests then answer 404.
func (c *Config) WarnWebRoot(logger *slog.Logger) {
	root := c.Angular.WebRootPath()
	info, err := os.Stat(root)
	if err != nil {
		logger.Warn("web root not found; fall-through requests will answer 404",
			"path", root,
		)
		return
	}
	if !info.IsDir() {
		logger.Warn("web root is not a directory",
			"path", root,
			"mode", fmt.Sprintf("%04o", info.Mode().Perm()),
		)
	}
}
