package service

import (
	"log/slog"
	"net/http"
	"time"

	"ng-dev-proxy/internal/client"
	"ng-dev-proxy/internal/config"
	"ng-dev-proxy/internal/metrics"
	"ng-dev-proxy/internal/model"
	"ng-dev-proxy/internal/wspump"
)

// Backend is the ready handle of a dev server: everything needed to
// forward HTTP requests and relay WebSocket sessions to it.
type Backend struct {
	target    model.Target
	forwarder *Forwarder
	pump      *wspump.Pump
}

// NewBackend assembles a Backend.
func NewBackend(target model.Target, fwd *Forwarder, pump *wspump.Pump) *Backend {
	return &Backend{target: target, forwarder: fwd, pump: pump}
}

// Target returns the dev server this backend talks to.
func (b *Backend) Target() model.Target {
	return b.target
}

// Forward relays a plain HTTP request. See Forwarder.Forward.
func (b *Backend) Forward(r *http.Request, path string) (*model.ProxyResponse, error) {
	return b.forwarder.Forward(r, path)
}

// ServeWebSocket relays a WebSocket session. See wspump.Pump.Serve.
func (b *Backend) ServeWebSocket(w http.ResponseWriter, r *http.Request, path string) error {
	return b.pump.Serve(w, r, path)
}

// BackendFactory builds Backends that share one upstream client.
type BackendFactory struct {
	client  *client.UpstreamClient
	wsCfg   wspump.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBackendFactory creates a BackendFactory from the application config.
// The metrics parameter is optional.
func NewBackendFactory(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendFactory {
	return &BackendFactory{
		client: c,
		wsCfg: wspump.Config{
			KeepAlive:        cfg.WebSocket.KeepAlive(),
			BufferSize:       cfg.WebSocket.BufferSize,
			CloseGrace:       cfg.WebSocket.CloseGrace(),
			HandshakeTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			TLSConfig:        c.TLSConfig(),
		},
		logger:  logger,
		metrics: m,
	}
}

// New builds the Backend for target.
func (f *BackendFactory) New(target model.Target) *Backend {
	return NewBackend(
		target,
		NewForwarder(f.client, target, f.logger),
		wspump.New(target, f.wsCfg, f.logger, f.metrics),
	)
}
