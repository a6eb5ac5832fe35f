// Package wspump relays WebSocket sessions between a browser and a dev server.
package wspump

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"ng-dev-proxy/internal/metrics"
	"ng-dev-proxy/internal/model"
)

// ErrDial is returned when the dev server refused the WebSocket handshake.
// The inbound request has then been answered with 400.
var ErrDial = errors.New("websocket dial failed")

// controlWait bounds control frame writes.
const controlWait = 10 * time.Second

// excludedHeaders are connection-specific and are set by the dialer itself.
// Gorilla refuses a handshake that carries them twice.
var excludedHeaders = map[string]bool{
	"Connection":               true,
	"Host":                     true,
	"Upgrade":                  true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
	"Sec-Websocket-Protocol":   true,
}

// Config tunes the relay.
type Config struct {
	KeepAlive        time.Duration // ping interval towards the dev server; 0 disables
	BufferSize       int
	CloseGrace       time.Duration // how long to wait for the close reply
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
}

// Pump relays WebSocket sessions for one dev server.
type Pump struct {
	target  model.Target
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Pump for target. The metrics parameter is optional.
func New(target model.Target, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Pump {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 45 * time.Second
	}
	return &Pump{
		target: target,
		cfg:    cfg,
		dialer: &websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.BufferSize,
			WriteBufferSize:  cfg.BufferSize,
			TLSClientConfig:  cfg.TLSConfig,
		},
		logger:  logger.With("component", "websocket_pump", "target", target.String()),
		metrics: m,
	}
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Serve dials the dev server at path, upgrades the inbound request and
// relays frames both ways until the session ends. It returns once both
// directions have stopped.
func (p *Pump) Serve(w http.ResponseWriter, r *http.Request, path string) error {
	uri := p.target.WebSocketURL(path, r.URL.RawQuery).String()

	dialer := *p.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	backend, resp, err := dialer.DialContext(r.Context(), uri, forwardHeader(r.Header))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		p.logger.Warn("websocket dial failed", "uri", uri, "err", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return fmt.Errorf("%w: %s: %w", ErrDial, uri, err)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  p.cfg.BufferSize,
		WriteBufferSize: p.cfg.BufferSize,
		// The browser talks to the dev server through us; origin checks are
		// the dev server's business.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	if proto := backend.Subprotocol(); proto != "" {
		upgrader.Subprotocols = []string{proto}
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("upgrade inbound websocket: %w", err)
	}

	if p.metrics != nil {
		p.metrics.WebSocketSessions.Inc()
		defer p.metrics.WebSocketSessions.Dec()
	}

	p.logger.Debug("websocket session started", "path", path, "subprotocol", backend.Subprotocol())
	err = p.relay(r.Context(), client, backend)
	p.logger.Debug("websocket session ended", "path", path, "err", err)
	return err
}

func forwardHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, v := range src {
		if excludedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		dst[k] = v
	}
	return dst
}

// relay runs the two copy loops. Each loop stops on a close frame, a
// transport error or cancellation; the session ends when both stopped.
func (p *Pump) relay(ctx context.Context, client, backend *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		_ = client.Close()
		_ = backend.Close()
	}()

	// Control frames travel to the other peer instead of being answered here.
	client.SetPingHandler(forwardControl(websocket.PingMessage, backend))
	backend.SetPingHandler(forwardControl(websocket.PingMessage, client))
	client.SetPongHandler(forwardControl(websocket.PongMessage, backend))
	backend.SetPongHandler(forwardControl(websocket.PongMessage, client))
	client.SetCloseHandler(func(int, string) error { return nil })
	backend.SetCloseHandler(func(int, string) error { return nil })

	// Cancellation unblocks both pending reads.
	go func() {
		<-ctx.Done()
		now := time.Now()
		_ = client.SetReadDeadline(now)
		_ = backend.SetReadDeadline(now)
	}()

	if p.cfg.KeepAlive > 0 {
		go p.keepAlive(ctx, backend)
	}

	var g errgroup.Group
	g.Go(func() error {
		closed, err := p.copy(ctx, backend, client, metrics.DirectionToBackend)
		p.release(backend, closed)
		return err
	})
	g.Go(func() error {
		closed, err := p.copy(ctx, client, backend, metrics.DirectionFromBackend)
		p.release(client, closed)
		return err
	})
	return g.Wait()
}

// release stops the opposite loop's reads. After a forwarded close frame the
// opposite peer gets CloseGrace to answer with its own close.
func (p *Pump) release(src *websocket.Conn, closed bool) {
	deadline := time.Now()
	if closed {
		deadline = deadline.Add(p.cfg.CloseGrace)
	}
	_ = src.SetReadDeadline(deadline)
}

// copy forwards messages from src to dst. It reports whether it stopped
// because src sent a close frame.
func (p *Pump) copy(ctx context.Context, dst, src *websocket.Conn, direction string) (bool, error) {
	buf := make([]byte, p.cfg.BufferSize)
	for {
		mt, r, err := src.NextReader()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				// 1006 means the peer vanished without a close frame.
				if ce.Code == websocket.CloseAbnormalClosure {
					writeClose(dst, websocket.CloseGoingAway, "")
					return false, nil
				}
				writeClose(dst, ce.Code, ce.Text)
				return true, nil
			}
			writeClose(dst, websocket.CloseGoingAway, "")
			if ctx.Err() != nil || isTimeout(err) {
				return false, nil
			}
			return false, fmt.Errorf("read %s: %w", direction, err)
		}

		w, err := dst.NextWriter(mt)
		if err != nil {
			writeClose(src, websocket.CloseGoingAway, "")
			return false, fmt.Errorf("write %s: %w", direction, err)
		}
		// The wrapper hides the writer's ReadFrom so the fixed buffer is used.
		if _, err := io.CopyBuffer(struct{ io.Writer }{w}, r, buf); err != nil {
			_ = w.Close()
			writeClose(dst, websocket.CloseGoingAway, "")
			return false, fmt.Errorf("copy %s: %w", direction, err)
		}
		if err := w.Close(); err != nil {
			writeClose(src, websocket.CloseGoingAway, "")
			return false, fmt.Errorf("flush %s: %w", direction, err)
		}

		if p.metrics != nil {
			p.metrics.WebSocketMessages.WithLabelValues(direction).Inc()
		}
	}
}

func (p *Pump) keepAlive(ctx context.Context, backend *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := backend.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				p.logger.Debug("keepalive ping failed", "err", err)
				return
			}
		}
	}
}

func forwardControl(messageType int, dst *websocket.Conn) func(string) error {
	return func(appData string) error {
		err := dst.WriteControl(messageType, []byte(appData), time.Now().Add(controlWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
}

// writeClose sends a close frame. Codes that must not appear on the wire
// (1005, 1006, 1015) are sent as an empty close payload.
func writeClose(conn *websocket.Conn, code int, text string) {
	var payload []byte
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
	default:
		payload = websocket.FormatCloseMessage(code, text)
	}
	_ = conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(controlWait))
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
