// Package service implements forwarding of plain HTTP requests to a dev
// server and the per-backend handle published once it is listening.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"ng-dev-proxy/internal/client"
	"ng-dev-proxy/internal/model"
)

// bodylessMethods never carry a request body upstream.
var bodylessMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodDelete: true,
	http.MethodTrace:  true,
}

// Forwarder relays single HTTP requests to one dev server.
type Forwarder struct {
	client *client.UpstreamClient
	target model.Target
	logger *slog.Logger
}

// NewForwarder creates a Forwarder for target.
func NewForwarder(c *client.UpstreamClient, target model.Target, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: c,
		target: target,
		logger: logger.With("component", "forwarder", "target", target.String()),
	}
}

// Forward sends r to the dev server with path in place of r.URL.Path and
// returns once the response headers have arrived. All inbound headers are
// copied; Host is rewritten to the dev server's address. The caller is
// responsible for closing the response body.
func (f *Forwarder) Forward(r *http.Request, path string) (*model.ProxyResponse, error) {
	u := f.target.URL(path, r.URL.RawQuery)

	var body io.Reader
	var contentLength int64
	if !bodylessMethods[r.Method] && r.Body != nil && r.Body != http.NoBody {
		body = r.Body
		contentLength = r.ContentLength
	}

	f.logger.Debug("forwarding request",
		"method", r.Method,
		"path", path,
	)

	resp, err := f.client.DoStream(r.Context(), r.Method, u.String(), f.target.Addr(), r.Header.Clone(), body, contentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", f.target, err)
	}
	return resp, nil
}

// WriteResponse copies resp to w: every header except Transfer-Encoding,
// the status code, and the body unless the status is 304. Headers are
// complete before the first body byte. It closes resp.Body.
func WriteResponse(w http.ResponseWriter, resp *model.ProxyResponse) error {
	defer func() { _ = resp.Body.Close() }()

	dst := w.Header()
	for key, vals := range resp.Header {
		dst[key] = append([]string(nil), vals...)
	}
	// The upstream client has already removed the chunked framing.
	dst.Del("Transfer-Encoding")

	w.WriteHeader(resp.StatusCode)

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}

	// Once headers are out a copy failure can only truncate the body.
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream response body: %w", err)
	}
	return nil
}
