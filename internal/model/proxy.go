// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Target is one dev server the proxy routes to. It is a value type and is
// never modified after construction.
type Target struct {
	Scheme   string // "http" or "https"
	Host     string
	Port     int
	BaseHref string // as passed to ng serve, e.g. "/" or "/admin/"
	Prefix   string // route-matching form: "/" or "/admin"
}

// NewTarget builds a Target and derives its route prefix from baseHref.
func NewTarget(scheme, host string, port int, baseHref string) Target {
	return Target{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		BaseHref: baseHref,
		Prefix:   PrefixFromBaseHref(baseHref),
	}
}

// PrefixFromBaseHref strips the trailing slash from a base href unless the
// base href is the root.
func PrefixFromBaseHref(baseHref string) string {
	if len(baseHref) > 1 && strings.HasSuffix(baseHref, "/") {
		return baseHref[:len(baseHref)-1]
	}
	return baseHref
}

// HasSegmentPrefix reports whether path equals prefix or continues it with
// a '/', ignoring case. "/app" claims "/app/x" but not "/application".
func HasSegmentPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL returns the upstream URL for the given path and raw query.
func (t Target) URL(path, rawQuery string) *url.URL {
	return &url.URL{
		Scheme:   t.Scheme,
		Host:     t.Addr(),
		Path:     path,
		RawQuery: rawQuery,
	}
}

// WebSocketURL is URL with the scheme mapped to ws or wss.
func (t Target) WebSocketURL(path, rawQuery string) *url.URL {
	u := t.URL(path, rawQuery)
	if strings.EqualFold(t.Scheme, "https") {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u
}

// String is used in logs and status output.
func (t Target) String() string {
	return t.Scheme + "://" + t.Addr()
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
