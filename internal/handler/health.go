package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ng-dev-proxy/internal/registry"
	"ng-dev-proxy/internal/router"
)

// Version is a string type for dependency injection of the build version.
type Version string

// BackendStatus is one dev server in the status report.
type BackendStatus struct {
	Prefix   string `json:"prefix"`
	BaseHref string `json:"base_href"`
	Upstream string `json:"upstream"`
	Ready    bool   `json:"ready"`
}

// StatusResponse is the body of GET /proxy/status.
type StatusResponse struct {
	Status          string          `json:"status"`
	Version         string          `json:"version"`
	ProxyToPathRoot bool            `json:"proxy_to_path_root"`
	Backends        []BackendStatus `json:"backends"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	reg       *registry.Registry
	routerCfg router.Config
	version   Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(reg *registry.Registry, rc router.Config, v Version) *HealthHandler {
	return &HealthHandler{reg: reg, routerCfg: rc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports every dev server and whether it is listening yet. The
// overall status is "starting" until all of them are.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:          "ok",
		Version:         string(h.version),
		ProxyToPathRoot: h.routerCfg.ProxyToPathRoot,
		Backends:        []BackendStatus{},
	}
	for _, e := range h.reg.Entries() {
		ready := e.Ready()
		if !ready {
			resp.Status = "starting"
		}
		resp.Backends = append(resp.Backends, BackendStatus{
			Prefix:   e.Target.Prefix,
			BaseHref: e.Target.BaseHref,
			Upstream: e.Target.String(),
			Ready:    ready,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
