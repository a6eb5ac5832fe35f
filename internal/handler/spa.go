package handler

import (
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"ng-dev-proxy/internal/model"
)

// SPAApp is one built application under the web root.
type SPAApp struct {
	BaseHref  string
	IndexFile string
}

// SPAHandler answers client-side routes with the owning app's index
// document, so deep links into an Angular app survive a reload.
type SPAHandler struct {
	webRoot string
	apps    []SPAApp // longest base href first
}

// NewSPAHandler creates an SPAHandler serving files from webRoot.
func NewSPAHandler(webRoot string, apps []SPAApp) *SPAHandler {
	sorted := append([]SPAApp(nil), apps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].BaseHref) > len(sorted[j].BaseHref)
	})
	return &SPAHandler{webRoot: webRoot, apps: sorted}
}

// Serve handles GET and HEAD requests whose last path segment has no dot
// (a route, not an asset). Everything else is 404.
func (h *SPAHandler) Serve(c echo.Context) error {
	req := c.Request()
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return echo.ErrNotFound
	}

	path := req.URL.Path
	if strings.Contains(path[strings.LastIndex(path, "/")+1:], ".") {
		return echo.ErrNotFound
	}

	app, ok := h.match(path)
	if !ok {
		return echo.ErrNotFound
	}
	return c.File(filepath.Join(h.webRoot, filepath.FromSlash(app.BaseHref), app.IndexFile))
}

func (h *SPAHandler) match(path string) (SPAApp, bool) {
	for _, a := range h.apps {
		prefix := model.PrefixFromBaseHref(a.BaseHref)
		if prefix == "/" {
			return a, true
		}
		if model.HasSegmentPrefix(path, prefix) {
			return a, true
		}
	}
	return SPAApp{}, false
}
