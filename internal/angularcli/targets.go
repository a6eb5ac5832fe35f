package angularcli

import (
	"fmt"

	"ng-dev-proxy/internal/model"
	"ng-dev-proxy/internal/ngoptions"
)

// ResolveTargets turns the configured ng serve option strings into proxy
// targets. An option string without --base-href inherits the baseHref of
// its workspace app (selected by --app, else the default app). The whole
// set is validated before any target is returned.
func ResolveTargets(ws *Workspace, rawOptions []string) ([]model.Target, error) {
	if len(rawOptions) == 0 {
		rawOptions = []string{""}
	}

	list := make([]ngoptions.Options, 0, len(rawOptions))
	for i, raw := range rawOptions {
		o := ngoptions.Parse(raw)
		if o.BaseHref == "" && ws != nil {
			app, ok := ws.App(o.App)
			if !ok && o.App != "" {
				return nil, fmt.Errorf("angularcli: apps[%d]: app %q not found in %s", i, o.App, ws.File)
			}
			o.BaseHref = app.BaseHref
		}
		list = append(list, o)
	}

	if err := ngoptions.ValidateSet(list); err != nil {
		return nil, fmt.Errorf("angularcli: %w", err)
	}

	targets := make([]model.Target, 0, len(list))
	for _, o := range list {
		targets = append(targets, model.NewTarget(o.Scheme, o.Host, o.Port, o.EffectiveBaseHref()))
	}
	return targets, nil
}
