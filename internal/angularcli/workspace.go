// Package angularcli reads the Angular CLI workspace files the proxy needs:
// angular.json (or the legacy .angular-cli.json) and package.json.
package angularcli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	WorkspaceFileName       = "angular.json"
	LegacyWorkspaceFileName = ".angular-cli.json"
	PackageJSONFileName     = "package.json"
)

var (
	// ErrWorkspaceNotFound is returned when neither workspace file exists.
	ErrWorkspaceNotFound = errors.New("angular workspace file not found")
	// ErrNoApps is returned when the workspace declares no applications.
	ErrNoApps = errors.New("angular workspace declares no apps")
)

// AppSettings describes one front-end application of the workspace.
type AppSettings struct {
	Index     int
	Name      string
	BaseHref  string
	IndexFile string
}

// Workspace is the parsed view of a workspace file.
type Workspace struct {
	Dir            string
	File           string
	Apps           []AppSettings
	DefaultProject string
}

// LoadWorkspace reads angular.json from dir, falling back to the legacy
// .angular-cli.json used by Angular CLI 1.x.
func LoadWorkspace(dir string) (*Workspace, error) {
	path := filepath.Join(dir, WorkspaceFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		ws, err := parseWorkspace(data)
		if err != nil {
			return nil, fmt.Errorf("angularcli: parse %s: %w", path, err)
		}
		ws.Dir, ws.File = dir, path
		return ws, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("angularcli: read %s: %w", path, err)
	}

	path = filepath.Join(dir, LegacyWorkspaceFileName)
	data, err = os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("angularcli: %w in %s", ErrWorkspaceNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("angularcli: read %s: %w", path, err)
	}
	ws, err := parseLegacyWorkspace(data)
	if err != nil {
		return nil, fmt.Errorf("angularcli: parse %s: %w", path, err)
	}
	ws.Dir, ws.File = dir, path
	return ws, nil
}

// App returns the settings of the named app. An empty name selects the
// default project, or the first app when no default is declared.
func (w *Workspace) App(name string) (AppSettings, bool) {
	if name == "" {
		name = w.DefaultProject
	}
	if name == "" {
		if len(w.Apps) == 0 {
			return AppSettings{}, false
		}
		return w.Apps[0], true
	}
	for _, a := range w.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return AppSettings{}, false
}

type workspaceFile struct {
	DefaultProject string `json:"defaultProject"`
	Projects       map[string]struct {
		ProjectType string `json:"projectType"`
		Architect   struct {
			Build struct {
				Options struct {
					BaseHref string `json:"baseHref"`
					Index    any    `json:"index"`
				} `json:"options"`
			} `json:"build"`
		} `json:"architect"`
	} `json:"projects"`
}

type legacyWorkspaceFile struct {
	Apps []struct {
		Name     string `json:"name"`
		BaseHref string `json:"baseHref"`
		Index    string `json:"index"`
	} `json:"apps"`
}

func parseWorkspace(data []byte) (*Workspace, error) {
	var f workspaceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(f.Projects))
	for name, p := range f.Projects {
		if p.ProjectType == "library" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, ErrNoApps
	}
	// JSON objects are unordered once decoded into a map.
	sort.Strings(names)

	ws := &Workspace{DefaultProject: f.DefaultProject}
	for i, name := range names {
		opts := f.Projects[name].Architect.Build.Options
		ws.Apps = append(ws.Apps, AppSettings{
			Index:     i,
			Name:      name,
			BaseHref:  opts.BaseHref,
			IndexFile: indexFileName(opts.Index),
		})
	}
	return ws, nil
}

func parseLegacyWorkspace(data []byte) (*Workspace, error) {
	var f legacyWorkspaceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Apps) == 0 {
		return nil, ErrNoApps
	}

	ws := &Workspace{}
	for i, a := range f.Apps {
		ws.Apps = append(ws.Apps, AppSettings{
			Index:     i,
			Name:      a.Name,
			BaseHref:  a.BaseHref,
			IndexFile: indexFileName(a.Index),
		})
	}
	return ws, nil
}

// indexFileName reduces the build "index" option to the file name written to
// the output folder. The option is either a path string or an object with an
// "output" or "input" member.
func indexFileName(v any) string {
	switch idx := v.(type) {
	case string:
		if idx != "" {
			return filepath.Base(idx)
		}
	case map[string]any:
		if out, ok := idx["output"].(string); ok && out != "" {
			return filepath.Base(out)
		}
		if in, ok := idx["input"].(string); ok && in != "" {
			return filepath.Base(in)
		}
	}
	return "index.html"
}

// IndexFor returns the index file name of the app served under baseHref,
// or "index.html" when no app declares that base href. A nil Workspace is
// allowed.
func (w *Workspace) IndexFor(baseHref string) string {
	if w != nil {
		for _, a := range w.Apps {
			href := a.BaseHref
			if href == "" {
				href = "/"
			}
			if href == baseHref {
				return a.IndexFile
			}
		}
	}
	return "index.html"
}
