package angularcli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)*`)

// pathRootCutoff is the first CLI release whose dev server honours
// --base-href. Older dev servers serve everything from the root.
var pathRootCutoff = semver.MustParse("1.4.0")

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// CLIVersion returns the @angular/cli version declared in package.json, or
// nil when package.json or the dependency is missing.
func CLIVersion(dir string) (*semver.Version, error) {
	path := filepath.Join(dir, PackageJSONFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("angularcli: read %s: %w", path, err)
	}

	var pkg packageJSON
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &pkg); err != nil {
		return nil, fmt.Errorf("angularcli: parse %s: %w", path, err)
	}

	constraint, ok := pkg.DevDependencies["@angular/cli"]
	if !ok {
		constraint, ok = pkg.Dependencies["@angular/cli"]
	}
	if !ok {
		return nil, nil
	}

	// Ranges such as "^1.4.2" or "~1.0.0-beta.28" carry the base version as
	// their first dotted number.
	raw := versionPattern.FindString(constraint)
	if raw == "" {
		return nil, nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("angularcli: @angular/cli version %q: %w", constraint, err)
	}
	return v, nil
}

// ServesFromRoot reports whether a dev server of the given CLI version
// ignores --base-href. A nil version is treated as a current CLI.
func ServesFromRoot(v *semver.Version) bool {
	return v != nil && v.LessThan(pathRootCutoff)
}

// StripBOM removes a leading UTF-8 byte order mark from the file at path.
// It reports whether the file was rewritten. A missing file is not an error.
func StripBOM(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("angularcli: read %s: %w", path, err)
	}
	if !bytes.HasPrefix(data, utf8BOM) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("angularcli: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, data[len(utf8BOM):], info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("angularcli: write %s: %w", path, err)
	}
	return true, nil
}
