// Package ngoptions extracts proxy settings from "ng serve" option strings.
package ngoptions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 4200
	DefaultBaseHref = "/"
)

// ErrInvalidOptions wraps every validation failure of an option set.
var ErrInvalidOptions = errors.New("invalid ng serve options")

var (
	hostPattern     = regexp.MustCompile(`(?i)(?:--host|-H)(?:\s+|=)(\S+)`)
	portPattern     = regexp.MustCompile(`(?i)--port(?:\s+|=)(\w+)`)
	baseHrefPattern = regexp.MustCompile(`(?i)(?:--base-href|-bh)(?:\s+|=)(\S+)`)
	appPattern      = regexp.MustCompile(`(?i)(?:--app|-a)(?:\s+|=)(\S+)`)
	sslPattern      = regexp.MustCompile(`(?i)--ssl(?:(?:\s+|=)(true|false))?(?:\s|$)`)
)

// Options is the part of an ng serve command line the proxy cares about.
type Options struct {
	Raw      string `json:"raw"`
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	BaseHref string `json:"base_href"` // empty when --base-href is absent
	App      string `json:"app"`       // empty when --app is absent
}

// Parse extracts scheme, host, port, base href and app name from raw.
// When a flag is repeated the last occurrence wins, even if its value is
// invalid; ng serve behaves the same way. An unparseable port falls back to
// DefaultPort.
func Parse(raw string) Options {
	o := Options{
		Raw:    raw,
		Scheme: "http",
		Host:   DefaultHost,
		Port:   DefaultPort,
	}
	if strings.TrimSpace(raw) == "" {
		return o
	}

	if m := lastMatch(sslPattern, raw); m != nil && !strings.EqualFold(m[1], "false") {
		o.Scheme = "https"
	}
	if m := lastMatch(hostPattern, raw); m != nil {
		o.Host = m[1]
	}
	if m := lastMatch(portPattern, raw); m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil {
			o.Port = port
		}
	}
	if m := lastMatch(baseHrefPattern, raw); m != nil {
		o.BaseHref = m[1]
	}
	if m := lastMatch(appPattern, raw); m != nil {
		o.App = m[1]
	}
	return o
}

func lastMatch(re *regexp.Regexp, s string) []string {
	all := re.FindAllStringSubmatch(s, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// EffectiveBaseHref returns BaseHref or the root when it is unset.
func (o Options) EffectiveBaseHref() string {
	if o.BaseHref == "" {
		return DefaultBaseHref
	}
	return o.BaseHref
}

// Validate checks the rules for a single option string.
func (o *Options) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Port,
			validation.Required.Error("must be greater than zero"),
			validation.Min(1).Error("must be greater than zero"),
			validation.Max(65535),
		),
		validation.Field(&o.BaseHref,
			validation.Required,
			validation.By(validateBaseHref),
		),
	)
}

func validateBaseHref(value interface{}) error {
	href, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if !strings.HasPrefix(href, "/") {
		return validation.NewError("validation_base_href_leading", "must have a leading '/'")
	}
	if !strings.HasSuffix(href, "/") {
		return validation.NewError("validation_base_href_trailing", "must have a trailing '/'")
	}
	if strings.Contains(href, "//") {
		return validation.NewError("validation_base_href_empty_segment", "must not contain an empty segment")
	}
	return nil
}

// ValidateSet checks every option set and the cross-app rules: ports and
// base hrefs must be pairwise distinct. Options with an empty BaseHref are
// treated as the root. All problems are reported in one error.
func ValidateSet(list []Options) error {
	errs := validation.Errors{}
	ports := make(map[int]int, len(list))
	hrefs := make(map[string]int, len(list))

	for i := range list {
		o := list[i]
		o.BaseHref = o.EffectiveBaseHref()
		key := fmt.Sprintf("apps[%d]", i)

		if err := o.Validate(); err != nil {
			errs[key] = err
			continue
		}
		if j, dup := ports[o.Port]; dup {
			errs[key] = fmt.Errorf("duplicate port %d (also used by apps[%d])", o.Port, j)
			continue
		}
		if j, dup := hrefs[o.BaseHref]; dup {
			errs[key] = fmt.Errorf("duplicate base-href %q (also used by apps[%d])", o.BaseHref, j)
			continue
		}
		ports[o.Port] = i
		hrefs[o.BaseHref] = i
	}

	if err := errs.Filter(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}
