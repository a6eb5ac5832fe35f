// Package registry maps route prefixes to dev servers and tracks whether
// each dev server is ready.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"ng-dev-proxy/internal/model"
	"ng-dev-proxy/internal/service"
)

// ErrInvalidPrefix is returned for a prefix that is neither "/" nor a
// leading-slash path without a trailing slash.
var ErrInvalidPrefix = errors.New("invalid route prefix")

// ErrDuplicatePrefix is returned when two targets share a prefix.
var ErrDuplicatePrefix = errors.New("duplicate route prefix")

// Entry is one prefix of the registry. It starts pending and becomes ready
// at most once, when a Backend is published.
type Entry struct {
	Target  model.Target
	backend atomic.Pointer[service.Backend]
}

// Publish makes b the entry's ready handle. It reports false if the entry
// was already ready; the first published Backend stays.
func (e *Entry) Publish(b *service.Backend) bool {
	if b == nil {
		return false
	}
	return e.backend.CompareAndSwap(nil, b)
}

// Backend returns the ready handle, or nil while pending.
func (e *Entry) Backend() *service.Backend {
	return e.backend.Load()
}

// Ready reports whether a Backend has been published.
func (e *Entry) Ready() bool {
	return e.backend.Load() != nil
}

// WaitReady polls the entry every interval, at most attempts times, and
// returns the Backend as soon as it is published. It gives up early when
// ctx is done.
func (e *Entry) WaitReady(ctx context.Context, interval time.Duration, attempts int) (*service.Backend, bool) {
	if b := e.Backend(); b != nil {
		return b, true
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range attempts {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			if b := e.Backend(); b != nil {
				return b, true
			}
		}
	}
	return nil, false
}

// Registry is the ordered set of entries. It is built once; only the
// entries' ready state changes afterwards.
type Registry struct {
	entries  []*Entry // in configuration order
	specific []*Entry // non-root prefixes, longest first
	root     *Entry   // "/" catch-all, may be nil
}

// New builds a Registry from targets. Prefixes must be unique, compared
// case-insensitively.
func New(targets []model.Target) (*Registry, error) {
	r := &Registry{}
	seen := make(map[string]bool, len(targets))

	for _, t := range targets {
		if err := validatePrefix(t.Prefix); err != nil {
			return nil, fmt.Errorf("registry: %q: %w", t.Prefix, err)
		}
		key := strings.ToLower(t.Prefix)
		if seen[key] {
			return nil, fmt.Errorf("registry: %w: %q", ErrDuplicatePrefix, t.Prefix)
		}
		seen[key] = true

		e := &Entry{Target: t}
		r.entries = append(r.entries, e)
		if t.Prefix == "/" {
			r.root = e
		} else {
			r.specific = append(r.specific, e)
		}
	}

	sort.SliceStable(r.specific, func(i, j int) bool {
		return len(r.specific[i].Target.Prefix) > len(r.specific[j].Target.Prefix)
	})
	return r, nil
}

func validatePrefix(p string) error {
	switch {
	case p == "/":
		return nil
	case !strings.HasPrefix(p, "/"):
		return fmt.Errorf("%w: must have a leading '/'", ErrInvalidPrefix)
	case strings.HasSuffix(p, "/"):
		return fmt.Errorf("%w: must not have a trailing '/'", ErrInvalidPrefix)
	case strings.Contains(p, "//"):
		return fmt.Errorf("%w: must not contain an empty segment", ErrInvalidPrefix)
	}
	return nil
}

// Match returns the entry whose prefix claims path: the longest specific
// prefix that path starts with on a segment boundary, else the "/" entry.
// It returns nil when nothing matches.
func (r *Registry) Match(path string) *Entry {
	for _, e := range r.specific {
		if model.HasSegmentPrefix(path, e.Target.Prefix) {
			return e
		}
	}
	return r.root
}

// Entries returns the entries in configuration order.
func (r *Registry) Entries() []*Entry {
	return append([]*Entry(nil), r.entries...)
}
