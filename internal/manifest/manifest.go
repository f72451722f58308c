// Package manifest loads the declarative route manifest and merges it with
// static routes into one conflict-checked route table.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/observability"
)

// Manifest is the merged, immutable route table built once at startup.
type Manifest struct {
	Routes []config.RouteEntry

	// Conflicts counts static entries discarded because they contradicted
	// a discovered entry. Diagnostics only; startup continues.
	Conflicts int

	// Duplicates counts identical static entries skipped during merge.
	Duplicates int

	// Source records where the discovered routes came from.
	Source string
}

// LoadOptions controls manifest loading.
type LoadOptions struct {
	// InlineEnv names an env var holding the manifest JSON inline.
	InlineEnv string

	// PathEnv names an env var overriding the manifest file path.
	PathEnv string

	// SkipEnv names an env var that, when set, skips route registration
	// entirely (the manifest loads empty, static routes included).
	SkipEnv string

	// Path is the configured manifest file path.
	Path string

	// StaticRoutes are merged after the discovered routes.
	StaticRoutes []config.RouteEntry

	Logger observability.Logger
}

// Load builds the merged manifest. Sources in priority order: inline env
// JSON, path env override, configured path. With no source and no static
// routes it fails with ErrManifestMissing.
func Load(opts LoadOptions) (*Manifest, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	if opts.SkipEnv != "" && os.Getenv(opts.SkipEnv) != "" {
		logger.Info("route registration skipped by environment",
			observability.String("env", opts.SkipEnv),
		)
		return &Manifest{Source: "skipped"}, nil
	}

	discovered, source, err := loadDiscovered(opts)
	if err != nil {
		return nil, err
	}

	if discovered == nil && len(opts.StaticRoutes) == 0 {
		return nil, &ManifestError{
			Op:    "load",
			Path:  opts.Path,
			Cause: ErrManifestMissing,
		}
	}

	m := merge(discovered, opts.StaticRoutes, logger)
	m.Source = source

	logger.Info("route manifest loaded",
		observability.String("source", source),
		observability.Int("routes", len(m.Routes)),
		observability.Int("conflicts", m.Conflicts),
		observability.Int("duplicates", m.Duplicates),
	)
	return m, nil
}

// loadDiscovered returns the discovered route list, or nil when no source
// is configured. A configured-but-missing file is not an error here; the
// static routes may still carry the manifest.
func loadDiscovered(opts LoadOptions) ([]config.RouteEntry, string, error) {
	if opts.InlineEnv != "" {
		if inline := os.Getenv(opts.InlineEnv); inline != "" {
			routes, err := ParseRoutes([]byte(inline))
			if err != nil {
				return nil, "", err
			}
			return routes, "env:" + opts.InlineEnv, nil
		}
	}

	path := opts.Path
	if opts.PathEnv != "" {
		if override := os.Getenv(opts.PathEnv); override != "" {
			path = override
		}
	}
	if path == "" {
		return nil, "none", nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "none", nil
		}
		return nil, "", fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	routes, err := ParseRoutes(data)
	if err != nil {
		return nil, "", &ManifestError{Op: "parse", Path: path, Cause: err}
	}
	return routes, path, nil
}

// ParseRoutes parses a manifest document: either a JSON list of route
// entries, or an object with a "routes" key holding that list.
func ParseRoutes(data []byte) ([]config.RouteEntry, error) {
	var routes []config.RouteEntry
	if err := json.Unmarshal(data, &routes); err == nil {
		return routes, nil
	}

	var wrapper struct {
		Routes json.RawMessage `json:"routes"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, &ManifestError{Op: "parse", Cause: fmt.Errorf("%w: %v", ErrManifestParse, err)}
	}
	if wrapper.Routes == nil {
		return nil, &ManifestError{Op: "parse", Cause: fmt.Errorf("%w: document is neither a list nor an object with a routes list", ErrManifestParse)}
	}
	if err := json.Unmarshal(wrapper.Routes, &routes); err != nil {
		return nil, &ManifestError{Op: "parse", Cause: fmt.Errorf("%w: %v", ErrManifestParse, err)}
	}
	return routes, nil
}

// merge combines discovered and static routes keyed by (path, method).
// Discovered entries are authoritative: identical static duplicates are
// skipped, conflicting static entries are logged and discarded. Static
// routes add routes; they never override inference.
func merge(discovered, static []config.RouteEntry, logger observability.Logger) *Manifest {
	m := &Manifest{Routes: make([]config.RouteEntry, 0, len(discovered)+len(static))}

	existing := make(map[string]config.RouteEntry, len(discovered))
	for _, route := range discovered {
		key := route.Key()
		if _, seen := existing[key]; seen {
			// First-seen wins on identical discovered duplicates.
			continue
		}
		existing[key] = route
		m.Routes = append(m.Routes, route)
	}

	var skipped []string
	for _, route := range static {
		key := route.Key()
		prior, seen := existing[key]
		if !seen {
			existing[key] = route
			m.Routes = append(m.Routes, route)
			continue
		}
		if prior.Port != route.Port || prior.Target() != route.Target() {
			m.Conflicts++
			logger.Warn("static route conflicts with discovered route, keeping discovered",
				observability.String("route", key),
				observability.Int("static_port", route.Port),
				observability.Int("discovered_port", prior.Port),
				observability.String("static_target", route.Target()),
				observability.String("discovered_target", prior.Target()),
			)
			continue
		}
		m.Duplicates++
		skipped = append(skipped, key)
	}

	if len(skipped) > 0 {
		logger.Info("skipped duplicate static routes already in manifest",
			observability.Int("count", len(skipped)),
			observability.Strings("routes", skipped),
		)
	}
	return m
}
