package config

import (
	"fmt"
	"strings"
)

// RouteEntry is one forwarding rule: a public (method, path) pair relayed
// to an upstream port and target path. Manifest files carry these as JSON
// objects; static routes carry them in the gateway YAML config.
type RouteEntry struct {
	Path       string `json:"path" yaml:"path"`
	Method     string `json:"method" yaml:"method"`
	Port       int    `json:"port" yaml:"port"`
	TargetPath string `json:"target_path,omitempty" yaml:"targetPath"`
	Stream     bool   `json:"stream,omitempty" yaml:"stream"`
}

// NormalizedMethod returns the uppercased method, defaulting to GET.
func (r RouteEntry) NormalizedMethod() string {
	if r.Method == "" {
		return "GET"
	}
	return strings.ToUpper(r.Method)
}

// Target returns the upstream path, defaulting to the public path.
func (r RouteEntry) Target() string {
	if r.TargetPath != "" {
		return r.TargetPath
	}
	return r.Path
}

// Key identifies the route within a manifest: path plus uppercased method.
func (r RouteEntry) Key() string {
	return r.NormalizedMethod() + " " + r.Path
}

// Validate checks the entry for obvious misconfiguration.
func (r RouteEntry) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("route path must not be empty")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("route path %q must start with /", r.Path)
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("route %q has invalid port %d", r.Path, r.Port)
	}
	return nil
}

// TranslatedRoute is a hand-written route with an explicit upstream
// encoding, as opposed to manifest entries which are raw passthrough.
type TranslatedRoute struct {
	RouteEntry `yaml:",inline"`

	// Encoding is one of raw, json, multipart. Defaults to json.
	Encoding string `yaml:"encoding"`

	// ResponseContentType overrides the content type announced for
	// binary responses, e.g. audio/wav for synthesis endpoints.
	ResponseContentType string `yaml:"responseContentType"`
}

// NormalizedEncoding returns the encoding mode, defaulting to json.
func (r TranslatedRoute) NormalizedEncoding() string {
	if r.Encoding == "" {
		return EncodingJSON
	}
	return strings.ToLower(r.Encoding)
}

// Validate checks the translated route.
func (r TranslatedRoute) Validate() error {
	if err := r.RouteEntry.Validate(); err != nil {
		return err
	}
	switch r.NormalizedEncoding() {
	case EncodingRaw, EncodingJSON, EncodingMultipart:
		return nil
	default:
		return fmt.Errorf("route %q has unknown encoding %q", r.Path, r.Encoding)
	}
}
