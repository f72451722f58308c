package manifest

import (
	"errors"
	"fmt"
)

// Sentinel errors for manifest loading.
var (
	// ErrManifestMissing indicates no manifest source and no static routes.
	ErrManifestMissing = errors.New("no route manifest source and no static routes")

	// ErrManifestParse indicates malformed manifest JSON.
	ErrManifestParse = errors.New("invalid route manifest")
)

// ManifestError carries context for a manifest loading failure.
type ManifestError struct {
	Op    string // Operation that failed
	Path  string // Manifest path if applicable
	Cause error
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("manifest error [%s] path=%s: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("manifest error [%s]: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ManifestError) Unwrap() error {
	return e.Cause
}
