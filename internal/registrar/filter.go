// Package registrar turns the merged route manifest into live passthrough
// handlers. Routes are data: every entry is served by one generic relay
// handler parameterized by the entry, never by generated code.
package registrar

import "strings"

// uiPrefixes are path prefixes belonging to the vendor's own web UI.
// Registering them would shadow the gateway surface with asset routes
// that are useless without the rest of the UI.
var uiPrefixes = []string{
	"/static",
	"/assets",
	"/svelte",
	"/login",
	"/logout",
	"/gradio_api",
	"/theme",
	"/__",
}

// Exclusion reasons, used in logs and tests.
const (
	ReasonEmpty    = "empty or root path"
	ReasonParam    = "templated path parameter"
	ReasonDot      = "dot in path"
	ReasonUIPrefix = "vendor UI path"
	ReasonReserved = "path reserved by gateway"
)

// Excluded reports whether a manifest path must not be registered, and
// why. Paths with template parameters cannot be relayed verbatim; paths
// with dots are static assets like favicon.ico; the root and UI prefixes
// belong to the vendor's own interface.
func Excluded(path string) (bool, string) {
	if path == "" || path == "/" {
		return true, ReasonEmpty
	}
	if strings.ContainsAny(path, "{}") {
		return true, ReasonParam
	}
	if strings.Contains(path, ".") {
		return true, ReasonDot
	}
	for _, prefix := range uiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true, ReasonUIPrefix
		}
	}
	return false, ""
}
