// Package silo scopes shared upstream resource names per caller.
//
// Concurrent callers of the vendor service share its filesystem-backed
// resources (speaker folders, stored voice latents). Prefixing the names a
// caller chooses with a short digest of their identifier keeps callers
// from colliding, without ever forwarding the raw identifier upstream.
package silo

import (
	"context"
	"crypto/md5" //nolint:gosec // namespacing, not a security boundary
	"encoding/hex"
	"strings"
)

// DefaultKey is the sentinel for anonymous callers. It is a literal, never
// a hash: resources keyed by "default" are shared across anonymous callers
// by design, so hashing it would silently break that sharing.
const DefaultKey = "default"

// keyLength is the number of hex characters kept from the digest.
// Collision risk at this length is acceptable for namespacing.
const keyLength = 16

// DeriveKey derives a fixed-length, non-reversible key from a caller
// identifier. Same input, same key. An absent identifier yields the
// literal DefaultKey. The raw identifier may be a sensitive session token
// and is never returned.
func DeriveKey(raw string) string {
	if raw == "" || raw == DefaultKey {
		return DefaultKey
	}
	sum := md5.Sum([]byte(raw)) //nolint:gosec // see package comment
	return hex.EncodeToString(sum[:])[:keyLength]
}

// Apply rewrites the named fields of a payload in place, prefixing bare
// resource names with the caller key. Values that already look like paths
// (leading /) or composite references (containing |) are left untouched:
// those resolve to specific stored resources and must not be renamed.
func Apply(payload map[string]any, fields []string, key string) {
	for _, field := range fields {
		value, ok := payload[field].(string)
		if !ok || value == "" {
			continue
		}
		if strings.HasPrefix(value, "/") || strings.Contains(value, "|") {
			continue
		}
		payload[field] = key + "_" + value
	}
}

type contextKey struct{}

// ContextWithKey stores the caller's silo key in the request context. The
// key must be request-scoped: it is set once at request entry and travels
// only with this context, so concurrent requests cannot observe each
// other's keys.
func ContextWithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// KeyFromContext returns the caller's silo key, or DefaultKey when the
// request carried no identifier.
func KeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(contextKey{}).(string); ok && key != "" {
		return key
	}
	return DefaultKey
}
