// Package keygen derives content-addressable cache keys. A key is the
// SHA-256 hex digest of the rendered source (optionally mixed with a
// canonical serialization of render context, e.g. font settings) followed
// by an entry-type suffix, so identical inputs always map to the same key
// and different render configurations never collide.
package keygen

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
)

// Key returns the cache key for content rendered as entryType:
// "<sha256 hex>_<entryType>".
func Key(content []byte, entryType string) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]) + "_" + entryType
}

// KeyWithContext returns the cache key for content rendered as entryType
// under the given render context. Context fields are serialized
// canonically (sorted by field name) before hashing, so two semantically
// identical contexts always produce the same key regardless of map order.
// A nil or empty context is equivalent to calling [Key].
func KeyWithContext(content []byte, entryType string, context map[string]string) string {
	if len(context) == 0 {
		return Key(content, entryType)
	}

	h := sha256.New()
	h.Write(content)
	h.Write([]byte(canonicalize(context)))

	return hex.EncodeToString(h.Sum(nil)) + "_" + entryType
}

// canonicalize serializes context as "|k=v;k=v;..." with keys sorted.
// The leading separator keeps plain content and content-plus-empty-context
// from ever sharing a digest input.
func canonicalize(context map[string]string) string {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteByte('|')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(context[k])
	}
	return b.String()
}
