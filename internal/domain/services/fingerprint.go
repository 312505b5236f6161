// Package services contains domain business logic.
package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ersonp/minutes-core/internal/domain/entities"
	"github.com/ersonp/minutes-core/internal/domain/ports"
)

// Fingerprint returns a deterministic hex digest over the given parts.
// Parts are length-delimited before hashing so ("ab","c") and ("a","bc")
// produce different digests.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		var lenBuf [8]byte
		n := len(p)
		for i := 7; i >= 0; i-- {
			lenBuf[i] = byte(n)
			n >>= 8
		}
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalAttributes serializes an attribute map into a deterministic form
// for fingerprinting: keys lowercased and sorted, values untouched. The
// canonicalization is syntactic only; it makes cosmetically reordered or
// re-cased payloads hash identically, but never rewrites attribute values.
func CanonicalAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(attrs))
	byKey := make(map[string]string, len(attrs))
	for k, v := range attrs {
		lk := strings.ToLower(strings.TrimSpace(k))
		keys = append(keys, lk)
		byKey[lk] = v
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteJSON(k))
		b.WriteByte(':')
		b.WriteString(quoteJSON(byKey[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// StateFingerprint derives the cache key for a (prior, candidate) state pair.
func StateFingerprint(prior, candidate *entities.EntityState) string {
	priorCanon := "{}"
	if prior != nil {
		priorCanon = CanonicalAttributes(prior.Attributes)
	}
	return Fingerprint("compare", priorCanon, CanonicalAttributes(candidate.Attributes))
}

// requestFingerprint derives the cache key for a logical inference request.
// The chosen backend is deliberately excluded: once any backend has answered
// a request, every backend is considered to have answered it.
func requestFingerprint(req ports.InferenceRequest) string {
	structured := "0"
	if req.JSONOutput {
		structured = "1"
	}
	return Fingerprint("infer", req.System, req.Prompt, structured)
}

// quoteJSON escapes a string as a minimal JSON string literal. Attribute
// keys and values are plain text; the full escape table of encoding/json is
// unnecessary for a hash input, but quotes and backslashes must not collide.
func quoteJSON(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
