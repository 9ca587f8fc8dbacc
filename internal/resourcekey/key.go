// Package resourcekey derives stable tenant keys from website URLs.
// All caching and persistence tiers are keyed by these values, so the
// derivation must be deterministic across processes and releases.
package resourcekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Default is the sentinel key used when no website URL is provided.
const Default = "default"

// keyLen is the number of hex characters kept from the digest.
// 64 bits of a cryptographic hash is collision-resistant for the
// number of tenants a single deployment will ever see.
const keyLen = 16

// Derive returns the resource key for a website URL.
// The function is total: an empty URL maps to the Default sentinel,
// everything else to a fixed-width hex digest of the normalized URL.
// URLs that differ only in scheme, case, or a trailing slash derive
// the same key.
func Derive(websiteURL string) string {
	normalized := Normalize(websiteURL)
	if normalized == "" {
		return Default
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:keyLen]
}

// Normalize lower-cases a website URL, strips the scheme and any
// trailing slash, and trims surrounding whitespace.
func Normalize(websiteURL string) string {
	s := strings.ToLower(strings.TrimSpace(websiteURL))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}
