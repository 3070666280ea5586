// Package sanitize turns free text into feature directory names and checks
// user-supplied names and paths before they reach the filesystem.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxFeatureLength bounds feature directory names.
	MaxFeatureLength = 64

	// HashSuffixLength is the length of the "-<8 hex>" suffix added on truncation.
	HashSuffixLength = 9
)

// FeatureSlug converts s (a branch name, a ticket title) into a feature name.
// Letters keep their case; runs of anything outside [A-Za-z0-9._-] become a
// single hyphen. An empty result yields "".
//
//	"feature/Checkout Flow" -> "feature-Checkout-Flow"
//	"  ###  "               -> ""
func FeatureSlug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	for strings.Contains(slug, "..") {
		slug = strings.ReplaceAll(slug, "..", ".")
	}
	slug = strings.Trim(slug, "-.")

	if len(slug) > MaxFeatureLength {
		slug = truncateWithHash(slug)
	}
	return slug
}

// truncateWithHash keeps distinct long names distinct after truncation.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "-" + hex.EncodeToString(hash[:])[:8]
	return strings.TrimRight(s[:MaxFeatureLength-HashSuffixLength], "-.") + suffix
}
