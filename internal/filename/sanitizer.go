// Package filename turns recording metadata into destination paths
package filename

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultComponent replaces a value that sanitizes to nothing
	DefaultComponent = "untitled"

	// MaxComponentBytes keeps a single value well under the 255 byte name
	// limit of common filesystems once the template adds its own text
	MaxComponentBytes = 150
)

// reserved characters are unsafe in a path component on at least one of
// the filesystems recordings end up on
const reserved = `/\:*?"<>|`

// cleanup builds a fresh chain per call; a chain keeps state between calls
func cleanup() transform.Transformer {
	return transform.Chain(norm.NFC, runes.Remove(runes.Predicate(unsafeRune)))
}

func unsafeRune(r rune) bool {
	return unicode.IsControl(r) || strings.ContainsRune(reserved, r)
}

// SanitizeComponent makes a metadata value safe to use inside a single path
// component. Reserved characters and control characters are dropped, the
// result is NFC normalized, and leading or trailing dots and spaces are
// trimmed so the value can never become "." or "..". An empty result is
// DefaultComponent.
func SanitizeComponent(value string) string {
	cleaned, _, err := transform.String(cleanup(), value)
	if err != nil {
		cleaned = strings.Map(func(r rune) rune {
			if unsafeRune(r) {
				return -1
			}
			return r
		}, value)
	}

	cleaned = truncate(cleaned, MaxComponentBytes)
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return DefaultComponent
	}
	return cleaned
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
