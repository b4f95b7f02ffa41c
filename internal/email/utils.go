// Package email provides utilities for email address handling
package email

import (
	"regexp"
	"strings"
)

// Same shape the Zoom user list accepts for login emails
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9._-]+\.[a-zA-Z]{2,}$`)

// maxLength is the RFC 5321 path limit
const maxLength = 320

// LocalPart returns everything before the first @, or addr itself when it
// has none. It does not validate addr.
func LocalPart(addr string) string {
	local, _, _ := strings.Cut(addr, "@")
	return local
}

// IsValidEmail performs basic email validation
func IsValidEmail(addr string) bool {
	if addr == "" || len(addr) > maxLength {
		return false
	}
	// Surrounding whitespace is a copy/paste error, not part of the address
	if strings.TrimSpace(addr) != addr {
		return false
	}
	return emailRegex.MatchString(addr)
}

// Normalize trims and lower-cases addr for case-insensitive comparison
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
