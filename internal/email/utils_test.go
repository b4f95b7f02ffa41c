package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalPart(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected string
	}{
		{"address", "alice@example.com", "alice"},
		{"no at sign", "alice", "alice"},
		{"empty", "", ""},
		{"at sign first", "@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LocalPart(tt.addr))
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected bool
	}{
		{"valid email", "john.doe@company.com", true},
		{"valid email with plus", "user+tag@example.org", true},
		{"valid email with underscores", "first_last@example_domain.com", true},
		{"empty email", "", false},
		{"invalid email - no @", "invalid-email", false},
		{"invalid email - no domain", "user@", false},
		{"invalid email - multiple @", "user@@domain.com", false},
		{"email with trailing space", "user@domain.com ", false},
		{"too long email", strings.Repeat("a", 325) + "@domain.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidEmail(tt.email))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "bob@acme.com", Normalize("  Bob@Acme.COM "))
}
