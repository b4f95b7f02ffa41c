// Package glob compiles shell-style wildcard patterns into anchored,
// case-insensitive matchers.
//
//	*       any run of characters, including none
//	?       exactly one character
//	[seq]   one character in seq, ranges like a-z allowed
//	[!seq]  one character not in seq
//
// Everything else matches itself.
package glob

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher is a compiled pattern. It is safe for concurrent use.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile translates pattern into a fully anchored regular expression
func Compile(pattern string) (*Matcher, error) {
	var b strings.Builder
	b.WriteString("(?is)^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end, class, err := translateClass(runes, i)
			if err != nil {
				return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
			}
			b.WriteString(class)
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// translateClass converts the bracket expression starting at runes[open]
// and returns the index of its closing bracket.
func translateClass(runes []rune, open int) (int, string, error) {
	i := open + 1
	negate := false
	if i < len(runes) && runes[i] == '!' {
		negate = true
		i++
	}
	// a leading ] is a literal member
	start := i
	if i < len(runes) && runes[i] == ']' {
		i++
	}
	for i < len(runes) && runes[i] != ']' {
		i++
	}
	if i >= len(runes) {
		return 0, "", fmt.Errorf("unterminated character class at offset %d", open)
	}

	var b strings.Builder
	b.WriteByte('[')
	if negate {
		b.WriteByte('^')
	}
	for _, r := range runes[start:i] {
		switch r {
		case '\\', '[', ']', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte(']')
	return i, b.String(), nil
}

// MustCompile is like Compile but panics on a malformed pattern
func MustCompile(pattern string) *Matcher {
	m, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether subject matches the whole pattern
func (m *Matcher) Match(subject string) bool {
	return m.re.MatchString(subject)
}

func (m *Matcher) String() string {
	return m.pattern
}

// Match compiles pattern and matches it against subject. A malformed
// pattern never matches.
func Match(pattern, subject string) bool {
	m, err := Compile(pattern)
	if err != nil {
		return false
	}
	return m.Match(subject)
}

// Set is a list of matchers that matches when any member does
type Set []*Matcher

// CompileAll compiles every pattern, failing on the first malformed one
func CompileAll(patterns []string) (Set, error) {
	set := make(Set, 0, len(patterns))
	for _, p := range patterns {
		m, err := Compile(p)
		if err != nil {
			return nil, err
		}
		set = append(set, m)
	}
	return set, nil
}

// MatchAny reports whether subject matches at least one member
func (s Set) MatchAny(subject string) bool {
	for _, m := range s {
		if m.Match(subject) {
			return true
		}
	}
	return false
}
