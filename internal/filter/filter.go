// Package filter decides which users and meetings a run picks up.
//
// A strategy is chosen once at startup by the Strategy.class config key.
// Strategies register a Factory under one or more names; New resolves the
// configured name and returns a ready filter.
package filter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
)

// MeetingFilter decides whether a meeting hosted by email with the given
// topic is selected. Implementations must be safe for concurrent use.
type MeetingFilter interface {
	Select(email, topic string) bool
}

// UserSelector is implemented by filters that can reject a user before any
// of their recordings are listed.
type UserSelector interface {
	SelectUser(email string) bool
}

// PathFormatter is implemented by filters that carry their own path format
type PathFormatter interface {
	FilepathFormat() config.FilepathFormatConfig
}

// Factory builds a strategy from the loaded configuration
type Factory func(cfg *config.Config) (MeetingFilter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a strategy available under name. Names are case-insensitive.
// Registering the same name twice panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	key := strings.ToLower(name)
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("filter: strategy %q registered twice", name))
	}
	registry[key] = factory
}

// Names lists the registered strategy names
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the strategy named by cfg.Strategy.Class and wraps it in a
// decision cache.
func New(cfg *config.Config) (MeetingFilter, error) {
	name := cfg.Strategy.Class
	if name == "" {
		name = DefaultStrategyName
	}

	registryMu.RLock()
	factory, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, config.Errorf("Strategy.class", "unknown strategy %q, known: %s", name, strings.Join(Names(), ", "))
	}

	f, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return NewCached(f, DefaultCacheTTL), nil
}

// SelectUser asks f whether email is worth enumerating. Filters that do not
// implement UserSelector accept every user.
func SelectUser(f MeetingFilter, email string) bool {
	if us, ok := f.(UserSelector); ok {
		return us.SelectUser(email)
	}
	return true
}

// FilepathFormat returns the path format carried by f or any filter it
// wraps. ok is false when none carries one.
func FilepathFormat(f MeetingFilter) (ff config.FilepathFormatConfig, ok bool) {
	for f != nil {
		if pf, ok := f.(PathFormatter); ok {
			return pf.FilepathFormat(), true
		}
		w, ok := f.(interface{ Unwrap() MeetingFilter })
		if !ok {
			break
		}
		f = w.Unwrap()
	}
	return ff, false
}

// Close releases resources held by f, if any
func Close(f MeetingFilter) error {
	if c, ok := f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
