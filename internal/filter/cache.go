package filter

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCacheTTL bounds how long a decision is reused. Strategies backed by
// reloadable files pick up changes after at most this long.
const DefaultCacheTTL = 30 * time.Second

// Cached memoizes the decisions of another filter
type Cached struct {
	inner     MeetingFilter
	decisions *cache.Cache
}

// NewCached wraps inner so each (email, topic) pair is evaluated at most
// once per ttl.
func NewCached(inner MeetingFilter, ttl time.Duration) *Cached {
	return &Cached{
		inner:     inner,
		decisions: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Select(email, topic string) bool {
	return c.remember("m\x00"+email+"\x00"+topic, func() bool {
		return c.inner.Select(email, topic)
	})
}

func (c *Cached) SelectUser(email string) bool {
	return c.remember("u\x00"+email, func() bool {
		return SelectUser(c.inner, email)
	})
}

func (c *Cached) remember(key string, decide func() bool) bool {
	if v, ok := c.decisions.Get(key); ok {
		return v.(bool)
	}
	selected := decide()
	c.decisions.SetDefault(key, selected)
	return selected
}

// Unwrap returns the wrapped filter
func (c *Cached) Unwrap() MeetingFilter {
	return c.inner
}

// Len is the number of cached decisions
func (c *Cached) Len() int {
	return c.decisions.ItemCount()
}

func (c *Cached) Close() error {
	c.decisions.Flush()
	return Close(c.inner)
}
