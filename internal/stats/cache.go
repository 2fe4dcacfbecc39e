// Package stats fetches coding statistics through a local cache and turns
// them into dashboard trends, charts and insights.
//
// Historical ranges never change once the day is over, so [Cache.FetchRange]
// keeps them for a long time. A range that touches the current UTC day is
// still growing and always goes to the network.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/api"
	"github.com/hackclub/hackatime-desktop/internal/auth"
)

// ErrRemoteFetchFailed wraps any failure of the remote statistics endpoints.
var ErrRemoteFetchFailed = errors.New("remote statistics fetch failed")

// dateLayout is the YYYY-MM-DD form the service uses for range bounds.
const dateLayout = "2006-01-02"

// KV is the cache backing. *store.Store implements it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Remote is the statistics API. *api.Client implements it.
type Remote interface {
	Hours(ctx context.Context, token, start, end string) (api.Hours, error)
	Streak(ctx context.Context, token string) (api.Streak, error)
}

// TokenSource exposes the current bearer token. *auth.Store implements it.
// WhileCurrent must exclude a logout for the duration of fn, so a cache
// write for a token never lands after that token's logout cleared the cache.
type TokenSource interface {
	AccessToken() (string, bool)
	WhileCurrent(token string, fn func()) bool
}

// Options configures a [Cache].
type Options struct {
	KV     KV
	Remote Remote
	Tokens TokenSource
	// RangeTTL is how long a historical range stays cached.
	RangeTTL time.Duration
	// StreakTTL is how long the per-day streak entry stays cached.
	StreakTTL time.Duration
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Cache serves statistics, consulting KV before the network.
type Cache struct {
	kv        KV
	remote    Remote
	tokens    TokenSource
	rangeTTL  time.Duration
	streakTTL time.Duration
	now       func() time.Time
}

// NewCache creates a Cache. A nil KV disables caching.
func NewCache(opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		kv:        opts.KV,
		remote:    opts.Remote,
		tokens:    opts.Tokens,
		rangeTTL:  opts.RangeTTL,
		streakTTL: opts.StreakTTL,
		now:       now,
	}
}

// Today returns the current UTC date as YYYY-MM-DD.
func (c *Cache) Today() string {
	return c.now().UTC().Format(dateLayout)
}

// FetchRange returns coding time between start and end inclusive, both
// YYYY-MM-DD. A range with either bound on today's UTC date is never read
// from or written to the cache.
func (c *Cache) FetchRange(ctx context.Context, start, end string) (api.Hours, error) {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return api.Hours{}, auth.ErrAuthenticationRequired
	}

	today := c.Today()
	live := start == today || end == today
	key := "hours:" + start + ":" + end

	if !live {
		if h, ok := lookup[api.Hours](ctx, c.kv, key); ok {
			slog.Debug("stats cache hit", "key", key)
			return h, nil
		}
	}

	h, err := c.remote.Hours(ctx, token, start, end)
	if err != nil {
		return api.Hours{}, fmt.Errorf("%w: hours %s..%s: %w", ErrRemoteFetchFailed, start, end, err)
	}

	if !live {
		c.saveFor(ctx, token, key, h, c.rangeTTL)
	}
	return h, nil
}

// FetchStreak returns the current and longest streak. The value is cached
// under a key that includes today's UTC date, so it refreshes when the day
// rolls over.
func (c *Cache) FetchStreak(ctx context.Context) (api.Streak, error) {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return api.Streak{}, auth.ErrAuthenticationRequired
	}

	key := "streak:" + c.Today()
	if s, ok := lookup[api.Streak](ctx, c.kv, key); ok {
		slog.Debug("stats cache hit", "key", key)
		return s, nil
	}

	s, err := c.remote.Streak(ctx, token)
	if err != nil {
		return api.Streak{}, fmt.Errorf("%w: streak: %w", ErrRemoteFetchFailed, err)
	}
	c.saveFor(ctx, token, key, s, c.streakTTL)
	return s, nil
}

// ///////////////////////////////////////////////
// Cache Helpers
// ///////////////////////////////////////////////

// lookup decodes a cached value. Read errors and undecodable values count
// as misses.
func lookup[T any](ctx context.Context, kv KV, key string) (T, bool) {
	var v T
	if kv == nil {
		return v, false
	}
	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		slog.Warn("stats cache read failed", "key", key, "error", err)
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return v, false
	}
	return v, true
}

// saveFor stores v only while token is still logged in. A result fetched
// for a token that has since logged out is returned but not cached.
func (c *Cache) saveFor(ctx context.Context, token, key string, v any, ttl time.Duration) {
	if c.kv == nil {
		return
	}
	if !c.tokens.WhileCurrent(token, func() { save(ctx, c.kv, key, v, ttl) }) {
		slog.Debug("stats cache write skipped, login changed", "key", key)
	}
}

// save stores v, logging failures.
func save(ctx context.Context, kv KV, key string, v any, ttl time.Duration) {
	if kv == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("stats cache encode failed", "key", key, "error", err)
		return
	}
	if err := kv.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("stats cache write failed", "key", key, "error", err)
	}
}
