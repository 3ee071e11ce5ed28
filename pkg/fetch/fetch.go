// Package fetch orchestrates reads against the tiered store and a
// caller-supplied data source. Three strategies are implemented:
//
//   - cache-first: serve the cache, fall back to the fetcher.
//   - network-first: try the fetcher, fall back to the cache.
//   - stale-while-revalidate: serve the cache immediately and refresh it
//     in the background.
//
// Keys matching an exclude pattern bypass the store entirely, so
// sensitive data (auth/session payloads) never lands in a persistent
// tier.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hackforge/cachekit/pkg/cache"
	"github.com/hackforge/cachekit/pkg/online"
)

var nopLogger = zap.NewNop()

// Fetcher is the caller-supplied data source, typically a network call.
// The coordinator never inspects its result beyond success/failure.
type Fetcher func(ctx context.Context) ([]byte, error)

type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Profile bundles the per-domain fetch settings resolved from config.
type Profile struct {
	Strategy   Strategy
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type Opts struct {
	// Store cannot be nil.
	Store cache.Store

	// Oracle reports connectivity. Nil means always online.
	Oracle online.Oracle

	// ExcludePatterns are case-insensitive regexps matched against keys.
	// A matching key is never cached; every strategy degrades to a direct
	// fetcher call.
	ExcludePatterns []string

	// Profiles maps a domain tag to its fetch settings for DoProfile.
	Profiles map[string]Profile

	// Coalesce deduplicates concurrent background revalidations per key.
	// Off by default: redundant refreshes are harmless, and callers that
	// care opt in.
	Coalesce bool

	// BackgroundTimeout bounds a background revalidation. Default 5s.
	BackgroundTimeout time.Duration

	// Logger for background failures. A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Store == nil {
		return errors.New("nil store")
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = time.Second * 5
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type Coordinator struct {
	opts    Opts
	spawner *Spawner
	revalSF singleflight.Group

	mu       sync.RWMutex
	exclude  []*regexp.Regexp
	profiles map[string]Profile
}

func NewCoordinator(opts Opts) (*Coordinator, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		opts:     opts,
		spawner:  NewSpawner(opts.Logger),
		profiles: opts.Profiles,
	}
	if err := c.SetExcludePatterns(opts.ExcludePatterns); err != nil {
		return nil, err
	}
	return c, nil
}

// SetExcludePatterns replaces the exclude list. Patterns are compiled
// case-insensitively. Used by config hot reload.
func (c *Coordinator) SetExcludePatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("bad exclude pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	c.mu.Lock()
	c.exclude = compiled
	c.mu.Unlock()
	return nil
}

// SetProfiles replaces the profile table. Used by config hot reload.
func (c *Coordinator) SetProfiles(profiles map[string]Profile) {
	c.mu.Lock()
	c.profiles = profiles
	c.mu.Unlock()
}

func (c *Coordinator) excluded(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, re := range c.exclude {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

func (c *Coordinator) online() bool {
	if c.opts.Oracle == nil {
		return true
	}
	return c.opts.Oracle.Online()
}

// Do runs one fetch for key under the given strategy. Fetcher errors
// surface unwrapped; the only error Do synthesizes itself is ErrNoSource.
func (c *Coordinator) Do(ctx context.Context, key string, f Fetcher, strategy Strategy, ttl time.Duration) ([]byte, error) {
	if c.excluded(key) {
		return f(ctx)
	}

	switch strategy {
	case CacheFirst:
		return c.cacheFirst(ctx, key, f, ttl)
	case NetworkFirst:
		return c.networkFirst(ctx, key, f, ttl)
	case StaleWhileRevalidate:
		return c.staleWhileRevalidate(ctx, key, f, ttl)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// DoProfile is Do with settings looked up from the profile table, with
// retries applied when the profile asks for them.
func (c *Coordinator) DoProfile(ctx context.Context, tag, key string, f Fetcher) ([]byte, error) {
	c.mu.RLock()
	p, ok := c.profiles[tag]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, tag)
	}

	if p.MaxRetries > 0 {
		f = WithRetry(f, p.MaxRetries, p.RetryDelay)
	}
	return c.Do(ctx, key, f, p.Strategy, p.TTL)
}

func (c *Coordinator) cacheFirst(ctx context.Context, key string, f Fetcher, ttl time.Duration) ([]byte, error) {
	if v, ok := c.opts.Store.Get(key); ok {
		return v, nil
	}

	v, err := f(ctx)
	if err != nil {
		return nil, err
	}
	c.opts.Store.Set(key, v, ttl)
	return v, nil
}

func (c *Coordinator) networkFirst(ctx context.Context, key string, f Fetcher, ttl time.Duration) ([]byte, error) {
	if !c.online() {
		if v, ok := c.opts.Store.Get(key); ok {
			return v, nil
		}
		return nil, ErrNoSource
	}

	v, err := f(ctx)
	if err != nil {
		// Fetch failed with the network nominally up. Serve the cached
		// copy if there is one; otherwise the caller gets the original
		// error, not a wrapped one.
		if cached, ok := c.opts.Store.Get(key); ok {
			c.opts.Logger.Debug("network-first falling back to cache", zap.String("key", key), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	c.opts.Store.Set(key, v, ttl)
	return v, nil
}

func (c *Coordinator) staleWhileRevalidate(ctx context.Context, key string, f Fetcher, ttl time.Duration) ([]byte, error) {
	if v, ok := c.opts.Store.Get(key); ok {
		if c.online() {
			c.revalidate(key, f, ttl)
		}
		return v, nil
	}

	if !c.online() {
		return nil, ErrNoSource
	}

	v, err := f(ctx)
	if err != nil {
		return nil, err
	}
	c.opts.Store.Set(key, v, ttl)
	return v, nil
}

// revalidate refreshes key in the background. The task carries its own
// timeout and its error is logged and dropped; it can never reach the
// caller that triggered it.
func (c *Coordinator) revalidate(key string, f Fetcher, ttl time.Duration) {
	run := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.BackgroundTimeout)
		defer cancel()
		v, err := f(ctx)
		if err != nil {
			return err
		}
		c.opts.Store.Set(key, v, ttl)
		return nil
	}

	if !c.opts.Coalesce {
		c.spawner.Spawn("revalidate "+key, run)
		return
	}

	// One in-flight refresh per key; concurrent triggers piggyback.
	c.spawner.Spawn("revalidate "+key, func() error {
		_, err, _ := c.revalSF.Do(key, func() (any, error) {
			defer c.revalSF.Forget(key)
			return nil, run()
		})
		return err
	})
}

// WaitIdle blocks until in-flight background revalidations finish. Test
// hook.
func (c *Coordinator) WaitIdle() {
	c.spawner.WaitIdle()
}
