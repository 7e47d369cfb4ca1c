// Package gamification is a domain façade over the cache core for the
// gamification resources (leaderboards, achievements, challenges, stats,
// coin balance). It adds a short-lived in-process memory tier in front of
// the persistent cache (a leaderboard is read many times per second during
// active play, and a persistent-store round trip is disproportionately
// expensive for a payload that volatile), plus debounced and throttled
// invalidation helpers that protect the store from invalidation storms.
//
// The same pattern applies to any domain with hot, narrowly-scoped
// resources; gamification is simply the first consumer.
package gamification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoplite/cachekit/pkg/cache"
	"github.com/shoplite/cachekit/pkg/ratelimit"
)

// Per-resource TTL policy. Product-tunable constants, not computed.
const (
	// MemoryTTL bounds the in-process tier.
	MemoryTTL = 60 * time.Second

	LeaderboardTTL  = 5 * time.Minute
	AchievementsTTL = 10 * time.Minute
	ChallengesTTL   = 5 * time.Minute
	StatsTTL        = 3 * time.Minute
	CoinBalanceTTL  = 2 * time.Minute

	// leaderboardQuiet and coinQuiet coalesce bursts of invalidations
	// triggered by rapid game completions and coin transactions.
	leaderboardQuiet = 2 * time.Second
	coinQuiet        = 1 * time.Second

	// challengesInterval throttles challenge invalidations; challenge
	// staleness tolerance is high and the flush is comparatively expensive.
	challengesInterval = 10 * time.Second
)

type memEntry struct {
	data    json.RawMessage
	expires time.Time
}

// Cache is the gamification cache façade.
//
// Rate-limiter state is per-instance: two Cache values never share debounce
// timers or throttle windows, so instances in tests cannot interfere.
type Cache struct {
	core   *cache.Service
	logger zerolog.Logger

	mu     sync.Mutex
	mem    map[string]memEntry
	memTTL time.Duration
	now    func() time.Time

	leaderboardLimiter *ratelimit.Debouncer
	coinLimiter        *ratelimit.Debouncer
	challengesLimiter  *ratelimit.Throttler
}

// Config holds façade construction options.
type Config struct {
	// MemoryTTL overrides the memory-tier TTL (default MemoryTTL).
	MemoryTTL time.Duration

	// Logger is the component logger.
	Logger zerolog.Logger
}

// New creates a façade over the given cache core.
func New(core *cache.Service, cfg Config) *Cache {
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = MemoryTTL
	}
	return &Cache{
		core:               core,
		logger:             cfg.Logger,
		mem:                make(map[string]memEntry),
		memTTL:             cfg.MemoryTTL,
		now:                time.Now,
		leaderboardLimiter: ratelimit.NewDebouncer(leaderboardQuiet),
		coinLimiter:        ratelimit.NewDebouncer(coinQuiet),
		challengesLimiter:  ratelimit.NewThrottler(challengesInterval),
	}
}

// Resource keys.
func leaderboardKey(period string) string { return "leaderboard:" + period }
func achievementsKey(userID string) string { return "achievements:" + userID }
func statsKey(userID string) string        { return "gamification:stats:" + userID }
func coinsKey(userID string) string        { return "coins:" + userID }

const challengesKey = "challenges:active"

// Leaderboard loads the leaderboard for a period ("daily", "weekly", ...).
func (c *Cache) Leaderboard(ctx context.Context, period string, dest any, fetch cache.FetchFunc) bool {
	return c.get(ctx, leaderboardKey(period), LeaderboardTTL, cache.PriorityHigh, dest, fetch)
}

// Achievements loads a user's achievements.
func (c *Cache) Achievements(ctx context.Context, userID string, dest any, fetch cache.FetchFunc) bool {
	return c.get(ctx, achievementsKey(userID), AchievementsTTL, cache.PriorityMedium, dest, fetch)
}

// Challenges loads the active challenge list.
func (c *Cache) Challenges(ctx context.Context, dest any, fetch cache.FetchFunc) bool {
	return c.get(ctx, challengesKey, ChallengesTTL, cache.PriorityMedium, dest, fetch)
}

// Stats loads a user's aggregate gamification stats.
func (c *Cache) Stats(ctx context.Context, userID string, dest any, fetch cache.FetchFunc) bool {
	return c.get(ctx, statsKey(userID), StatsTTL, cache.PriorityMedium, dest, fetch)
}

// CoinBalance loads a user's coin balance.
func (c *Cache) CoinBalance(ctx context.Context, userID string, dest any, fetch cache.FetchFunc) bool {
	return c.get(ctx, coinsKey(userID), CoinBalanceTTL, cache.PriorityHigh, dest, fetch)
}

// get is the read path: memory tier, then cache core, then fetch and
// populate both. All failures degrade to a false return.
func (c *Cache) get(ctx context.Context, key string, ttl time.Duration, priority cache.Priority, dest any, fetch cache.FetchFunc) bool {
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.mem[key]; ok {
		if now.Before(entry.expires) {
			data := entry.data
			c.mu.Unlock()
			if err := json.Unmarshal(data, dest); err == nil {
				cache.CacheHits.WithLabelValues("memory").Inc()
				return true
			}
			// Fall through to the core on a decode failure.
			c.mu.Lock()
		}
		delete(c.mem, key)
	}
	c.mu.Unlock()

	var raw json.RawMessage
	if c.core.Get(ctx, key, &raw) {
		c.putMemory(key, raw)
		return json.Unmarshal(raw, dest) == nil
	}

	if fetch == nil {
		return false
	}

	value, err := fetch(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Gamification fetch failed")
		return false
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return false
	}

	c.core.Set(ctx, key, value, cache.Options{TTL: ttl, Priority: priority})
	c.putMemory(key, encoded)
	return json.Unmarshal(encoded, dest) == nil
}

func (c *Cache) putMemory(key string, data json.RawMessage) {
	c.mu.Lock()
	c.mem[key] = memEntry{data: data, expires: c.now().Add(c.memTTL)}
	c.mu.Unlock()
}

func (c *Cache) dropMemory(prefix string) {
	c.mu.Lock()
	for key := range c.mem {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.mem, key)
		}
	}
	c.mu.Unlock()
}

// InvalidateLeaderboard schedules a debounced flush of every leaderboard
// period. Bursts of game completions collapse into one invalidation after
// the quiet period.
func (c *Cache) InvalidateLeaderboard() {
	c.leaderboardLimiter.Do(func() {
		ctx := context.Background()
		c.dropMemory("leaderboard:")
		removed := c.core.InvalidatePattern(ctx, "leaderboard:*")
		c.logger.Debug().Int("removed", removed).Msg("Leaderboard invalidated")
	})
}

// InvalidateCoinBalance schedules a debounced flush of a user's coin
// balance after a transaction burst settles.
func (c *Cache) InvalidateCoinBalance(userID string) {
	key := coinsKey(userID)
	c.coinLimiter.Do(func() {
		ctx := context.Background()
		c.dropMemory(key)
		c.core.Remove(ctx, key)
		c.logger.Debug().Str("key", key).Msg("Coin balance invalidated")
	})
}

// InvalidateChallenges flushes the challenge list at most once per
// throttle interval; extra triggers inside the window are dropped.
func (c *Cache) InvalidateChallenges() bool {
	return c.challengesLimiter.Do(func() {
		ctx := context.Background()
		c.dropMemory(challengesKey)
		c.core.Remove(ctx, challengesKey)
		c.logger.Debug().Msg("Challenges invalidated")
	})
}

// InvalidateUser immediately flushes every per-user resource. Used on
// logout and profile resets, where staleness is not acceptable.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) {
	for _, key := range []string{achievementsKey(userID), statsKey(userID), coinsKey(userID)} {
		c.dropMemory(key)
		c.core.Remove(ctx, key)
	}
}

// Loaders carries the per-resource fetchers Preload runs. Nil loaders are
// skipped.
type Loaders struct {
	// LeaderboardPeriod selects the leaderboard to preload (default "weekly").
	LeaderboardPeriod string

	Leaderboard  cache.FetchFunc
	Achievements cache.FetchFunc
	Challenges   cache.FetchFunc
	Stats        cache.FetchFunc
	CoinBalance  cache.FetchFunc
}

// Preload runs the configured loaders in parallel. It is invoked by the
// consuming feature at its own call site (e.g. opening the games hub), not
// automatically at app start; that is the global warmer's job.
func (c *Cache) Preload(ctx context.Context, userID string, loaders Loaders) {
	period := loaders.LeaderboardPeriod
	if period == "" {
		period = "weekly"
	}

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if loaders.Leaderboard != nil {
		run(func() {
			var out json.RawMessage
			c.Leaderboard(ctx, period, &out, loaders.Leaderboard)
		})
	}
	if loaders.Achievements != nil {
		run(func() {
			var out json.RawMessage
			c.Achievements(ctx, userID, &out, loaders.Achievements)
		})
	}
	if loaders.Challenges != nil {
		run(func() {
			var out json.RawMessage
			c.Challenges(ctx, &out, loaders.Challenges)
		})
	}
	if loaders.Stats != nil {
		run(func() {
			var out json.RawMessage
			c.Stats(ctx, userID, &out, loaders.Stats)
		})
	}
	if loaders.CoinBalance != nil {
		run(func() {
			var out json.RawMessage
			c.CoinBalance(ctx, userID, &out, loaders.CoinBalance)
		})
	}

	wg.Wait()
}

// Destroy stops the rate limiters and clears the memory tier.
func (c *Cache) Destroy() {
	c.leaderboardLimiter.Stop()
	c.coinLimiter.Stop()

	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()
}
