// Package warming pre-loads a prioritized set of cache entries at
// application start. Tiers start on fixed delays measured from warmer
// start; items within a tier are fetched in parallel. Warming yields to
// poor network conditions (2G) and to active user interaction, and resumes
// by polling once conditions improve.
package warming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/shoplite/cachekit/pkg/cache"
	"github.com/shoplite/cachekit/pkg/netstate"
)

var (
	warmingRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopcache_warming_runs_total",
		Help: "Total number of cache warming runs",
	})

	warmingItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_warming_items_total",
		Help: "Warming item outcomes by status",
	}, []string{"status"}) // "warmed", "skipped", "failed"

	warmingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopcache_warming_duration_seconds",
		Help:    "Duration of complete warming runs in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ErrAlreadyRunning is returned by Start when a warming run is in progress.
// Use ForceStart to override the guard.
var ErrAlreadyRunning = errors.New("warming already in progress")

// Tier is a warming priority. Its value is the scheduling delay in
// milliseconds measured from warmer start.
type Tier int

const (
	TierCritical Tier = 0
	TierHigh     Tier = 500
	TierMedium   Tier = 1000
	TierLow      Tier = 2000
)

// tierOrder fixes relative ordering: CRITICAL before HIGH before MEDIUM
// before LOW.
var tierOrder = []Tier{TierCritical, TierHigh, TierMedium, TierLow}

// Delay returns the tier's minimum start delay from warmer start.
func (t Tier) Delay() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// String names the tier for logs and stats.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// Item is a single fetch-and-populate warming job.
type Item struct {
	// Key is the cache key to warm.
	Key string

	// Tier decides when the item is scheduled.
	Tier Tier

	// Fetch loads the value on a cold cache.
	Fetch cache.FetchFunc

	// TTL and Priority are passed through to the cache entry.
	TTL      time.Duration
	Priority cache.Priority

	// RequiresAuth items are skipped entirely (not retried later) when no
	// authenticated session exists when their tier is scheduled.
	RequiresAuth bool
}

// ItemStatus records the outcome of one warming item.
type ItemStatus string

const (
	StatusWarmed      ItemStatus = "warmed"
	StatusSkippedWarm ItemStatus = "skipped_already_warm"
	StatusSkippedAuth ItemStatus = "skipped_no_session"
	StatusFailed      ItemStatus = "failed"
)

// Stats is an introspection snapshot of the current or last warming run.
type Stats struct {
	Running    bool                  `json:"running"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Warmed     int                   `json:"warmed"`
	Skipped    int                   `json:"skipped"`
	Failed     int                   `json:"failed"`
	Items      map[string]ItemStatus `json:"items"`
}

// Config holds warmer construction options.
type Config struct {
	// Cache is the cache core to populate.
	Cache *cache.Service

	// Network, when set, pauses warming while the connection is 2G.
	Network netstate.Monitor

	// IsAuthenticated reports whether a user session exists. Nil means
	// never authenticated; RequiresAuth items are then always skipped.
	IsAuthenticated func() bool

	// PollInterval is the pause-resume polling period (default 500 ms).
	PollInterval time.Duration

	// Logger is the component logger. Zero value uses the global logger.
	Logger zerolog.Logger
}

// Warmer schedules the configured warming items against the cache core.
type Warmer struct {
	cache           *cache.Service
	isAuthenticated func() bool
	pollInterval    time.Duration
	logger          zerolog.Logger

	// delayFor is swapped in tests to compress tier delays.
	delayFor func(Tier) time.Duration

	mu          sync.Mutex
	items       []Item
	running     bool
	paused      bool
	interacting bool
	unsubscribe func()
	stats       Stats
}

// New creates a warmer and, when a network monitor is configured,
// subscribes to connection changes.
func New(cfg Config) *Warmer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	w := &Warmer{
		cache:           cfg.Cache,
		isAuthenticated: cfg.IsAuthenticated,
		pollInterval:    cfg.PollInterval,
		logger:          cfg.Logger,
		delayFor:        Tier.Delay,
	}

	if cfg.Network != nil {
		w.paused = cfg.Network.Current().IsSlow()
		w.unsubscribe = cfg.Network.Subscribe(w.onNetworkChange)
	}

	return w
}

// Add appends warming items. Items added while a run is in progress are
// picked up by the next run.
func (w *Warmer) Add(items ...Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, items...)
}

// Start runs the warming sequence and blocks until every tier has finished
// or ctx is done. A second Start while a run is in progress returns
// ErrAlreadyRunning.
func (w *Warmer) Start(ctx context.Context) error {
	return w.start(ctx, false)
}

// ForceStart runs the warming sequence even if the idempotency guard says a
// run is already in progress.
func (w *Warmer) ForceStart(ctx context.Context) error {
	return w.start(ctx, true)
}

func (w *Warmer) start(ctx context.Context, force bool) error {
	w.mu.Lock()
	if w.running && !force {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.stats = Stats{
		Running:   true,
		StartedAt: time.Now(),
		Items:     make(map[string]ItemStatus),
	}
	items := make([]Item, len(w.items))
	copy(items, w.items)
	w.mu.Unlock()

	warmingRunsTotal.Inc()
	startedAt := time.Now()
	authenticated := w.isAuthenticated != nil && w.isAuthenticated()

	w.logger.Info().
		Int("items", len(items)).
		Bool("authenticated", authenticated).
		Msg("Cache warming started")

	defer func() {
		w.mu.Lock()
		w.running = false
		w.stats.Running = false
		w.stats.FinishedAt = time.Now()
		stats := w.stats
		w.mu.Unlock()

		warmingDuration.Observe(time.Since(startedAt).Seconds())
		w.logger.Info().
			Int("warmed", stats.Warmed).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Dur("duration", time.Since(startedAt)).
			Msg("Cache warming finished")
	}()

	for _, tier := range tierOrder {
		tierItems := itemsForTier(items, tier)
		if len(tierItems) == 0 {
			continue
		}

		// Tier delays are measured from warmer start, not from the
		// previous tier's completion.
		if wait := w.delayFor(tier) - time.Since(startedAt); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := w.waitForResume(ctx); err != nil {
			return err
		}

		w.logger.Debug().
			Stringer("tier", tier).
			Int("items", len(tierItems)).
			Msg("Warming tier")

		var wg sync.WaitGroup
		for _, item := range tierItems {
			wg.Add(1)
			go func(item Item) {
				defer wg.Done()
				w.warmItem(ctx, item, authenticated)
			}(item)
		}
		wg.Wait()
	}

	return nil
}

// warmItem fetches and caches one item, recording its outcome.
func (w *Warmer) warmItem(ctx context.Context, item Item, authenticated bool) {
	if item.RequiresAuth && !authenticated {
		w.record(item.Key, StatusSkippedAuth)
		return
	}

	if w.cache.Has(ctx, item.Key) {
		w.record(item.Key, StatusSkippedWarm)
		return
	}

	value, err := item.Fetch(ctx)
	if err != nil {
		w.record(item.Key, StatusFailed)
		w.logger.Warn().Err(err).Str("key", item.Key).Msg("Warming fetch failed")
		return
	}

	if !w.cache.Set(ctx, item.Key, value, cache.Options{
		TTL:      item.TTL,
		Priority: item.Priority,
	}) {
		w.record(item.Key, StatusFailed)
		return
	}

	w.record(item.Key, StatusWarmed)
}

func (w *Warmer) record(key string, status ItemStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Items[key] = status
	switch status {
	case StatusWarmed:
		w.stats.Warmed++
		warmingItemsTotal.WithLabelValues("warmed").Inc()
	case StatusFailed:
		w.stats.Failed++
		warmingItemsTotal.WithLabelValues("failed").Inc()
	default:
		w.stats.Skipped++
		warmingItemsTotal.WithLabelValues("skipped").Inc()
	}
}

// waitForResume polls the pause flags until warming may proceed. No
// in-flight work is aborted; warming just stops launching new fetches.
func (w *Warmer) waitForResume(ctx context.Context) error {
	for {
		w.mu.Lock()
		blocked := w.paused || w.interacting
		w.mu.Unlock()
		if !blocked {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// onNetworkChange pauses warming on 2G-grade connections and resumes when
// conditions improve.
func (w *Warmer) onNetworkChange(s netstate.State) {
	w.mu.Lock()
	was := w.paused
	w.paused = s.IsSlow()
	now := w.paused
	w.mu.Unlock()

	if was != now {
		w.logger.Info().
			Bool("paused", now).
			Str("effective_type", s.EffectiveType).
			Msg("Warming pause state changed")
	}
}

// NotifyInteraction reports foreground user interaction (scrolling,
// typing). Warming yields while interaction is active.
func (w *Warmer) NotifyInteraction(active bool) {
	w.mu.Lock()
	w.interacting = active
	w.mu.Unlock()
}

// Paused reports whether warming is currently yielding.
func (w *Warmer) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused || w.interacting
}

// Stats returns a snapshot of the current or last warming run.
func (w *Warmer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats := w.stats
	stats.Items = make(map[string]ItemStatus, len(w.stats.Items))
	for k, v := range w.stats.Items {
		stats.Items[k] = v
	}
	return stats
}

// Destroy unregisters the network listener and clears all in-memory state.
// The warmer must not be reused afterwards.
func (w *Warmer) Destroy() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.items = nil
	w.stats = Stats{}
	w.paused = false
	w.interacting = false
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func itemsForTier(items []Item, tier Tier) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Tier == tier {
			out = append(out, item)
		}
	}
	return out
}
