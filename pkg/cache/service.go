package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shoplite/cachekit/pkg/codec"
	"github.com/shoplite/cachekit/pkg/store"
)

const (
	// DefaultTTL is used when Options.TTL is zero.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxBytes caps the total persisted payload size.
	DefaultMaxBytes = 50 * 1024 * 1024

	// DefaultMaxEntries caps the number of cached entries.
	DefaultMaxEntries = 1000

	// DefaultVersion is the current entry schema version. Entries written
	// with a different version are treated as misses and purged on read.
	DefaultVersion = "1"

	// evictTargetRatio is the fill level eviction sweeps down to.
	evictTargetRatio = 0.8

	// storeKeyPrefix namespaces entry payloads within the shared store.
	storeKeyPrefix = "cache:entry:"

	// indexStoreKey is where the metadata index is persisted.
	indexStoreKey = "cache:index"
)

// Options control a single Set operation.
type Options struct {
	// TTL is the entry lifespan. Zero means DefaultTTL.
	TTL time.Duration

	// Priority is the eviction-resistance rank. Zero value is PriorityLow.
	Priority Priority

	// Compress forces compression regardless of payload size.
	Compress bool

	// Version overrides the service schema version for this entry.
	Version string
}

// FetchFunc loads a value from its source of truth on a cache miss or a
// background revalidation.
type FetchFunc func(ctx context.Context) (any, error)

// Config holds cache service configuration.
type Config struct {
	// MaxBytes caps total persisted payload size. Zero means DefaultMaxBytes.
	MaxBytes int64

	// MaxEntries caps the entry count. Zero means DefaultMaxEntries.
	MaxEntries int

	// Version is the schema version written to new entries.
	Version string

	// Logger is the component logger. Zero value uses the global logger.
	Logger zerolog.Logger
}

// DefaultConfig returns the standard cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxBytes:   DefaultMaxBytes,
		MaxEntries: DefaultMaxEntries,
		Version:    DefaultVersion,
		Logger:     log.With().Str("component", "cache").Logger(),
	}
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
}

// HitRate returns hits / (hits + misses), or 0 before any read.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Service is the cache core. All mutation of the in-memory index goes
// through its methods, serialized by an internal mutex; callers never touch
// the index directly.
type Service struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	index      map[string]*IndexEntry
	refreshing map[string]bool
	stats      Stats

	// now is swapped in tests to drive TTL expiry deterministically.
	now func() time.Time
}

// New creates a cache service over the given store, loads the persisted
// index and runs an initial eviction sweep. Index load failures are logged
// and leave the cache empty; the store is the source of truth and entries
// simply become misses.
func New(ctx context.Context, st store.Store, cfg Config) *Service {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	s := &Service{
		store:      st,
		cfg:        cfg,
		logger:     cfg.Logger,
		index:      make(map[string]*IndexEntry),
		refreshing: make(map[string]bool),
		now:        time.Now,
	}

	s.loadIndex(ctx)
	s.evictIfNeeded(ctx)

	return s
}

func storeKey(key string) string {
	return storeKeyPrefix + key
}

// Set caches value under key. It reports whether the entry was stored; a
// false return means a future Get will miss, nothing more.
func (s *Service) Set(ctx context.Context, key string, value any, opts Options) bool {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	version := opts.Version
	if version == "" {
		version = s.cfg.Version
	}

	payload, compressed, size, err := codec.Encode(value, opts.Compress)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return false
	}

	nowMs := s.now().UnixMilli()
	entry := Entry{
		IndexEntry: IndexEntry{
			Key:          key,
			Timestamp:    nowMs,
			TTL:          opts.TTL.Milliseconds(),
			Size:         int64(size),
			Priority:     opts.Priority,
			Compressed:   compressed,
			Version:      version,
			AccessCount:  0,
			LastAccessed: nowMs,
		},
		Data: payload,
	}

	raw, err := json.Marshal(&entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache entry")
		return false
	}

	if err := s.store.Save(ctx, storeKey(key), raw); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to persist cache entry")
		return false
	}

	s.mu.Lock()
	idx := entry.IndexEntry
	s.index[key] = &idx
	s.stats.Sets++
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.persistIndex(ctx)
	s.evictIfNeeded(ctx)

	s.logger.Debug().
		Str("key", key).
		Dur("ttl", opts.TTL).
		Int("size", size).
		Bool("compressed", compressed).
		Msg("Cached entry")

	return true
}

// Get loads the cached value for key into dest. It reports whether dest was
// populated. Expired, corrupted, version-mismatched or store-orphaned
// entries are misses and are cleaned up as a side effect.
func (s *Service) Get(ctx context.Context, key string, dest any) bool {
	now := s.now()

	s.mu.Lock()
	idx, ok := s.index[key]
	if !ok {
		s.stats.Misses++
		s.mu.Unlock()
		CacheMisses.Inc()
		return false
	}
	if idx.IsExpired(now) {
		s.stats.Misses++
		s.mu.Unlock()
		CacheMisses.Inc()
		// Lazy expiry: clean up off the caller's path.
		go s.Remove(context.WithoutCancel(ctx), key)
		return false
	}
	s.mu.Unlock()

	raw, err := s.store.Get(ctx, storeKey(key))
	if err != nil {
		if err == store.ErrNotFound {
			// Index says present, store disagrees: repair the index.
			s.dropIndexEntry(ctx, key)
		} else {
			CacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache store read failed")
		}
		s.recordMiss()
		return false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Corrupted cache entry, purging")
		s.Remove(ctx, key)
		s.recordMiss()
		return false
	}

	if entry.Version != s.cfg.Version {
		s.logger.Debug().
			Str("key", key).
			Str("entry_version", entry.Version).
			Msg("Cache entry version mismatch, purging")
		s.Remove(ctx, key)
		s.recordMiss()
		return false
	}

	if err := codec.Decode(entry.Data, entry.Compressed, dest); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to decode cache entry, purging")
		s.Remove(ctx, key)
		s.recordMiss()
		return false
	}

	// Access metadata is updated in memory only; persisting the index on
	// every read would turn each hit into a store write.
	s.mu.Lock()
	if idx, ok := s.index[key]; ok {
		idx.AccessCount++
		idx.LastAccessed = now.UnixMilli()
	}
	s.stats.Hits++
	s.mu.Unlock()

	CacheHits.WithLabelValues("persistent").Inc()
	return true
}

// Has reports whether key is cached and fresh. Expired entries are removed
// and reported absent.
func (s *Service) Has(ctx context.Context, key string) bool {
	now := s.now()

	s.mu.Lock()
	idx, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	expired := idx.IsExpired(now)
	s.mu.Unlock()

	if expired {
		s.Remove(ctx, key)
		return false
	}
	return true
}

// Remove deletes the persisted entry and its index metadata together. If
// the store delete fails the index entry is kept, so a later read
// re-attempts the cleanup instead of hiding an orphaned store entry.
func (s *Service) Remove(ctx context.Context, key string) bool {
	if err := s.store.Remove(ctx, storeKey(key)); err != nil {
		CacheErrors.WithLabelValues("remove").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove cache entry from store")
		return false
	}

	s.dropIndexEntry(ctx, key)
	return true
}

// Clear removes every cached entry. Entries whose store delete fails stay
// indexed for later cleanup.
func (s *Service) Clear(ctx context.Context) bool {
	s.mu.Lock()
	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	ok := true
	for _, key := range keys {
		if !s.Remove(ctx, key) {
			ok = false
		}
	}
	return ok
}

// GetWithRevalidation returns cached data immediately when present and, if
// the entry has aged past half its TTL, schedules exactly one background
// refresh through fetch. On a full miss it fetches synchronously, caches
// and populates dest.
func (s *Service) GetWithRevalidation(ctx context.Context, key string, dest any, fetch FetchFunc, opts Options) bool {
	if s.Get(ctx, key, dest) {
		s.maybeRevalidate(ctx, key, fetch, opts)
		return true
	}

	value, err := fetch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache miss fetch failed")
		return false
	}

	s.Set(ctx, key, value, opts)

	// Round-trip through JSON so dest sees the same shape a later cache
	// hit would produce.
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

// maybeRevalidate launches a background refresh for a stale entry unless
// one is already in flight for the same key.
func (s *Service) maybeRevalidate(ctx context.Context, key string, fetch FetchFunc, opts Options) {
	now := s.now()

	s.mu.Lock()
	idx, ok := s.index[key]
	if !ok || !idx.IsStale(now) || s.refreshing[key] {
		s.mu.Unlock()
		return
	}
	s.refreshing[key] = true
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, key)
			s.mu.Unlock()
		}()

		value, err := fetch(bg)
		if err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Background revalidation failed")
			return
		}
		s.Set(bg, key, value, opts)
		CacheRevalidations.Inc()
		s.logger.Debug().Str("key", key).Msg("Background revalidation complete")
	}()
}

// Migrate reads every cached value, applies fn and re-writes the result
// tagged with the current schema version. Entries that fail to load or
// transform are skipped and logged, never fatal to the run.
func (s *Service) Migrate(ctx context.Context, fn func(key string, data json.RawMessage) (any, error)) (migrated, skipped int) {
	s.mu.Lock()
	snapshot := make([]*IndexEntry, 0, len(s.index))
	for _, idx := range s.index {
		copied := *idx
		snapshot = append(snapshot, &copied)
	}
	s.mu.Unlock()

	for _, idx := range snapshot {
		raw, err := s.store.Get(ctx, storeKey(idx.Key))
		if err != nil {
			skipped++
			s.logger.Warn().Err(err).Str("key", idx.Key).Msg("Migration skipped entry: load failed")
			continue
		}

		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			skipped++
			s.logger.Warn().Err(err).Str("key", idx.Key).Msg("Migration skipped entry: unmarshal failed")
			continue
		}

		var data json.RawMessage
		if err := codec.Decode(entry.Data, entry.Compressed, &data); err != nil {
			skipped++
			CacheErrors.WithLabelValues("migrate").Inc()
			s.logger.Warn().Err(err).Str("key", idx.Key).Msg("Migration skipped entry: decode failed")
			continue
		}

		value, err := fn(idx.Key, data)
		if err != nil {
			skipped++
			s.logger.Warn().Err(err).Str("key", idx.Key).Msg("Migration skipped entry: transform failed")
			continue
		}

		remaining := time.Duration(idx.Timestamp+idx.TTL-s.now().UnixMilli()) * time.Millisecond
		if remaining <= 0 {
			skipped++
			continue
		}

		if !s.Set(ctx, idx.Key, value, Options{
			TTL:      remaining,
			Priority: idx.Priority,
			Compress: idx.Compressed,
		}) {
			skipped++
			continue
		}
		migrated++
	}

	s.logger.Info().
		Int("migrated", migrated).
		Int("skipped", skipped).
		Str("version", s.cfg.Version).
		Msg("Cache migration complete")

	return migrated, skipped
}

// Stats returns a snapshot of the cache counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Entries = len(s.index)
	stats.Bytes = s.totalBytesLocked()
	return stats
}

// evictIfNeeded sweeps the cache down to 80% of both caps when either the
// size cap or the count cap is exceeded. Candidates are ordered by
// (priority ascending, last access ascending); critical entries are never
// evicted. The whole check-then-evict sequence holds the index lock so a
// concurrent Set cannot race the cap snapshot.
func (s *Service) evictIfNeeded(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totalBytes := s.totalBytesLocked()
	if totalBytes <= s.cfg.MaxBytes && len(s.index) <= s.cfg.MaxEntries {
		return
	}

	targetBytes := int64(float64(s.cfg.MaxBytes) * evictTargetRatio)
	targetEntries := int(float64(s.cfg.MaxEntries) * evictTargetRatio)

	candidates := make([]*IndexEntry, 0, len(s.index))
	for _, idx := range s.index {
		if idx.Priority == PriorityCritical {
			continue
		}
		candidates = append(candidates, idx)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].LastAccessed < candidates[j].LastAccessed
	})

	evicted := 0
	for _, idx := range candidates {
		if totalBytes <= targetBytes && len(s.index) <= targetEntries {
			break
		}
		if err := s.store.Remove(ctx, storeKey(idx.Key)); err != nil {
			// Keep the index entry; a later read retries the cleanup.
			CacheErrors.WithLabelValues("remove").Inc()
			s.logger.Warn().Err(err).Str("key", idx.Key).Msg("Eviction store delete failed")
			continue
		}
		delete(s.index, idx.Key)
		totalBytes -= idx.Size
		evicted++
		s.stats.Evictions++
		CacheEvictions.Inc()
	}

	if evicted > 0 {
		s.updateGaugesLocked()
		s.persistIndexLocked(ctx)
		s.logger.Info().
			Int("evicted", evicted).
			Int64("bytes", totalBytes).
			Int("entries", len(s.index)).
			Msg("Eviction sweep complete")
	}
}

// recordMiss bumps the miss counters.
func (s *Service) recordMiss() {
	s.mu.Lock()
	s.stats.Misses++
	s.mu.Unlock()
	CacheMisses.Inc()
}

// dropIndexEntry removes key from the index and persists the index.
func (s *Service) dropIndexEntry(ctx context.Context, key string) {
	s.mu.Lock()
	if _, ok := s.index[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.index, key)
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.persistIndex(ctx)
}

func (s *Service) totalBytesLocked() int64 {
	var total int64
	for _, idx := range s.index {
		total += idx.Size
	}
	return total
}

func (s *Service) updateGaugesLocked() {
	CacheEntries.Set(float64(len(s.index)))
	CacheSizeBytes.Set(float64(s.totalBytesLocked()))
}

// loadIndex restores the metadata index from the store at startup.
func (s *Service) loadIndex(ctx context.Context) {
	raw, err := s.store.Get(ctx, indexStoreKey)
	if err != nil {
		if err != store.ErrNotFound {
			CacheErrors.WithLabelValues("index").Inc()
			s.logger.Warn().Err(err).Msg("Failed to load cache index")
		}
		return
	}

	var entries []*IndexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		CacheErrors.WithLabelValues("index").Inc()
		s.logger.Warn().Err(err).Msg("Corrupted cache index, starting empty")
		return
	}

	s.mu.Lock()
	for _, idx := range entries {
		if idx == nil || idx.Key == "" {
			continue
		}
		s.index[idx.Key] = idx
	}
	s.updateGaugesLocked()
	count := len(s.index)
	s.mu.Unlock()

	s.logger.Debug().Int("entries", count).Msg("Cache index loaded")
}

// persistIndex snapshots and saves the index. Best effort: a lost index
// only costs warm-start metadata, the store still holds the entries.
func (s *Service) persistIndex(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistIndexLocked(ctx)
}

func (s *Service) persistIndexLocked(ctx context.Context) {
	entries := make([]*IndexEntry, 0, len(s.index))
	for _, idx := range s.index {
		entries = append(entries, idx)
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		CacheErrors.WithLabelValues("index").Inc()
		s.logger.Warn().Err(err).Msg("Failed to marshal cache index")
		return
	}
	if err := s.store.Save(ctx, indexStoreKey, raw); err != nil {
		CacheErrors.WithLabelValues("index").Inc()
		s.logger.Warn().Err(err).Msg("Failed to persist cache index")
	}
}
