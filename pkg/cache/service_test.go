package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shoplite/cachekit/pkg/store"
)

// testClock drives the service's notion of time.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, cfg Config) (*Service, *store.Memory, *testClock) {
	t.Helper()
	st := store.NewMemory()
	s := New(context.Background(), st, cfg)
	clock := newTestClock()
	s.now = clock.Now
	return s, st, clock
}

func TestSetAndGet(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	type product struct {
		ID    string  `json:"id"`
		Price float64 `json:"price"`
	}
	want := product{ID: "sku-1", Price: 9.99}

	if !s.Set(ctx, "products:sku-1", want, Options{}) {
		t.Fatal("Set failed")
	}

	var got product
	if !s.Get(ctx, "products:sku-1", &got) {
		t.Fatal("Expected cache hit")
	}
	if got != want {
		t.Errorf("Got %+v, want %+v", got, want)
	}

	stats := s.Stats()
	if stats.Hits != 1 || stats.Sets != 1 {
		t.Errorf("Expected 1 hit and 1 set, got %d/%d", stats.Hits, stats.Sets)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, _, _ := newTestService(t, Config{})

	var dest string
	if s.Get(context.Background(), "absent", &dest) {
		t.Error("Expected miss for absent key")
	}
	if s.Stats().Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", s.Stats().Misses)
	}
}

func TestGetExpiredEntry(t *testing.T) {
	s, _, clock := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "data", Options{TTL: 5 * time.Minute})

	clock.Advance(5*time.Minute + time.Second)

	var dest string
	if s.Get(ctx, "products:sku-1", &dest) {
		t.Error("Expected expired entry to miss")
	}
}

func TestHasRemovesExpired(t *testing.T) {
	s, _, clock := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "data", Options{TTL: time.Minute})
	if !s.Has(ctx, "products:sku-1") {
		t.Fatal("Expected fresh entry to be present")
	}

	clock.Advance(2 * time.Minute)
	if s.Has(ctx, "products:sku-1") {
		t.Error("Expected expired entry to be absent")
	}
	// The expired entry was removed, not just hidden.
	s.mu.Lock()
	_, indexed := s.index["products:sku-1"]
	s.mu.Unlock()
	if indexed {
		t.Error("Expired entry should be dropped from the index")
	}
}

func TestRemove(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "data", Options{})
	if !s.Remove(ctx, "products:sku-1") {
		t.Fatal("Remove failed")
	}

	var dest string
	if s.Get(ctx, "products:sku-1", &dest) {
		t.Error("Expected miss after remove")
	}
}

func TestClear(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "a:1", "1", Options{})
	s.Set(ctx, "b:2", "2", Options{})

	if !s.Clear(ctx) {
		t.Fatal("Clear failed")
	}
	if s.Stats().Entries != 0 {
		t.Errorf("Expected 0 entries after clear, got %d", s.Stats().Entries)
	}
}

func TestVersionMismatchPurges(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	v1 := New(ctx, st, Config{Version: "1"})
	if !v1.Set(ctx, "products:sku-1", "old-schema", Options{}) {
		t.Fatal("Set failed")
	}

	// A service with a newer schema version sees the old entry as a miss
	// and purges it.
	v2 := New(ctx, st, Config{Version: "2"})
	var dest string
	if v2.Get(ctx, "products:sku-1", &dest) {
		t.Error("Expected version-mismatched entry to miss")
	}
	if v2.Has(ctx, "products:sku-1") {
		t.Error("Expected version-mismatched entry to be purged")
	}
}

func TestIndexSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	first := New(ctx, st, Config{})
	first.Set(ctx, "products:sku-1", "persisted", Options{TTL: time.Hour})

	second := New(ctx, st, Config{})
	var got string
	if !second.Get(ctx, "products:sku-1", &got) {
		t.Fatal("Expected entry to survive restart via persisted index")
	}
	if got != "persisted" {
		t.Errorf("Got %q, want persisted", got)
	}
}

func TestIndexRepairWhenStoreEntryMissing(t *testing.T) {
	s, st, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "data", Options{})

	// Simulate the store losing the payload behind the index's back.
	st.Remove(ctx, storeKey("products:sku-1"))

	var dest string
	if s.Get(ctx, "products:sku-1", &dest) {
		t.Error("Expected miss for orphaned index entry")
	}
	if s.Has(ctx, "products:sku-1") {
		t.Error("Expected orphaned index entry to be repaired away")
	}
}

func TestCorruptedEntryPurged(t *testing.T) {
	s, st, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "data", Options{})
	st.Save(ctx, storeKey("products:sku-1"), []byte("{not valid json"))

	var dest string
	if s.Get(ctx, "products:sku-1", &dest) {
		t.Error("Expected corrupted entry to miss")
	}
	if s.Has(ctx, "products:sku-1") {
		t.Error("Expected corrupted entry to be purged")
	}
}

func TestEvictionOrderPriorityThenRecency(t *testing.T) {
	s, _, clock := newTestService(t, Config{MaxEntries: 4})
	ctx := context.Background()

	// Stagger writes so LastAccessed breaks ties within a priority.
	s.Set(ctx, "low:old", "x", Options{Priority: PriorityLow})
	clock.Advance(time.Second)
	s.Set(ctx, "low:new", "x", Options{Priority: PriorityLow})
	clock.Advance(time.Second)
	s.Set(ctx, "med:1", "x", Options{Priority: PriorityMedium})
	clock.Advance(time.Second)
	s.Set(ctx, "high:1", "x", Options{Priority: PriorityHigh})
	clock.Advance(time.Second)

	// Fifth entry exceeds the cap and sweeps down to 80% (3 entries).
	s.Set(ctx, "crit:1", "x", Options{Priority: PriorityCritical})

	if s.Has(ctx, "low:old") {
		t.Error("Oldest low-priority entry should be evicted first")
	}
	if s.Has(ctx, "low:new") {
		t.Error("Second low-priority entry should be evicted next")
	}
	for _, key := range []string{"med:1", "high:1", "crit:1"} {
		if !s.Has(ctx, key) {
			t.Errorf("Expected %s to survive eviction", key)
		}
	}
	if s.Stats().Evictions != 2 {
		t.Errorf("Expected 2 evictions, got %d", s.Stats().Evictions)
	}
}

func TestEvictionNeverTouchesCritical(t *testing.T) {
	s, _, _ := newTestService(t, Config{MaxEntries: 2})
	ctx := context.Background()

	s.Set(ctx, "crit:1", "x", Options{Priority: PriorityCritical})
	s.Set(ctx, "crit:2", "x", Options{Priority: PriorityCritical})
	s.Set(ctx, "crit:3", "x", Options{Priority: PriorityCritical})

	// Over cap, but with no evictable candidates the cache stays overfull.
	for _, key := range []string{"crit:1", "crit:2", "crit:3"} {
		if !s.Has(ctx, key) {
			t.Errorf("Critical entry %s must never be evicted", key)
		}
	}
}

func TestEvictionBySize(t *testing.T) {
	// Each payload is ~2KB; cap at 6KB forces a size-driven sweep.
	s, _, clock := newTestService(t, Config{MaxBytes: 6 * 1024, MaxEntries: 1000})
	ctx := context.Background()

	payload := strings.Repeat("x", 2048)
	s.Set(ctx, "bulk:1", payload, Options{})
	clock.Advance(time.Second)
	s.Set(ctx, "bulk:2", payload, Options{})
	clock.Advance(time.Second)
	s.Set(ctx, "bulk:3", payload, Options{})
	clock.Advance(time.Second)
	s.Set(ctx, "bulk:4", payload, Options{})

	if s.Has(ctx, "bulk:1") {
		t.Error("Expected oldest entry to be evicted on size pressure")
	}
	if !s.Has(ctx, "bulk:4") {
		t.Error("Expected newest entry to survive")
	}
	if s.Stats().Bytes > 6*1024 {
		t.Errorf("Expected size under cap after sweep, got %d", s.Stats().Bytes)
	}
}

func TestGetWithRevalidationColdMiss(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fetchCalls := 0
	fetch := func(ctx context.Context) (any, error) {
		fetchCalls++
		return "fetched", nil
	}

	var got string
	if !s.GetWithRevalidation(ctx, "products:sku-1", &got, fetch, Options{}) {
		t.Fatal("Expected cold miss to fetch and populate")
	}
	if got != "fetched" {
		t.Errorf("Got %q, want fetched", got)
	}
	if fetchCalls != 1 {
		t.Errorf("Expected 1 fetch, got %d", fetchCalls)
	}
	if !s.Has(ctx, "products:sku-1") {
		t.Error("Fetched value should be cached")
	}
}

func TestGetWithRevalidationColdFetchFails(t *testing.T) {
	s, _, _ := newTestService(t, Config{})

	fetch := func(ctx context.Context) (any, error) {
		return nil, errors.New("backend down")
	}

	var got string
	if s.GetWithRevalidation(context.Background(), "products:sku-1", &got, fetch, Options{}) {
		t.Error("Expected false when cold fetch fails")
	}
}

func TestGetWithRevalidationServesStaleAndRefreshesOnce(t *testing.T) {
	s, _, clock := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "stale-value", Options{TTL: 10 * time.Minute})

	// Past half the TTL but not expired.
	clock.Advance(6 * time.Minute)

	var mu sync.Mutex
	fetchCalls := 0
	fetch := func(ctx context.Context) (any, error) {
		mu.Lock()
		fetchCalls++
		mu.Unlock()
		return "fresh-value", nil
	}

	// The stale value is served immediately, twice; the refresh guard
	// allows only one background fetch.
	for i := 0; i < 2; i++ {
		var got string
		if !s.GetWithRevalidation(ctx, "products:sku-1", &got, fetch, Options{TTL: 10 * time.Minute}) {
			t.Fatal("Expected stale entry to be served")
		}
	}

	// Let the background refresh land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var got string
		if s.Get(ctx, "products:sku-1", &got) && got == "fresh-value" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Background refresh never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if fetchCalls != 1 {
		t.Errorf("Expected exactly 1 background fetch, got %d", fetchCalls)
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := New(ctx, st, Config{Version: "2"})
	clock := newTestClock()
	s.now = clock.Now

	s.Set(ctx, "products:sku-1", map[string]string{"name": "widget"}, Options{TTL: time.Hour})
	s.Set(ctx, "products:sku-2", map[string]string{"name": "gadget"}, Options{TTL: time.Minute})

	// The second entry expires before the migration runs.
	clock.Advance(2 * time.Minute)

	migrated, skipped := s.Migrate(ctx, func(key string, data json.RawMessage) (any, error) {
		return map[string]string{"migrated": key}, nil
	})

	if migrated != 1 {
		t.Errorf("Expected 1 migrated entry, got %d", migrated)
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped (expired) entry, got %d", skipped)
	}

	var got map[string]string
	if !s.Get(ctx, "products:sku-1", &got) {
		t.Fatal("Expected migrated entry to be readable")
	}
	if got["migrated"] != "products:sku-1" {
		t.Errorf("Expected transformed value, got %v", got)
	}
}

func TestStatsHitRate(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	if rate := s.Stats().HitRate(); rate != 0 {
		t.Errorf("Expected 0 hit rate before any read, got %f", rate)
	}

	s.Set(ctx, "a:1", "x", Options{})
	var dest string
	s.Get(ctx, "a:1", &dest)
	s.Get(ctx, "a:1", &dest)
	s.Get(ctx, "missing", &dest)

	if rate := s.Stats().HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("Expected hit rate ~0.67, got %f", rate)
	}
}
