package cache

import (
	"context"
	"testing"
	"time"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"cart:*", "cart:user-1", true},
		{"cart:*", "cart:", true},
		{"cart:*", "homepage:cart", false},
		{"cart:*", "cart", false},
		{"exact:key", "exact:key", true},
		{"exact:key", "exact:key2", false},
		{"*", "anything", true},
		{"*", "", true},
		{"user:*:profile", "user:42:profile", true},
		{"user:*:profile", "user:42:settings", false},
		{"*:user-1", "cart:user-1", true},
		{"*:user-1", "cart:user-2", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			if got := globMatch(tt.pattern, tt.key); got != tt.want {
				t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestKeyTag(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"cart:user-1", "cart"},
		{"products:sku:variant", "products"},
		{"plainkey", "plainkey"},
		{":odd", ""},
	}

	for _, tt := range tests {
		if got := keyTag(tt.key); got != tt.want {
			t.Errorf("keyTag(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestInvalidatePattern(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "cart:user-1", "a", Options{})
	s.Set(ctx, "cart:user-2", "b", Options{})
	s.Set(ctx, "products:sku-1", "c", Options{})

	removed := s.InvalidatePattern(ctx, "cart:*")
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if s.Has(ctx, "cart:user-1") || s.Has(ctx, "cart:user-2") {
		t.Error("Cart entries should be invalidated")
	}
	if !s.Has(ctx, "products:sku-1") {
		t.Error("Non-matching entry should survive")
	}

	// Redundant invalidation is a no-op, not an error.
	if again := s.InvalidatePattern(ctx, "cart:*"); again != 0 {
		t.Errorf("Expected 0 on redundant invalidation, got %d", again)
	}
}

func TestInvalidateByEvent(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "cart:user-1", "a", Options{})
	s.Set(ctx, "orders:user-1", "b", Options{})
	s.Set(ctx, "products:sku-1", "c", Options{})

	s.InvalidateByEvent(ctx, EventOrderPlaced)

	if s.Has(ctx, "cart:user-1") {
		t.Error("order:placed should flush cart state")
	}
	if s.Has(ctx, "orders:user-1") {
		t.Error("order:placed should flush order history")
	}
	if !s.Has(ctx, "products:sku-1") {
		t.Error("order:placed should not touch product entries")
	}
}

func TestInvalidateByEventLogout(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	userScoped := []string{"user:profile", "cart:user-1", "wishlist:user-1", "orders:user-1"}
	for _, key := range userScoped {
		s.Set(ctx, key, "x", Options{})
	}
	s.Set(ctx, "homepage:feed", "x", Options{})

	s.InvalidateByEvent(ctx, EventUserLogout)

	for _, key := range userScoped {
		if s.Has(ctx, key) {
			t.Errorf("Logout should flush %s", key)
		}
	}
	if !s.Has(ctx, "homepage:feed") {
		t.Error("Logout should not flush public content")
	}
}

func TestInvalidateByTag(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "a", Options{})
	s.Set(ctx, "products:sku-2", "b", Options{})
	s.Set(ctx, "cart:user-1", "c", Options{})

	removed := s.InvalidateByTag(ctx, "products")
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if !s.Has(ctx, "cart:user-1") {
		t.Error("Other tags should survive")
	}
}

func TestInvalidateBefore(t *testing.T) {
	s, _, clock := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "old:1", "a", Options{TTL: time.Hour})
	clock.Advance(10 * time.Minute)
	cutoff := clock.Now().Add(-time.Minute)
	s.Set(ctx, "new:1", "b", Options{TTL: time.Hour})

	removed := s.InvalidateBefore(ctx, cutoff)
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if s.Has(ctx, "old:1") {
		t.Error("Entry written before cutoff should be removed")
	}
	if !s.Has(ctx, "new:1") {
		t.Error("Entry written after cutoff should survive")
	}
}

func TestInvalidateDependencies(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	s.Set(ctx, "products:sku-1", "a", Options{})
	s.Set(ctx, "homepage:feed", "b", Options{})
	s.Set(ctx, "search:recent", "c", Options{})
	s.Set(ctx, "cart:user-1", "d", Options{})

	s.InvalidateDependencies(ctx, "products:sku-1", []string{"homepage:feed", "search:recent"})

	for _, key := range []string{"products:sku-1", "homepage:feed", "search:recent"} {
		if s.Has(ctx, key) {
			t.Errorf("Expected %s to be invalidated", key)
		}
	}
	if !s.Has(ctx, "cart:user-1") {
		t.Error("Unrelated entry should survive")
	}
}
