package cache

import (
	"context"
	"strings"
	"time"
)

// InvalidatePattern removes every entry whose key matches the glob pattern.
// Patterns are anchored and support the '*' wildcard ("cart:*" matches
// "cart:42" but not "homepage:cart"). It returns the number of entries
// removed and is safe to call redundantly.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) int {
	return s.invalidateMatching(ctx, "pattern", func(idx *IndexEntry) bool {
		return globMatch(pattern, idx.Key)
	})
}

// InvalidateDependencies removes key together with an explicit set of
// dependent keys.
func (s *Service) InvalidateDependencies(ctx context.Context, key string, dependents []string) {
	s.Remove(ctx, key)
	for _, dep := range dependents {
		s.Remove(ctx, dep)
		CacheInvalidations.WithLabelValues("dependency").Inc()
	}
}

// InvalidateByEvent applies the pattern invalidations mapped to a domain
// event. Producers call this after a successful write; the cache never
// learns domain specifics beyond the event enum.
func (s *Service) InvalidateByEvent(ctx context.Context, event Event) {
	removed := 0
	for _, pattern := range event.patterns() {
		removed += s.InvalidatePattern(ctx, pattern)
	}
	CacheInvalidations.WithLabelValues("event").Inc()
	s.logger.Debug().
		Stringer("event", event).
		Int("removed", removed).
		Msg("Event invalidation")
}

// InvalidateBefore removes every entry written before the given time.
func (s *Service) InvalidateBefore(ctx context.Context, cutoff time.Time) int {
	cutoffMs := cutoff.UnixMilli()
	return s.invalidateMatching(ctx, "before", func(idx *IndexEntry) bool {
		return idx.Timestamp < cutoffMs
	})
}

// InvalidateByTag removes every entry whose tag (the first colon-delimited
// key segment) equals tag.
func (s *Service) InvalidateByTag(ctx context.Context, tag string) int {
	return s.invalidateMatching(ctx, "tag", func(idx *IndexEntry) bool {
		return keyTag(idx.Key) == tag
	})
}

// invalidateMatching removes all indexed entries accepted by match.
func (s *Service) invalidateMatching(ctx context.Context, kind string, match func(*IndexEntry) bool) int {
	s.mu.Lock()
	keys := make([]string, 0)
	for key, idx := range s.index {
		if match(idx) {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if s.Remove(ctx, key) {
			removed++
			CacheInvalidations.WithLabelValues(kind).Inc()
		}
	}
	return removed
}

// keyTag returns the first colon-delimited segment of a key.
func keyTag(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// globMatch reports whether key matches pattern, where '*' matches any run
// of characters (including none) and the pattern is anchored at both ends.
func globMatch(pattern, key string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == key
	}

	// Anchor the first literal segment at the start.
	if !strings.HasPrefix(key, segments[0]) {
		return false
	}
	rest := key[len(segments[0]):]

	// Middle segments match greedily left to right.
	for _, seg := range segments[1 : len(segments)-1] {
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		rest = rest[i+len(seg):]
	}

	// Anchor the last literal segment at the end.
	return strings.HasSuffix(rest, segments[len(segments)-1])
}
