package cache

import (
	"encoding/json"
	"time"
)

// Priority ranks an entry's resistance to eviction.
// Eviction removes low-priority entries first and never touches critical
// entries while any lower-priority candidate remains.
type Priority int

const (
	// PriorityLow entries are evicted first.
	PriorityLow Priority = iota

	// PriorityMedium is the default for ordinary cached resources.
	PriorityMedium

	// PriorityHigh entries survive eviction longer.
	PriorityHigh

	// PriorityCritical entries are never evicted, only expired or removed.
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the persisted name of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "medium"
}

// ParsePriority converts a persisted priority name back to a Priority.
// Unknown names map to PriorityMedium so old entries stay readable.
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityMedium
}

// MarshalJSON persists the priority by name, not by rank, so the on-disk
// format survives reordering of the enum.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a persisted priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*p = ParsePriority(name)
	return nil
}

// IndexEntry is the metadata the service keeps in memory for every cached
// key. It never holds the payload; payloads live only in the persistent
// store and are re-read on every hit.
type IndexEntry struct {
	// Key is the logical cache key, conventionally "<tag>:<qualifier>".
	Key string `json:"key"`

	// Timestamp is the write time in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`

	// TTL is the entry lifespan in milliseconds from Timestamp.
	TTL int64 `json:"ttl"`

	// Size is the persisted payload size in bytes, post-compression.
	Size int64 `json:"size"`

	// Priority is the eviction-resistance rank.
	Priority Priority `json:"priority"`

	// Compressed indicates the payload is a base64 brotli string.
	Compressed bool `json:"compressed"`

	// Version is the schema version the payload was written with.
	// A mismatch invalidates the entry on read.
	Version string `json:"version"`

	// AccessCount and LastAccessed feed eviction's recency tie-break.
	// Both are updated in memory on reads and persisted lazily.
	AccessCount  int64 `json:"accessCount"`
	LastAccessed int64 `json:"lastAccessed"`
}

// IsExpired reports whether the entry's lifespan has elapsed at now.
func (e *IndexEntry) IsExpired(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp > e.TTL
}

// IsStale reports whether the entry has passed half of its TTL, the point
// at which GetWithRevalidation schedules a background refresh.
func (e *IndexEntry) IsStale(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp > e.TTL/2
}

// Entry is the persisted form of a cache entry: the index metadata plus the
// payload. Index and store are written together and removed together.
type Entry struct {
	IndexEntry

	// Data is the JSON payload, or a base64 brotli string when Compressed.
	Data json.RawMessage `json:"data"`
}
