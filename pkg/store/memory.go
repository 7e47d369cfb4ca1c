package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used for tests and for hosts that run
// without a Redis instance (data does not survive a restart).
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Save persists value under key.
func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]byte, len(value))
	copy(copied, value)
	m.data[key] = copied
	return nil
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

// Remove deletes the value stored under key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Clear removes all values.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

// MultiGet returns the values for the given keys; missing keys are skipped.
func (m *Memory) MultiGet(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := m.data[key]; ok {
			copied := make([]byte, len(value))
			copy(copied, value)
			result[key] = copied
		}
	}
	return result, nil
}

// MultiSet persists all given key/value pairs.
func (m *Memory) MultiSet(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range values {
		copied := make([]byte, len(value))
		copy(copied, value)
		m.data[key] = copied
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
