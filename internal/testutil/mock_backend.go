// Package testutil provides testing utilities for cachekit.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock backend endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockBackend is a configurable mock commerce backend for testing. The
// default handler accepts every cart mutation with 200 OK; tests inject
// failures per path with SetResponse or SetHandler.
type MockBackend struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	requests          []RecordedRequest
}

// RecordedRequest captures a request the mock backend received.
type RecordedRequest struct {
	Method string
	Path   string
}

// NewMockBackend creates a new mock commerce backend.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.requests = append(mock.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path})
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBackend) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		// Add delay if specified
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		// Set headers
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		// Write status and body
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailTimes configures a path to fail with the given status for the first
// n requests to it, then succeed. Useful for exercising retry paths.
func (m *MockBackend) FailTimes(path string, status int, n int) {
	var mu sync.Mutex
	remaining := n
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if fail {
			w.WriteHeader(status)
			w.Write([]byte(`{"error": "injected failure"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBackend) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// Requests returns a copy of the recorded requests in arrival order.
func (m *MockBackend) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// defaultHandler accepts any cart mutation.
func (m *MockBackend) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// NewOKResponse creates a standard 200 OK response.
func NewOKResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewClientErrorResponse creates a 400 Bad Request response.
func NewClientErrorResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error": "` + message + `"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
