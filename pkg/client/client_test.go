package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shoplite/cachekit/internal/testutil"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newTestClient(t *testing.T, backend *testutil.MockBackend) *Client {
	t.Helper()
	cfg := DefaultConfig(backend.URL(), "test/1.0")
	cfg.Retry = fastRetry()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{UserAgent: "test/1.0"}},
		{"missing user agent", Config{BaseURL: "https://api.example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("Expected config validation error")
			}
		})
	}
}

func TestAddItemSuccess(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	c := newTestClient(t, backend)

	if err := c.AddItem(context.Background(), "sku-1", 2); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	reqs := backend.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != http.MethodPost || reqs[0].Path != "/cart/items" {
		t.Errorf("Unexpected request: %+v", reqs[0])
	}
	if ct := backend.LastRequestHeader.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}
}

func TestRemoveCouponPath(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	c := newTestClient(t, backend)

	if err := c.RemoveCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("RemoveCoupon failed: %v", err)
	}

	reqs := backend.Requests()
	if reqs[0].Method != http.MethodDelete || reqs[0].Path != "/cart/coupons/SAVE10" {
		t.Errorf("Unexpected request: %+v", reqs[0])
	}
}

func TestBearerTokenAttached(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()

	cfg := DefaultConfig(backend.URL(), "test/1.0")
	cfg.Retry = fastRetry()
	cfg.Token = func() string { return "session-token" }
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := c.ClearCart(context.Background()); err != nil {
		t.Fatalf("ClearCart failed: %v", err)
	}
	if got := backend.LastRequestHeader.Get("Authorization"); got != "Bearer session-token" {
		t.Errorf("Expected bearer token, got %q", got)
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()

	// Fail twice with 500, then succeed: three attempts fit the budget.
	backend.FailTimes("/cart", http.StatusInternalServerError, 2)
	c := newTestClient(t, backend)

	if err := c.ClearCart(context.Background()); err != nil {
		t.Fatalf("Expected retries to recover, got %v", err)
	}
	if got := backend.GetRequestCount(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()

	backend.SetResponse("/cart", testutil.NewClientErrorResponse("cart is locked"))
	c := newTestClient(t, backend)

	err := c.ClearCart(context.Background())
	if err == nil {
		t.Fatal("Expected a client error")
	}
	if got := backend.GetRequestCount(); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.ErrorClass != ErrorClassClient || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Unexpected error classification: %+v", apiErr)
	}
}

func TestRetryExhaustion(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()

	backend.SetResponse("/cart", testutil.NewServerErrorResponse())
	c := newTestClient(t, backend)

	err := c.ClearCart(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if got := backend.GetRequestCount(); got != 3 {
		t.Errorf("Expected all 3 attempts, got %d", got)
	}
}

func TestRateLimitClassification(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()

	// 429 twice, then accepted: rate limits are retried.
	backend.FailTimes("/cart/coupons", http.StatusTooManyRequests, 2)
	c := newTestClient(t, backend)

	if err := c.ApplyCoupon(context.Background(), "TEN"); err != nil {
		t.Fatalf("Expected 429 retries to recover, got %v", err)
	}
	if got := backend.GetRequestCount(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusBadGateway, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestNetworkErrorIsRetried(t *testing.T) {
	// Point at a server that is already closed.
	backend := testutil.NewMockBackend()
	url := backend.URL()
	backend.Close()

	cfg := DefaultConfig(url, "test/1.0")
	cfg.Retry = fastRetry()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := c.ClearCart(context.Background()); !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected retry exhaustion on network errors, got %v", err)
	}
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetResponse("/cart", testutil.NewServerErrorResponse())

	cfg := DefaultConfig(backend.URL(), "test/1.0")
	cfg.Retry = RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := c.ClearCart(ctx); !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}

func TestGetJSONDecodesResponse(t *testing.T) {
	backend := testutil.NewMockBackend()
	defer backend.Close()
	backend.SetResponse("/products/featured", testutil.NewOKResponse(`{"items":["sku-1","sku-2"]}`))

	c := newTestClient(t, backend)

	var out struct {
		Items []string `json:"items"`
	}
	if err := c.GetJSON(context.Background(), "/products/featured", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if len(out.Items) != 2 || out.Items[0] != "sku-1" {
		t.Errorf("Unexpected decode result: %+v", out)
	}
}
