// Package client provides the remote commerce API client the offline
// queue replays cart mutations against, with error classification and
// exponential-backoff retry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopcache_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the commerce backend root (e.g. "https://api.example.com/v1").
	BaseURL string

	// UserAgent identifies the app to the backend.
	UserAgent string

	// Token, when set, supplies the bearer token attached to each request.
	Token func() string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry controls backoff across attempts.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   15 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the commerce API client. It satisfies the offline queue's
// CartAPI interface.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a commerce API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "api-client").Logger(),
	}, nil
}

// AddItem adds a product to the remote cart.
func (c *Client) AddItem(ctx context.Context, productID string, quantity int) error {
	return c.do(ctx, http.MethodPost, "/cart/items", map[string]any{
		"productId": productID,
		"quantity":  quantity,
	})
}

// UpdateItem changes the quantity of a cart line.
func (c *Client) UpdateItem(ctx context.Context, productID string, quantity int) error {
	return c.do(ctx, http.MethodPut, "/cart/items/"+url.PathEscape(productID), map[string]any{
		"quantity": quantity,
	})
}

// RemoveItem removes a product from the remote cart.
func (c *Client) RemoveItem(ctx context.Context, productID string) error {
	return c.do(ctx, http.MethodDelete, "/cart/items/"+url.PathEscape(productID), nil)
}

// ClearCart empties the remote cart.
func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/cart", nil)
}

// ApplyCoupon applies a coupon code to the remote cart.
func (c *Client) ApplyCoupon(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/cart/coupons", map[string]any{
		"code": code,
	})
}

// RemoveCoupon removes a coupon code from the remote cart.
func (c *Client) RemoveCoupon(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, "/cart/coupons/"+url.PathEscape(code), nil)
}

// GetJSON performs a GET against the backend and decodes the JSON response
// into dest. Warming fetchers are built on this.
func (c *Client) GetJSON(ctx context.Context, endpoint string, dest any) error {
	return c.request(ctx, http.MethodGet, endpoint, nil, dest)
}

// do performs one API write with retry and error classification.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) error {
	return c.request(ctx, method, endpoint, body, nil)
}

// request performs an API call with retry and error classification. The
// request body is re-built per attempt so retries never reuse a drained
// reader. A nil dest discards the response body.
func (c *Client) request(ctx context.Context, method, endpoint string, body, dest any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = encoded
	}

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	return retryWithBackoff(ctx, c.config.Retry, func() (ErrorClass, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+endpoint, reader)
		if err != nil {
			return ErrorClassClient, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.config.Token != nil {
			if token := c.config.Token(); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return ErrorClassNetwork, err
		}
		defer resp.Body.Close()

		apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			apiErrorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("API request error")

			return errClass, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Endpoint:   endpoint,
				Message:    resp.Status,
			}
		}

		if dest != nil {
			if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
				return ErrorClassServer, fmt.Errorf("decode response: %w", err)
			}
			return "", nil
		}

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", nil
	})
}

// classifyStatus categorizes an HTTP status for retry decisions and
// observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
