// cachekitd runs the caching subsystem as a sidecar daemon: it keeps a
// Redis-backed cache warm for the commerce backend, drains the offline
// cart-mutation queue on an interval and exposes health, stats and
// Prometheus endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shoplite/cachekit/pkg/cache"
	"github.com/shoplite/cachekit/pkg/client"
	"github.com/shoplite/cachekit/pkg/logging"
	"github.com/shoplite/cachekit/pkg/netstate"
	"github.com/shoplite/cachekit/pkg/queue"
	"github.com/shoplite/cachekit/pkg/store"
	"github.com/shoplite/cachekit/pkg/warming"
)

type config struct {
	RedisURL        string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	APIBaseURL      string        `env:"API_BASE_URL" envDefault:"https://api.shoplite.example/v1"`
	UserAgent       string        `env:"USER_AGENT" envDefault:"cachekitd/0.1.0"`
	CacheMaxBytes   int64         `env:"CACHE_MAX_BYTES" envDefault:"52428800"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"1000"`
	CacheVersion    string        `env:"CACHE_VERSION" envDefault:"1"`
	WarmOnStart     bool          `env:"WARM_ON_START" envDefault:"true"`
	DrainInterval   time.Duration `env:"DRAIN_INTERVAL" envDefault:"30s"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
	}
	logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")

	st := store.NewRedis(redisClient, "cachekit:")

	cacheSvc := cache.New(ctx, st, cache.Config{
		MaxBytes:   cfg.CacheMaxBytes,
		MaxEntries: cfg.CacheMaxEntries,
		Version:    cfg.CacheVersion,
		Logger:     logging.NewLogger("cache"),
	})

	api, err := client.New(client.DefaultConfig(cfg.APIBaseURL, cfg.UserAgent))
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}

	q := queue.New(ctx, st, api, queue.Config{
		Logger: logging.NewLogger("offline-queue"),
	})

	// A sidecar daemon has a stable uplink; the hub exists so operators can
	// still pause warming by publishing a degraded state later.
	network := netstate.NewHub(netstate.State{Type: "ethernet", EffectiveType: netstate.Effective4G})

	warmer := warming.New(warming.Config{
		Cache:   cacheSvc,
		Network: network,
		Logger:  logging.NewLogger("warmer"),
	})
	warmer.Add(warmingItems(api)...)
	defer warmer.Destroy()

	if cfg.WarmOnStart {
		go func() {
			if err := warmer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("Warming run did not complete")
			}
		}()
	}

	// Drain the offline queue periodically.
	go func() {
		ticker := time.NewTicker(cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if q.Len() == 0 {
					continue
				}
				result, err := q.Process(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("Queue drain failed")
					continue
				}
				logger.Info().
					Int("processed", result.Processed).
					Int("failed", result.Failed).
					Msg("Queue drained")
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.HandleFunc("/stats", statsHandler(cacheSvc, q, warmer))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Starting cachekitd")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// warmingItems is the daemon's preload manifest: public storefront content
// in descending user-visibility order.
func warmingItems(api *client.Client) []warming.Item {
	fetch := func(endpoint string) cache.FetchFunc {
		return func(ctx context.Context) (any, error) {
			var payload json.RawMessage
			if err := api.GetJSON(ctx, endpoint, &payload); err != nil {
				return nil, err
			}
			return payload, nil
		}
	}

	return []warming.Item{
		{
			Key:      "homepage:feed",
			Tier:     warming.TierCritical,
			Fetch:    fetch("/homepage/feed"),
			TTL:      5 * time.Minute,
			Priority: cache.PriorityCritical,
		},
		{
			Key:      "products:featured",
			Tier:     warming.TierHigh,
			Fetch:    fetch("/products/featured"),
			TTL:      10 * time.Minute,
			Priority: cache.PriorityHigh,
		},
		{
			Key:      "categories:tree",
			Tier:     warming.TierMedium,
			Fetch:    fetch("/categories"),
			TTL:      30 * time.Minute,
			Priority: cache.PriorityMedium,
		},
		{
			Key:      "products:trending",
			Tier:     warming.TierLow,
			Fetch:    fetch("/products/trending"),
			TTL:      10 * time.Minute,
			Priority: cache.PriorityLow,
		},
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports readiness: the daemon is ready once Redis answers.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// statsHandler exposes cache, queue and warming snapshots as JSON.
func statsHandler(cacheSvc *cache.Service, q *queue.Service, warmer *warming.Warmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cacheStats := cacheSvc.Stats()
		snapshot := map[string]any{
			"cache":        cacheStats,
			"cacheHitRate": cacheStats.HitRate(),
			"queue":        q.QueueStats(),
			"warming":      warmer.Stats(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
