// Package cache implements the client-side cache core: a generic entry
// store with TTL, priority-ranked eviction, stale-while-revalidate reads
// and pattern/event-based invalidation over a persistent key-value store.
//
// The service keeps only entry metadata in memory (the index); payloads
// live in the persistent store and are re-read on every hit, bounding
// process memory. Index and store are written together and removed
// together so they never diverge.
//
// # Failure policy
//
// Every operation is best-effort. The cache exists to make features faster,
// never to break them: internal failures are logged and converted to a safe
// default (a false return, a forced miss), so the worst case for a caller
// is extra latency, not an error. The offline queue is the opposite:
// its failures are domain failures and are surfaced as errors.
//
// # Basic Usage
//
//	st := store.NewRedis(redisClient, "shopcache:")
//	svc := cache.New(ctx, st, cache.DefaultConfig())
//
//	svc.Set(ctx, "homepage:justForYou", products, cache.Options{
//		TTL:      10 * time.Minute,
//		Priority: cache.PriorityCritical,
//	})
//
//	var products []Product
//	if svc.Get(ctx, "homepage:justForYou", &products) {
//		// cache hit
//	}
//
// # Invalidation
//
// Keys follow the "<tag>:<qualifier>" convention, which pattern and tag
// invalidation depend on. Domain writes signal the cache through the closed
// Event enum:
//
//	svc.InvalidateByEvent(ctx, cache.EventOrderPlaced)
//
// # Metrics
//
// The package exports Prometheus metrics under the shopcache_ prefix:
// hits/misses by layer, entry and byte gauges, evictions, invalidations by
// kind, background revalidations and absorbed errors by operation.
package cache
