// Package queue implements the durable offline mutation queue: cart writes
// made while offline are appended here and replayed against the remote cart
// API in strict FIFO order once connectivity resumes. Cart mutations are
// not commutative (add-then-remove must never replay as remove-then-add),
// so the queue never reorders or prioritizes.
//
// Unlike the cache, the queue surfaces failure: an operation that exhausts
// its retry budget lands in a terminal failed state queryable through
// Stats, so the UI can tell the user some changes did not sync.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/shoplite/cachekit/pkg/store"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopcache_queue_depth",
		Help: "Current number of queued offline operations",
	})

	queueOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_queue_ops_total",
		Help: "Queued operation outcomes by type and result",
	}, []string{"type", "result"}) // result: "completed", "retried", "failed"

	queueDrainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcache_queue_drains_total",
		Help: "Queue drain passes by outcome",
	}, []string{"outcome"}) // "clean", "partial", "noop"
)

const (
	// StorageKey is the well-known store key holding the persisted queue.
	StorageKey = "offline:cart_queue"

	// DefaultMaxRetries bounds replay attempts per operation.
	DefaultMaxRetries = 3

	// defaultOpDelay spaces replayed operations so a drain does not burst
	// the backend.
	defaultOpDelay = 100 * time.Millisecond
)

// CartAPI is the remote cart service the queue replays against.
// Implemented by pkg/client.
type CartAPI interface {
	AddItem(ctx context.Context, productID string, quantity int) error
	UpdateItem(ctx context.Context, productID string, quantity int) error
	RemoveItem(ctx context.Context, productID string) error
	ClearCart(ctx context.Context) error
	ApplyCoupon(ctx context.Context, code string) error
	RemoveCoupon(ctx context.Context, code string) error
}

// Config holds queue construction options.
type Config struct {
	// StorageKey overrides the persisted queue location (default StorageKey).
	StorageKey string

	// OpDelay overrides the inter-operation replay delay.
	OpDelay time.Duration

	// Logger is the component logger.
	Logger zerolog.Logger
}

// Result summarizes one drain pass.
type Result struct {
	// Processed counts operations replayed successfully in this pass.
	Processed int `json:"processed"`

	// Failed counts operations that errored in this pass (whether they
	// went back to pending or turned terminal).
	Failed int `json:"failed"`
}

// Stats is a queryable snapshot of queue state for sync indicators.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`

	// FailedOps lists terminal operations with their last error.
	FailedOps []Operation `json:"failedOps,omitempty"`
}

// Service is the offline mutation queue. The in-memory operation list is
// owned exclusively by the service; all mutation goes through its methods.
type Service struct {
	store  store.Store
	api    CartAPI
	key    string
	delay  time.Duration
	logger zerolog.Logger

	mu         sync.Mutex
	ops        []*Operation
	processing bool
	onSync     []func(success bool)

	now func() time.Time
}

// New creates a queue service and restores any persisted operations. A
// corrupted or unreadable persisted queue is logged and left in place; the
// service starts empty rather than failing the app.
func New(ctx context.Context, st store.Store, api CartAPI, cfg Config) *Service {
	if cfg.StorageKey == "" {
		cfg.StorageKey = StorageKey
	}
	if cfg.OpDelay <= 0 {
		cfg.OpDelay = defaultOpDelay
	}

	s := &Service{
		store:  st,
		api:    api,
		key:    cfg.StorageKey,
		delay:  cfg.OpDelay,
		logger: cfg.Logger,
		now:    time.Now,
	}

	s.load(ctx)
	return s
}

// Enqueue appends a cart mutation and persists the queue. It does not
// attempt to send the operation; callers enqueue when an online write
// already failed or connectivity is known absent.
// maxRetries <= 0 means DefaultMaxRetries.
func (s *Service) Enqueue(ctx context.Context, typ OpType, data any, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var payload json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal operation data: %w", err)
		}
		payload = encoded
	}

	now := s.now()
	op := &Operation{
		ID:         newOperationID(typ, now),
		Type:       typ,
		Timestamp:  now,
		Data:       payload,
		MaxRetries: maxRetries,
		Status:     StatusPending,
	}

	s.mu.Lock()
	s.ops = append(s.ops, op)
	err := s.persistLocked(ctx)
	queueDepth.Set(float64(len(s.ops)))
	s.mu.Unlock()

	s.logger.Info().
		Str("op_id", op.ID).
		Str("type", string(typ)).
		Msg("Queued offline operation")

	if err != nil {
		// The operation stays in memory and is re-persisted on the next
		// queue mutation; the caller learns persistence is degraded.
		return op.ID, fmt.Errorf("persist queue: %w", err)
	}
	return op.ID, nil
}

// Process drains the queue: pending and stranded processing operations are
// replayed in enqueue order with a small delay between them. A call while
// a drain is already running is a benign no-op returning a zero Result.
// After a full pass, completed operations are pruned and one-shot sync
// callbacks fire with the pass's aggregate success.
func (s *Service) Process(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		queueDrainsTotal.WithLabelValues("noop").Inc()
		return Result{}, nil
	}
	s.processing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	var result Result
	first := true
	attempted := make(map[string]bool)

	for {
		op := s.nextRunnable(attempted)
		if op == nil {
			break
		}
		attempted[op.ID] = true

		if !first {
			select {
			case <-ctx.Done():
				s.finishPass(ctx, result)
				return result, ctx.Err()
			case <-time.After(s.delay):
			}
		}
		first = false

		s.setStatus(ctx, op, StatusProcessing, "")

		if err := s.dispatch(ctx, op); err != nil {
			result.Failed++
			s.mu.Lock()
			op.RetryCount++
			exhausted := op.RetryCount >= op.MaxRetries
			s.mu.Unlock()

			if exhausted {
				s.setStatus(ctx, op, StatusFailed, err.Error())
				queueOpsTotal.WithLabelValues(string(op.Type), "failed").Inc()
				s.logger.Error().
					Err(err).
					Str("op_id", op.ID).
					Int("retries", op.RetryCount).
					Msg("Offline operation failed terminally")
			} else {
				s.setStatus(ctx, op, StatusPending, err.Error())
				queueOpsTotal.WithLabelValues(string(op.Type), "retried").Inc()
				s.logger.Warn().
					Err(err).
					Str("op_id", op.ID).
					Int("retries", op.RetryCount).
					Msg("Offline operation failed, will retry")
			}
			continue
		}

		result.Processed++
		s.setStatus(ctx, op, StatusCompleted, "")
		queueOpsTotal.WithLabelValues(string(op.Type), "completed").Inc()
		s.logger.Info().Str("op_id", op.ID).Msg("Offline operation synced")
	}

	s.finishPass(ctx, result)
	return result, nil
}

// nextRunnable returns the first operation in queue order that has not yet
// been attempted in this pass, or nil when the pass is done. An operation
// that fails goes back to pending and waits for the next drain; a
// processing operation is a leftover from a crashed drain and is picked up
// again.
func (s *Service) nextRunnable(attempted map[string]bool) *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if attempted[op.ID] {
			continue
		}
		if op.Status == StatusPending || op.Status == StatusProcessing {
			return op
		}
	}
	return nil
}

// finishPass prunes completed operations, persists, and fires the one-shot
// sync callbacks with the pass's aggregate success.
func (s *Service) finishPass(ctx context.Context, result Result) {
	s.mu.Lock()
	kept := s.ops[:0]
	for _, op := range s.ops {
		if op.Status != StatusCompleted {
			kept = append(kept, op)
		}
	}
	s.ops = kept
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist queue after drain")
	}
	queueDepth.Set(float64(len(s.ops)))

	callbacks := s.onSync
	s.onSync = nil
	s.mu.Unlock()

	success := result.Failed == 0
	if result.Processed > 0 || result.Failed > 0 {
		if success {
			queueDrainsTotal.WithLabelValues("clean").Inc()
		} else {
			queueDrainsTotal.WithLabelValues("partial").Inc()
		}
	}

	for _, fn := range callbacks {
		fn(success)
	}
}

// setStatus records a status transition and persists the queue, so state
// survives a crash between operations.
func (s *Service) setStatus(ctx context.Context, op *Operation, status Status, errMsg string) {
	s.mu.Lock()
	op.Status = status
	op.Error = errMsg
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Warn().Err(err).Str("op_id", op.ID).Msg("Failed to persist queue")
	}
	s.mu.Unlock()
}

// dispatch replays one operation against the remote cart API.
func (s *Service) dispatch(ctx context.Context, op *Operation) error {
	switch op.Type {
	case OpAdd, OpUpdate, OpRemove:
		var item ItemData
		if err := json.Unmarshal(op.Data, &item); err != nil {
			return fmt.Errorf("decode item payload: %w", err)
		}
		switch op.Type {
		case OpAdd:
			return s.api.AddItem(ctx, item.ProductID, item.Quantity)
		case OpUpdate:
			return s.api.UpdateItem(ctx, item.ProductID, item.Quantity)
		default:
			return s.api.RemoveItem(ctx, item.ProductID)
		}

	case OpClear:
		return s.api.ClearCart(ctx)

	case OpApplyCoupon, OpRemoveCoupon:
		var coupon CouponData
		if err := json.Unmarshal(op.Data, &coupon); err != nil {
			return fmt.Errorf("decode coupon payload: %w", err)
		}
		if op.Type == OpApplyCoupon {
			return s.api.ApplyCoupon(ctx, coupon.Code)
		}
		return s.api.RemoveCoupon(ctx, coupon.Code)

	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// RetryFailed resets every terminal failed operation back to pending with
// a fresh retry budget and immediately drains the queue. Typically wired
// to an explicit user "retry sync" action or a reconnect handler.
func (s *Service) RetryFailed(ctx context.Context) (Result, error) {
	s.mu.Lock()
	reset := 0
	for _, op := range s.ops {
		if op.Status == StatusFailed {
			op.Status = StatusPending
			op.RetryCount = 0
			op.Error = ""
			reset++
		}
	}
	if reset > 0 {
		if err := s.persistLocked(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist queue after retry reset")
		}
	}
	s.mu.Unlock()

	s.logger.Info().Int("reset", reset).Msg("Retrying failed offline operations")
	return s.Process(ctx)
}

// OnSync registers a one-shot callback fired after the next drain pass
// with its aggregate success. Callbacks are cleared after firing; they are
// not persistent subscriptions.
func (s *Service) OnSync(fn func(success bool)) {
	s.mu.Lock()
	s.onSync = append(s.onSync, fn)
	s.mu.Unlock()
}

// Len returns the current number of queued operations.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Operations returns a snapshot of the queue in order.
func (s *Service) Operations() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, len(s.ops))
	for i, op := range s.ops {
		out[i] = *op
	}
	return out
}

// QueueStats returns per-status counts and the terminal failures, so a UI
// can show a sync-failed indicator.
func (s *Service) QueueStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	for _, op := range s.ops {
		switch op.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusFailed:
			stats.Failed++
			stats.FailedOps = append(stats.FailedOps, *op)
		case StatusCompleted:
			stats.Completed++
		}
	}
	return stats
}

// load restores the persisted queue, defaulting fields written by older
// app versions.
func (s *Service) load(ctx context.Context) {
	raw, err := s.store.Get(ctx, s.key)
	if err != nil {
		if err != store.ErrNotFound {
			s.logger.Warn().Err(err).Msg("Failed to load offline queue")
		}
		return
	}

	var ops []*Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		s.logger.Error().Err(err).Msg("Corrupted offline queue, starting empty")
		return
	}

	for _, op := range ops {
		if op == nil {
			continue
		}
		if op.MaxRetries <= 0 {
			op.MaxRetries = DefaultMaxRetries
		}
		if op.Status == "" {
			op.Status = StatusPending
		}
		s.ops = append(s.ops, op)
	}
	queueDepth.Set(float64(len(s.ops)))

	s.logger.Debug().Int("operations", len(s.ops)).Msg("Offline queue loaded")
}

// persistLocked writes the whole queue list. Callers hold s.mu.
func (s *Service) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(s.ops)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	if err := s.store.Save(ctx, s.key, raw); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}
