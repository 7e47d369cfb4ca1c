package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpType identifies the remote cart write an operation replays.
type OpType string

const (
	OpAdd          OpType = "add"
	OpUpdate       OpType = "update"
	OpRemove       OpType = "remove"
	OpClear        OpType = "clear"
	OpApplyCoupon  OpType = "apply_coupon"
	OpRemoveCoupon OpType = "remove_coupon"
)

// Status is an operation's position in its lifecycle:
// pending → processing → {completed | pending again | failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Operation is one queued cart mutation. The whole queue is persisted as a
// JSON array after every mutation, so the format must stay
// backward-readable across app upgrades: unknown fields are ignored and
// missing fields are defaulted on load.
type Operation struct {
	// ID is unique, derived from type, timestamp and a random suffix.
	ID string `json:"id"`

	// Type selects the remote write to replay.
	Type OpType `json:"type"`

	// Timestamp is the enqueue time (RFC 3339 in the persisted form).
	Timestamp time.Time `json:"timestamp"`

	// Data is the operation-specific payload (ItemData, CouponData).
	Data json.RawMessage `json:"data,omitempty"`

	// RetryCount counts failed replay attempts; the operation turns
	// terminal failed once RetryCount reaches MaxRetries.
	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	Status Status `json:"status"`

	// Error holds the last failure reason, if any.
	Error string `json:"error,omitempty"`
}

// ItemData is the payload for add, update and remove operations.
type ItemData struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
}

// CouponData is the payload for coupon operations.
type CouponData struct {
	Code string `json:"code"`
}

// newOperationID builds a unique operation ID from the type, the enqueue
// time and a random suffix.
func newOperationID(typ OpType, at time.Time) string {
	return fmt.Sprintf("%s_%d_%s", typ, at.UnixMilli(), uuid.NewString()[:8])
}
