// Package codec serializes cache payloads to JSON and transparently
// compresses large values with brotli.
//
// Compressed payloads are stored as a JSON string containing the
// base64-encoded brotli stream, so the persisted entry remains a valid JSON
// document regardless of compression. Decode tolerates payloads written by
// older versions that were never compressed, and reports corrupted input as
// an error so callers can treat it as a cache miss and re-fetch.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

const (
	// CompressionThreshold is the encoded size above which payloads are
	// compressed even when the caller did not ask for it.
	CompressionThreshold = 10 * 1024
)

var (
	// ErrCorrupted indicates the payload could not be decoded in any of the
	// supported shapes (compressed, legacy plain JSON).
	ErrCorrupted = errors.New("codec: corrupted payload")
)

// Encode serializes v to JSON and compresses the result when force is set or
// the encoded size exceeds CompressionThreshold.
// It returns the payload to persist, whether it was compressed, and the
// payload size in bytes.
func Encode(v any, force bool) (payload json.RawMessage, compressed bool, size int, err error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, false, 0, fmt.Errorf("marshal payload: %w", err)
	}

	if !force && len(encoded) <= CompressionThreshold {
		return encoded, false, len(encoded), nil
	}

	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(encoded); err != nil {
		return nil, false, 0, fmt.Errorf("brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, false, 0, fmt.Errorf("brotli close: %w", err)
	}

	wrapped, err := json.Marshal(base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		return nil, false, 0, fmt.Errorf("marshal compressed payload: %w", err)
	}

	// Compression can lose on small or high-entropy payloads; keep the
	// plain form when it is not larger.
	if !force && len(wrapped) >= len(encoded) {
		return encoded, false, len(encoded), nil
	}

	return wrapped, true, len(wrapped), nil
}

// Decode reverses Encode into dest.
//
// When compressed is set the payload is expected to be a JSON string holding
// base64-encoded brotli data, but Decode also recovers payloads that carry a
// stale compressed flag over plain JSON (written before compression was
// introduced). Unrecoverable input yields ErrCorrupted.
func Decode(payload json.RawMessage, compressed bool, dest any) error {
	if len(payload) == 0 {
		return ErrCorrupted
	}

	if !compressed {
		if err := json.Unmarshal(payload, dest); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		return nil
	}

	var encoded string
	if err := json.Unmarshal(payload, &encoded); err != nil {
		// Flag says compressed but the payload is not a JSON string:
		// legacy plain JSON entry.
		if err := json.Unmarshal(payload, dest); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: invalid base64: %v", ErrCorrupted, err)
	}

	decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return fmt.Errorf("%w: brotli read: %v", ErrCorrupted, err)
	}

	if err := json.Unmarshal(decompressed, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return nil
}
