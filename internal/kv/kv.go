// Package kv provides the durable key-value storage the offline queue persists
// into. Backends are deliberately tiny: the queue store serializes its whole
// collection under a single key, so a KV only needs Get/Put/Delete.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or was
// deleted. Callers treat it as "empty state", not a failure.
var ErrNotFound = errors.New("kv: key not found")

// KV is a minimal durable key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
