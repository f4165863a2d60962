// Package counter holds the visitor count stores.
//
// Every backend is safe for concurrent use and guarantees that concurrent
// Up calls never lose an update. Failures are reported wrapped with either
// ErrStoreUnavailable or ErrStoreProtocol.
package counter

import (
	"context"
	"errors"
)

// DefaultKey is the key the visitor count lives under.
const DefaultKey = "visitor"

var (
	// ErrStoreUnavailable means the store could not be reached or did not answer in time.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreProtocol means the store answered with something unusable, e.g. no value.
	ErrStoreProtocol = errors.New("store protocol error")
)

type Counter interface {
	// Up increments the count by one and returns the new value.
	Up(ctx context.Context) (int64, error)
	Get(ctx context.Context) (int64, error)
	Set(ctx context.Context, v int64) error
}
