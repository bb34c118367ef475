package kv

import (
	"context"
	"strconv"
)

// Store is a flat key-value store holding opaque serialized blobs.
// Get reports ok=false for a missing key; that is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpError reports a failed backend operation on one key.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + " " + strconv.Quote(e.Key) + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
