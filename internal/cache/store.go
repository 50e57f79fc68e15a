// Package cache provides the persistent asset store: a key to binary-blob
// mapping addressed by catalog entry id. Store failures are reported as
// typed cache errors so callers can log and continue; a failed put never
// invalidates a buffer already held by the caller.
package cache

import "context"

// Store is the asset cache collaborator.
type Store interface {
	// Get returns the blob for id. The second result is false on a miss.
	Get(ctx context.Context, id string) ([]byte, bool, error)
	// Put stores the blob under id, replacing any previous value.
	Put(ctx context.Context, id string, data []byte) error
	// Delete removes one entry. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Keys lists the ids currently present.
	Keys(ctx context.Context) ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

// cacheError wraps a store failure with the operation and asset id for
// logging. It is never fatal to an acquire.
type cacheError struct {
	op  string
	id  string
	err error
}

func (e cacheError) Error() string {
	if e.id == "" {
		return "cache " + e.op + ": " + e.err.Error()
	}
	return "cache " + e.op + " " + e.id + ": " + e.err.Error()
}

func (e cacheError) Unwrap() error { return e.err }

// ErrCache constructs a cache error for the given operation.
func ErrCache(op, id string, err error) error { return cacheError{op: op, id: id, err: err} }

// IsCache reports whether err originated in the cache store.
func IsCache(err error) bool {
	_, ok := err.(cacheError)
	return ok
}
