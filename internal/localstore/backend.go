package localstore

import "context"

// UpdateFunc receives the current value for a key (ok is false when the key is
// absent) and returns the value to store. Returning a nil slice leaves the
// stored value untouched. A non-nil error aborts the update and is returned to
// the caller unchanged.
type UpdateFunc func(cur []byte, ok bool) ([]byte, error)

// Backend persists opaque values under string keys.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
	// Update performs an atomic read-modify-write of one key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
