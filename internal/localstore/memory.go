package localstore

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps values in process memory. Values are copied on the way
// in and out so callers never share a buffer with the backend.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return slices.Clone(v), ok, nil
}

func (b *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = slices.Clone(data)
	return nil
}

func (b *MemoryBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.values[key]
	next, err := fn(slices.Clone(cur), ok)
	if err != nil {
		return err
	}
	if next != nil {
		b.values[key] = slices.Clone(next)
	}
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
