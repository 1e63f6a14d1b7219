package localstore

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

// Collection is a JSON array of T stored under a single key. Items are
// identified by a string id reached through the accessor given to
// NewCollection.
type Collection[T any] struct {
	store    *Store
	key      string
	resource string
	idOf     func(*T) *string
}

// NewCollection binds a collection to key. resource names the item type in
// not-found errors.
func NewCollection[T any](store *Store, key, resource string, idOf func(*T) *string) *Collection[T] {
	return &Collection[T]{store: store, key: key, resource: resource, idOf: idOf}
}

// All returns every item. A collection that was never written is empty.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	var items []T
	if _, err := c.store.Get(ctx, c.key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AddItem appends item, assigning a new id when it has none.
func (c *Collection[T]) AddItem(ctx context.Context, item T) (T, error) {
	if id := c.idOf(&item); *id == "" {
		*id = uuid.NewString()
	}
	err := c.Mutate(ctx, func(items []T) ([]T, error) {
		return append(items, item), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return item, nil
}

// UpdateItem applies mutate to the item with the given id and stores the
// result. The id itself cannot be changed.
func (c *Collection[T]) UpdateItem(ctx context.Context, id string, mutate func(*T) error) (T, error) {
	var updated T
	err := c.Mutate(ctx, func(items []T) ([]T, error) {
		i := c.indexOf(items, id)
		if i < 0 {
			return nil, apperrors.NotFound(c.resource, id)
		}
		if err := mutate(&items[i]); err != nil {
			return nil, err
		}
		*c.idOf(&items[i]) = id
		updated = items[i]
		return items, nil
	})
	return updated, err
}

// RemoveItem deletes the item with the given id.
func (c *Collection[T]) RemoveItem(ctx context.Context, id string) error {
	return c.Mutate(ctx, func(items []T) ([]T, error) {
		i := c.indexOf(items, id)
		if i < 0 {
			return nil, apperrors.NotFound(c.resource, id)
		}
		return append(items[:i], items[i+1:]...), nil
	})
}

// Mutate runs fn over the whole collection inside one critical section. An
// error from fn leaves the stored collection unchanged.
func (c *Collection[T]) Mutate(ctx context.Context, fn func(items []T) ([]T, error)) error {
	return Update(ctx, c.store, c.key, func(items []T, _ bool) ([]T, error) {
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []T{}
		}
		return next, nil
	})
}

func (c *Collection[T]) indexOf(items []T, id string) int {
	for i := range items {
		if *c.idOf(&items[i]) == id {
			return i
		}
	}
	return -1
}
