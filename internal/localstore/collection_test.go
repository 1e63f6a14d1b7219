package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

func newNotes(t *testing.T) *Collection[note] {
	t.Helper()
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return NewCollection(NewStore(fb, 0), "notes", "note", func(n *note) *string { return &n.ID })
}

func TestCollection_AllEmpty(t *testing.T) {
	c := newNotes(t)
	items, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollection_AddItemAssignsID(t *testing.T) {
	c := newNotes(t)
	ctx := context.Background()

	added, err := c.AddItem(ctx, note{Body: "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	kept, err := c.AddItem(ctx, note{ID: "fixed", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", kept.ID)

	items, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCollection_UpdateItem(t *testing.T) {
	c := newNotes(t)
	ctx := context.Background()
	added, err := c.AddItem(ctx, note{Body: "a"})
	require.NoError(t, err)

	updated, err := c.UpdateItem(ctx, added.ID, func(n *note) error {
		n.Body = "changed"
		n.ID = "hijack"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, added.ID, updated.ID)
	assert.Equal(t, "changed", updated.Body)

	_, err = c.UpdateItem(ctx, "missing", func(*note) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCollection_RemoveItem(t *testing.T) {
	c := newNotes(t)
	ctx := context.Background()
	added, err := c.AddItem(ctx, note{Body: "a"})
	require.NoError(t, err)

	require.NoError(t, c.RemoveItem(ctx, added.ID))
	assert.ErrorIs(t, c.RemoveItem(ctx, added.ID), apperrors.ErrNotFound)

	items, err := c.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollection_MutateErrorKeepsState(t *testing.T) {
	c := newNotes(t)
	ctx := context.Background()
	_, err := c.AddItem(ctx, note{ID: "1"})
	require.NoError(t, err)

	err = c.Mutate(ctx, func(items []note) ([]note, error) {
		items[0].Body = "lost"
		return nil, apperrors.InvalidInput("nope")
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	items, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Body)
}
