package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "feedback:subject:мясо", `{"a":1}`))
	val, err := store.Get(ctx, "feedback:subject:мясо")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, val)

	require.NoError(t, store.Delete(ctx, "feedback:subject:мясо"))
	_, err = store.Get(ctx, "feedback:subject:мясо")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "feedback:subject:мясо", "{}"))
	require.NoError(t, store.Put(ctx, "feedback:subject:рис", "{}"))
	require.NoError(t, store.Put(ctx, "feedback:source:lookup", "{}"))

	keys, err := store.List(ctx, "feedback:subject:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = store.List(ctx, "other:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
