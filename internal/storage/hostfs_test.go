package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFS_AppendAndReadRoundTrips(t *testing.T) {
	// Given: a fresh host-filesystem backend
	b, err := NewHostFS(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	h, err := b.OpenOrCreate(ctx, "victor.bin")
	require.NoError(t, err)

	// When: appending two chunks
	require.NoError(t, h.Append(ctx, []byte("hello ")))
	require.NoError(t, h.Append(ctx, []byte("victor")))

	// Then: ReadAll sees both, in order
	all, err := h.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello victor", string(all))

	// And: ReadRange returns an arbitrary slice
	mid, err := h.ReadRange(ctx, 6, 6)
	require.NoError(t, err)
	assert.Equal(t, "victor", string(mid))
}

func TestHostFS_TruncateShrinksFile(t *testing.T) {
	b, err := NewHostFS(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	h, err := b.OpenOrCreate(ctx, "victor.bin")
	require.NoError(t, err)
	require.NoError(t, h.Append(ctx, []byte("0123456789")))

	require.NoError(t, h.Truncate(ctx, 4))

	size, err := h.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	data, err := h.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestHostFS_RemoveThenOpenOrCreateStartsFresh(t *testing.T) {
	b, err := NewHostFS(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	h, err := b.OpenOrCreate(ctx, "victor.bin")
	require.NoError(t, err)
	require.NoError(t, h.Append(ctx, []byte("data")))
	require.NoError(t, h.Close())

	require.NoError(t, b.Remove(ctx, "victor.bin"))

	h2, err := b.OpenOrCreate(ctx, "victor.bin")
	require.NoError(t, err)
	defer h2.Close()

	size, err := h2.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestNewHostFS_SecondOpenOfSameRootFailsToLock(t *testing.T) {
	// Given: a root directory already opened once
	root := t.TempDir()
	first, err := NewHostFS(root)
	require.NoError(t, err)
	defer first.Close()

	// When: a second backend tries to open the same root
	_, err = NewHostFS(root)

	// Then: it fails fast instead of sharing the file silently
	assert.Error(t, err)
}

func TestCachingBackend_ReusesHandleForSameName(t *testing.T) {
	inner, err := NewHostFS(t.TempDir())
	require.NoError(t, err)
	defer inner.Close()

	cached, err := NewCachingBackend(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	h1, err := cached.OpenOrCreate(ctx, "victor.bin")
	require.NoError(t, err)
	h2, err := cached.OpenOrCreate(ctx, "victor.bin")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
}
