package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freegame-watcher/internal/dedupstore"
)

var _ dedupstore.Backend = (*BlobStore)(nil)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "a.dedup.le.sz")
	require.ErrorIs(t, err, dedupstore.ErrNotFound)

	data := []byte{1, 2, 3}
	require.NoError(t, s.Put(ctx, "a.dedup.le.sz", data))
	data[0] = 9

	got, err := s.Get(ctx, "a.dedup.le.sz")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got)
	require.Equal(t, []string{"a.dedup.le.sz"}, s.Names())
}
