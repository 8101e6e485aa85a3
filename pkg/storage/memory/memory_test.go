package memory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	key, err := s.Store(ctx, strings.NewReader("zip-bytes"), "batches/1/archive.zip")
	require.NoError(t, err)
	assert.Equal(t, "batches/1/archive.zip", key)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageCleanupBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	_, _ = s.Store(ctx, strings.NewReader("a"), "old")
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, _ = s.Store(ctx, strings.NewReader("b"), "new")

	require.NoError(t, s.CleanupBefore(ctx, base.Add(time.Hour)))
	assert.Equal(t, []string{"new"}, s.Keys())
}
