package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/persist"
	"github.com/na7dx/packetnode/internal/persist/sqlite"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	type payload struct{ N int }
	require.NoError(t, s.Save(ctx, "k", payload{N: 9}))

	var out payload
	require.NoError(t, s.Load(ctx, "k", &out))
	assert.Equal(t, 9, out.N)
}

func TestSaveUpserts(t *testing.T) {
	s, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "k", "first"))
	require.NoError(t, s.Save(ctx, "k", "second"))

	var out string
	require.NoError(t, s.Load(ctx, "k", &out))
	assert.Equal(t, "second", out)
}

func TestLoadMissingKeyReturnsNotFound(t *testing.T) {
	s, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	var out string
	err = s.Load(context.Background(), "missing", &out)
	assert.ErrorIs(t, err, persist.ErrNotFound)
}
