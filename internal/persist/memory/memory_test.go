package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/persist"
	"github.com/na7dx/packetnode/internal/persist/memory"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	type payload struct{ N int }
	require.NoError(t, s.Save(ctx, "k", payload{N: 7}))

	var out payload
	require.NoError(t, s.Load(ctx, "k", &out))
	assert.Equal(t, 7, out.N)
}

func TestLoadMissingKeyReturnsNotFound(t *testing.T) {
	s := memory.New()
	var out struct{}
	err := s.Load(context.Background(), "missing", &out)
	assert.ErrorIs(t, err, persist.ErrNotFound)
}
