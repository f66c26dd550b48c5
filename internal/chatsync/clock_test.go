package chatsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/na7dx/packetnode/internal/chatsync"
)

func TestIncrementBumpsOwnEntry(t *testing.T) {
	vc := chatsync.VectorClock{}
	vc = vc.Increment("a")
	vc = vc.Increment("a")
	assert.Equal(t, 2, vc["a"])
}

func TestMergeTakesPointwiseMax(t *testing.T) {
	a := chatsync.VectorClock{"a": 3, "b": 1}
	b := chatsync.VectorClock{"a": 1, "b": 5, "c": 2}
	merged := a.Merge(b)
	assert.Equal(t, 3, merged["a"])
	assert.Equal(t, 5, merged["b"])
	assert.Equal(t, 2, merged["c"])
}

func TestDominatesStrictlyGreater(t *testing.T) {
	a := chatsync.VectorClock{"a": 2}
	b := chatsync.VectorClock{"a": 1}
	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
}

func TestConcurrentWhenNeitherDominates(t *testing.T) {
	a := chatsync.VectorClock{"a": 2, "b": 0}
	b := chatsync.VectorClock{"a": 0, "b": 2}
	assert.True(t, chatsync.Concurrent(a, b))
}

func TestEmptyOtherIsDominated(t *testing.T) {
	a := chatsync.VectorClock{"a": 1}
	assert.True(t, a.Dominates(chatsync.VectorClock{}))
}
