package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRespectsNamespaceIsolation(t *testing.T) {
	idx := NewMemoryIndex(3)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, "ns1", "a", []float32{1, 0, 0}, nil))
	require.NoError(t, idx.Add(ctx, "ns2", "b", []float32{1, 0, 0}, nil))

	out, err := idx.Search(ctx, "ns1", []float32{1, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestSearchAppliesMinScore(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, "ns1", "close", []float32{1, 0}, nil))
	require.NoError(t, idx.Add(ctx, "ns1", "orthogonal", []float32{0, 1}, nil))

	out, err := idx.Search(ctx, "ns1", []float32{1, 0}, 10, MinScoreDedup, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "close", out[0].ID)
}

func TestRemoveDeletesVector(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, "ns1", "a", []float32{1, 0}, nil))
	require.NoError(t, idx.Remove(ctx, "ns1", "a"))
	out, err := idx.Search(ctx, "ns1", []float32{1, 0}, 10, -1, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
