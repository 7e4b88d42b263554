package visiontree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEmptyLeavesReturnsEmptyTree(t *testing.T) {
	tree := Build(nil, DefaultBranching)
	assert.Empty(t, tree.Nodes)
	assert.Empty(t, tree.Root)
}

func TestBuildSingleLeafIsItsOwnRoot(t *testing.T) {
	leaves := []Leaf{{ID: "c1", Vector: []float32{1, 0, 0}, Text: "hello"}}
	tree := Build(leaves, DefaultBranching)
	require.Len(t, tree.Nodes, 1)
	assert.Equal(t, "c1", tree.Root)
}

func TestBuildProducesSingleRootAboveBranchingFactor(t *testing.T) {
	var leaves []Leaf
	for i := 0; i < 25; i++ {
		v := float32(i)
		leaves = append(leaves, Leaf{ID: leafID(i), Vector: []float32{v, v, v}, Text: "chunk"})
	}
	tree := Build(leaves, 10)
	require.NotEmpty(t, tree.Root)

	root, ok := tree.Nodes[tree.Root]
	require.True(t, ok)
	assert.NotEmpty(t, root.ChildIDs)
	assert.Len(t, tree.Leaves(), 25)
}

func TestMeanPoolIsDeterministicForSameChildren(t *testing.T) {
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	first := meanPool(vectors)
	second := meanPool(vectors)
	assert.Equal(t, first, second)
	assert.Equal(t, []float32{4, 5, 6}, first)
}

func TestBuildIsDeterministicAcrossRuns(t *testing.T) {
	var leaves []Leaf
	for i := 0; i < 14; i++ {
		v := float32(i % 4)
		leaves = append(leaves, Leaf{ID: leafID(i), Vector: []float32{v, v * 2, v * 3}, Text: "chunk"})
	}
	first := Build(leaves, 5)
	second := Build(leaves, 5)

	require.Equal(t, len(first.Nodes), len(second.Nodes))
	for id, n := range first.Nodes {
		other, ok := second.Nodes[id]
		require.True(t, ok, "node %s missing on rebuild", id)
		assert.Equal(t, n.Vector, other.Vector)
		assert.ElementsMatch(t, n.ChildIDs, other.ChildIDs)
	}
	assert.Equal(t, first.Root, second.Root)
}

func TestKmeansAssignsEveryPointWhenKExceedsN(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	assignments := kmeans(vectors, 5)
	assert.Equal(t, []int{0, 1}, assignments)
}

func leafID(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return "leaf-" + string(alphabet[i%len(alphabet)]) + string(rune('0'+i/len(alphabet)))
}
