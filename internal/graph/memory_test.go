package graph

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertRequiresNamespace(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Upsert(context.Background(), &Node{Name: "Alice", Kind: KindEntity})
	assert.Error(t, err)
}

func TestUpsertDedupesByNamespaceNameKind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id1, err := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "Alice", Kind: KindEntity})
	require.NoError(t, err)
	id2, err := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "alice", Kind: KindEntity})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := s.Upsert(ctx, &Node{Namespace: "ns2", Name: "Alice", Kind: KindEntity})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestEdgeWeightDefaultsTo0_5(t *testing.T) {
	e := Edge{Source: "a", Rel: EdgeRelatedTo, Target: "b"}
	assert.Equal(t, DefaultEdgeWeight, e.WeightOrDefault())
	e.Weight = 0.9
	assert.Equal(t, 0.9, e.WeightOrDefault())
}

func TestExpandRespectsNamespaceAndEdgeKindFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "A", Kind: KindEntity})
	b, _ := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "B", Kind: KindEntity})
	other, _ := s.Upsert(ctx, &Node{Namespace: "ns2", Name: "Other", Kind: KindEntity})

	require.NoError(t, s.UpsertEdge(ctx, Edge{Source: a, Rel: EdgeLikes, Target: b}))
	require.NoError(t, s.UpsertEdge(ctx, Edge{Source: a, Rel: EdgeWorksAt, Target: other}))

	sub, err := s.Expand(ctx, "ns1", []string{a}, 2, []EdgeKind{EdgeLikes})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, n := range sub.Nodes {
		ids[n.ID] = true
	}
	assert.True(t, ids[b])
	assert.False(t, ids[other])
}

func TestExpandBoundsFanOut(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "Hub", Kind: KindEntity})
	for i := 0; i < MaxFanOutPerHop+20; i++ {
		n, _ := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "leaf-" + strconv.Itoa(i), Kind: KindEntity, Description: randSuffix(i)})
		require.NoError(t, s.UpsertEdge(ctx, Edge{Source: a, Rel: EdgeRelatedTo, Target: n}))
	}
	sub, err := s.Expand(ctx, "ns1", []string{a}, 1, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sub.Edges), MaxFanOutPerHop)
}

func randSuffix(i int) string {
	return string(rune('a' + i%26))
}

func TestFullTextSearchReturnsOnlyMatchingNodes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Upsert(ctx, &Node{Namespace: "ns1", Name: "coffee shop", Kind: KindFact, Description: "likes coffee in the morning"})
	_, _ = s.Upsert(ctx, &Node{Namespace: "ns1", Name: "tea", Kind: KindFact, Description: "unrelated"})

	out, err := s.FullText(ctx, "ns1", []string{"coffee"}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "coffee shop", out[0].Name)
}

func TestDeleteRemovesNode(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Upsert(ctx, &Node{Namespace: "ns1", Name: "Gone", Kind: KindEntity})
	require.NoError(t, s.Delete(ctx, "ns1", id))
	_, ok, err := s.Get(ctx, "ns1", id)
	require.NoError(t, err)
	assert.False(t, ok)
}
