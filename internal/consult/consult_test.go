package consult

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/activation"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/policy"
	"singularity-rmk/internal/vectorindex"
)

func seedGraphForSpread(t *testing.T) (graph.Store, string, string, string) {
	t.Helper()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	u, err := store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "U", Kind: graph.KindEntity, Activation: 0.5})
	require.NoError(t, err)
	alice, err := store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "Alice", Kind: graph.KindEntity, Activation: 0})
	require.NoError(t, err)
	bob, err := store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "Bob", Kind: graph.KindEntity, Activation: 0})
	require.NoError(t, err)
	require.NoError(t, store.UpsertEdge(ctx, graph.Edge{Source: u, Rel: graph.EdgeFamilyMember, Target: alice, Weight: 0.95}))
	require.NoError(t, store.UpsertEdge(ctx, graph.Edge{Source: u, Rel: graph.EdgeHasManager, Target: bob, Weight: 0.8}))
	return store, u, alice, bob
}

func TestSpreadActivationMatchesWeightedFormula(t *testing.T) {
	store, u, alice, bob := seedGraphForSpread(t)
	e := New(store, vectorindex.NewMemoryIndex(3), nil, nil, nil, nil, "", WithDepth(1), WithGamma(0.5))

	uNode, _, _ := store.Get(context.Background(), "ns1", u)
	acc := e.spreadActivation(context.Background(), "ns1", []*graph.Node{uNode}, nil)

	assert.InDelta(t, 0.2375, acc[alice].Activation, 1e-9)
	assert.InDelta(t, 0.2, acc[bob].Activation, 1e-9)
}

func TestRankOrdersBySpreadActivation(t *testing.T) {
	store, u, alice, bob := seedGraphForSpread(t)
	e := New(store, vectorindex.NewMemoryIndex(3), nil, nil, nil, nil, "", WithDepth(1), WithGamma(0.5), WithAlpha(1.0))

	uNode, _, _ := store.Get(context.Background(), "ns1", u)
	acc := e.spreadActivation(context.Background(), "ns1", []*graph.Node{uNode}, nil)
	var candidates []*scored
	for _, v := range acc {
		candidates = append(candidates, v)
	}
	ranked := e.rank(candidates)
	require.GreaterOrEqual(t, len(ranked), 2)

	var aliceRank, bobRank int
	for i, c := range ranked {
		if c.Node.ID == alice {
			aliceRank = i
		}
		if c.Node.ID == bob {
			bobRank = i
		}
	}
	assert.Less(t, aliceRank, bobRank)
}

func TestPolicyFilterDropsDeniedCandidates(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "Secret", Kind: graph.KindFact, Activation: 0.5})
	n, _, _ := store.Get(ctx, "ns1", id)

	polStore := policy.NewMemoryStore()
	require.NoError(t, polStore.Put(ctx, policy.Policy{ID: "deny-secret", Effect: policy.Deny, Subjects: []string{"*"}, Resources: []string{"node:" + id}, Actions: []string{"*"}}))
	pol := policy.NewEngine(polStore, nil)

	e := New(store, vectorindex.NewMemoryIndex(3), nil, pol, nil, nil, "")
	filtered := e.policyFilter(ctx, "bob", "ns1", map[string]*scored{id: {Node: n, Activation: 0.5}})
	assert.Empty(t, filtered)
}

func TestConsultDegradesWhenNoLLMProvider(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	_, err := store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "Alice", Kind: graph.KindEntity, Description: "a friend", Activation: 0.6})
	require.NoError(t, err)

	activ := activation.NewEngine(store)
	e := New(store, vectorindex.NewMemoryIndex(3), nil, nil, activ, nil, "")
	resp := e.Consult(ctx, "user1", "ns1", "tell me about alice")
	assert.False(t, resp.Partial)
	assert.Equal(t, 0.0, resp.Confidence)
}

func TestConsultReturnsPartialOnCancelledContext(t *testing.T) {
	store := graph.NewMemoryStore()
	e := New(store, vectorindex.NewMemoryIndex(3), nil, nil, nil, nil, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := e.Consult(ctx, "user1", "ns1", "anything")
	assert.True(t, resp.Partial)
}
