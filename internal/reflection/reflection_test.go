package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/activation"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
)

type stubLLM struct{ reply string }

func (s *stubLLM) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	return s.reply, nil
}

func TestSelectPairsOnlyConsidersSharedTags(t *testing.T) {
	a := &graph.Node{ID: "a", Tags: []string{"music"}, Activation: 0.5}
	b := &graph.Node{ID: "b", Tags: []string{"music"}, Activation: 0.52}
	c := &graph.Node{ID: "c", Tags: []string{"food"}, Activation: 0.1}
	pairs := selectPairs([]*graph.Node{a, b, c}, 10)
	require.Len(t, pairs, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{pairs[0].A.ID, pairs[0].B.ID})
}

func TestSelectPairsOrdersBySmallestDelta(t *testing.T) {
	now := time.Now()
	a := &graph.Node{ID: "a", Tags: []string{"t"}, Activation: 0.9, LastAccessed: now}
	b := &graph.Node{ID: "b", Tags: []string{"t"}, Activation: 0.1, LastAccessed: now}
	c := &graph.Node{ID: "c", Tags: []string{"t"}, Activation: 0.89, LastAccessed: now}
	pairs := selectPairs([]*graph.Node{a, b, c}, 10)
	require.Len(t, pairs, 3)
	assert.InDelta(t, 0.01, pairs[0].delta, 1e-9) // a-c is the smallest delta
}

func TestProbeInsightsMaterializesInsightNode(t *testing.T) {
	store := graph.NewMemoryStore()
	ctx := context.Background()
	_, err := store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "jazz", Kind: graph.KindPreference, Tags: []string{"music"}, Activation: 0.5})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, &graph.Node{Namespace: "ns1", Name: "piano lessons", Kind: graph.KindFact, Tags: []string{"music"}, Activation: 0.51})
	require.NoError(t, err)

	provider := &stubLLM{reply: `{"hasInsight": true, "category": "pattern", "description": "likes jazz and takes piano lessons"}`}
	activ := activation.NewEngine(store)
	loop := New(store, activ, provider, "test-model", func() []string { return []string{"ns1"} })

	loop.probeInsights(ctx, "ns1")

	insights, err := store.OrderBy(ctx, "ns1", graph.OrderByActivation, true, 10, map[string]string{})
	require.NoError(t, err)
	found := false
	for _, n := range insights {
		if n.Kind == graph.KindInsight {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunSkipsTickWhileBusy(t *testing.T) {
	store := graph.NewMemoryStore()
	activ := activation.NewEngine(store)
	loop := New(store, activ, nil, "", func() []string { return nil }, WithDecayInterval(10*time.Millisecond))

	loop.running.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	loop.Run(ctx)
	assert.Equal(t, int64(0), loop.ticks.Load())
}
