package curator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/extractor"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
	"singularity-rmk/internal/vectorindex"
)

type fakeEmbedder struct {
	vec  []float32
	dim  int
	seq  [][]float32 // if set, consumed in order across successive Embed calls
	next int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		if f.seq != nil {
			out[i] = f.seq[f.next%len(f.seq)]
			f.next++
			continue
		}
		out[i] = f.vec
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dim }

type stubLLM struct {
	reply string
}

func (s *stubLLM) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	return s.reply, nil
}

func TestCanonicalizeFoldsCaseAndPunctuation(t *testing.T) {
	assert.Equal(t, "barack obama", Canonicalize("  Barack   Obama.  "))
}

func TestCurateCreatesNewNodeWhenNoCandidates(t *testing.T) {
	store := graph.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}, dim: 3}
	c := New(store, idx, embedder, nil, "")

	res, err := c.Curate(context.Background(), "ns1", extractor.EntityDraft{Name: "Alice", Kind: graph.KindEntity, Description: "a person"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	n, ok, err := store.Get(context.Background(), "ns1", res.NodeID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", n.Name)
}

func TestCurateMergesNearDuplicate(t *testing.T) {
	store := graph.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}, dim: 3}
	c := New(store, idx, embedder, nil, "")
	ctx := context.Background()

	first, err := c.Curate(ctx, "ns1", extractor.EntityDraft{Name: "Barack Obama", Kind: graph.KindEntity, Description: "44th president", Tags: []string{"politics"}})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Outcome)

	second, err := c.Curate(ctx, "ns1", extractor.EntityDraft{Name: "Obama", Kind: graph.KindEntity, Description: "a leader I admire", Tags: []string{"admired"}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, second.Outcome)
	assert.Equal(t, first.NodeID, second.NodeID)

	n, _, err := store.Get(ctx, "ns1", second.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "1", n.Attributes["merge_count"])
	assert.ElementsMatch(t, []string{"politics", "admired"}, n.Tags)
}

func TestCurateResolvesContradictionNewerWins(t *testing.T) {
	store := graph.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	embedder := &fakeEmbedder{dim: 3, seq: [][]float32{{1, 0, 0}, {0.8, 0.6, 0}}}
	provider := &stubLLM{reply: `{"contradicts": true}`}
	c := New(store, idx, embedder, provider, "test-model")
	ctx := context.Background()

	first, err := c.Curate(ctx, "ns1", extractor.EntityDraft{Name: "favorite color", Kind: graph.KindPreference, Description: "my favorite color is blue"})
	require.NoError(t, err)

	// One reply serves both calls: the contradiction check reads
	// "contradicts", the resolver reads the abstaining "winner", so the
	// newer (draft) fact wins.
	provider.reply = `{"contradicts": true, "winner": ""}`
	second, err := c.Curate(ctx, "ns1", extractor.EntityDraft{Name: "favorite color", Kind: graph.KindPreference, Description: "my favorite color is red"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContradicted, second.Outcome)
	assert.NotEqual(t, first.NodeID, second.NodeID)

	winner, _, err := store.Get(ctx, "ns1", second.NodeID)
	require.NoError(t, err)
	assert.Contains(t, winner.Description, "red")

	loser, _, err := store.Get(ctx, "ns1", first.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "true", loser.Attributes["superseded"])
}
