package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/chunker"
	"singularity-rmk/internal/curator"
	"singularity-rmk/internal/extractor"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
	"singularity-rmk/internal/rmkerrors"
	"singularity-rmk/internal/vectorindex"
)

type stubLLM struct{ reply string }

func (s *stubLLM) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	return s.reply, nil
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dim }

func newTestCoordinator(t *testing.T, queueDepth, workers int) *Coordinator {
	t.Helper()
	store := graph.NewMemoryStore()
	idx := vectorindex.NewMemoryIndex(3)
	embedder := &fakeEmbedder{dim: 3}
	ex := extractor.New(&stubLLM{reply: `[{"name":"Alice","kind":"Entity","description":"a friend","tags":[],"relations":[]}]`}, "test-model")
	cur := curator.New(store, idx, embedder, nil, "")
	return New(Deps{
		Store:      store,
		Extractor:  ex,
		Curator:    cur,
		ChunkCfg:   chunker.DefaultConfig(),
		QueueDepth: queueDepth,
		Workers:    workers,
	})
}

func TestSubmitConversationTurnReachesDone(t *testing.T) {
	c := newTestCoordinator(t, 4, 2)
	defer c.Stop()

	st, err := c.Submit(context.Background(), &Job{
		Kind:          KindConversationTurn,
		Namespace:     "ns1",
		UserText:      "My friend Alice is visiting this weekend.",
		AssistantText: "That sounds fun!",
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, 1, st.NodesCreated)
}

func TestSubmitEmptyTurnYieldsZeroedDone(t *testing.T) {
	c := newTestCoordinator(t, 4, 2)
	defer c.Stop()

	st, err := c.Submit(context.Background(), &Job{Kind: KindConversationTurn, Namespace: "ns1"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, 0, st.DraftsExtracted)
}

func TestSubmitOverloadedWhenQueueFull(t *testing.T) {
	c := newTestCoordinator(t, 1, 1)
	defer c.Stop()
	// New always starts workers (Workers <= 0 becomes 4); stop them so
	// nothing drains the queue.
	c.Stop()

	// Fill the single queue slot directly so Submit's non-blocking send fails.
	c.queue <- &Job{Kind: KindConversationTurn, Namespace: "ns1", result: make(chan Stats, 1)}

	_, err := c.Submit(context.Background(), &Job{Kind: KindConversationTurn, Namespace: "ns1", UserText: "x"})
	require.Error(t, err)
	assert.Equal(t, rmkerrors.Overloaded, rmkerrors.CodeOf(err))
}

func TestNamespaceLockSerializesPerNamespace(t *testing.T) {
	c := newTestCoordinator(t, 16, 4)
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Submit(context.Background(), &Job{
				Kind:          KindConversationTurn,
				Namespace:     "shared-ns",
				UserText:      "My friend Alice stopped by.",
				AssistantText: "Nice!",
			})
		}()
	}
	wg.Wait()
	// All 5 concurrent submissions referencing "Alice" must dedup to one node.
	l := c.namespaceLock("shared-ns")
	assert.NotNil(t, l)
	nodes, err := c.store.QueryByName(context.Background(), "shared-ns", "alice", graph.KindEntity)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
