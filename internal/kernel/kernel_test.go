package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/config"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/ingest"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Graph.Backend = "memory"
	cfg.Vector.Backend = "memory"
	cfg.Vector.Dimensions = 4
	cfg.Identity.Backend = "memory"
	cfg.Ingestion.QueueDepth = 8
	cfg.Ingestion.MaxWorkers = 1
	cfg.Extractor.RepresentativeOne = 5
	cfg.Extractor.MaxLLMCalls = 10
	cfg.Consult.Alpha = 0.7
	cfg.Consult.SpreadGamma = 0.5
	cfg.Consult.MaxHops = 2
	cfg.Reflection.Enabled = false
	return cfg
}

func TestNewAssemblesAllComponentsWithMemoryBackends(t *testing.T) {
	k, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer k.Close()

	assert.NotNil(t, k.Graph)
	assert.NotNil(t, k.Vector)
	assert.NotNil(t, k.Identity)
	assert.NotNil(t, k.Policy)
	assert.NotNil(t, k.Activation)
	assert.NotNil(t, k.Extractor)
	assert.NotNil(t, k.Curator)
	assert.NotNil(t, k.Ingest)
	assert.NotNil(t, k.Consult)
	assert.Nil(t, k.Reflection, "reflection loop should be nil when disabled in config")
}

func TestKernelIngestReachesDoneEndToEnd(t *testing.T) {
	k, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer k.Close()

	stats, err := k.Ingest.Submit(context.Background(), &ingest.Job{
		Kind:          ingest.KindConversationTurn,
		Namespace:     "user_test",
		UserText:      "my favorite color is blue",
		AssistantText: "noted",
	})
	require.NoError(t, err)
	assert.Equal(t, ingest.StateDone, stats.State)
}

func TestKernelConsultDegradesWithoutLLM(t *testing.T) {
	k, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer k.Close()

	_, err = k.Graph.Upsert(context.Background(), &graph.Node{
		Namespace: "user_test", Name: "Alice", Kind: graph.KindEntity, Description: "a friend", Activation: 0.5,
	})
	require.NoError(t, err)

	resp := k.Consult.Consult(context.Background(), "tester", "user_test", "tell me about alice")
	assert.Equal(t, 0.0, resp.Confidence)
}
