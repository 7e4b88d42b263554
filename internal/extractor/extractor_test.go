package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singularity-rmk/internal/llm"
)

type stubProvider struct {
	reply string
	calls int
}

func newStub(reply string) *stubProvider { return &stubProvider{reply: reply} }

func (s *stubProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (string, error) {
	s.calls++
	return s.reply, nil
}

func TestExtractShortCircuitsOnChitchat(t *testing.T) {
	p := newStub(`[]`)
	e := New(p, "test-model")
	drafts := e.Extract(context.Background(), "thanks", "goodbye!")
	assert.Empty(t, drafts)
	assert.Equal(t, 0, p.calls)
}

func TestExtractParsesJSONArray(t *testing.T) {
	p := newStub(`[{"name":"Alice","kind":"Entity","description":"User's sister","tags":["family"],"relations":[]}]`)
	e := New(p, "test-model")
	drafts := e.Extract(context.Background(), "My sister Alice is visiting", "Nice!")
	require.Len(t, drafts, 1)
	assert.Equal(t, "Alice", drafts[0].Name)
}

func TestExtractReturnsEmptyOnUnparsableResponse(t *testing.T) {
	p := newStub("not json at all")
	e := New(p, "test-model")
	drafts := e.Extract(context.Background(), "My sister Alice is visiting", "Nice!")
	assert.Empty(t, drafts)
}

func TestTier1RegexFindsEmailsAndMoney(t *testing.T) {
	text := "Contact me at jane@example.com, invoice was $1,250.00 on 2024-05-01."
	drafts := tier1Regex(text)
	var names []string
	for _, d := range drafts {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "jane@example.com")
	assert.Contains(t, names, "$1,250.00")
	assert.Contains(t, names, "2024-05-01")
}

func TestSelectRepresentativesTakesEveryNth(t *testing.T) {
	chunks := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	reps := selectRepresentatives(chunks, 5)
	assert.Equal(t, []string{"a", "f"}, reps)
}

func TestExtractDocumentRespectsLLMCallBudget(t *testing.T) {
	p := newStub(`[]`)
	e := New(p, "test-model", WithRepresentativeSampling(1), WithMaxLLMCalls(2))
	chunks := []string{"one", "two", "three", "four", "five"}
	result := e.ExtractDocument(context.Background(), strings.Join(chunks, " "), chunks)
	assert.Equal(t, 2, result.Stats.Tier3LLMCalls)
	assert.Equal(t, 5, result.Stats.Tier2Reps)
	assert.Equal(t, 2, p.calls)
}
