package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply string
	err   error
}

func (f fakeProvider) Chat(ctx context.Context, msgs []Message, model string) (string, error) {
	return f.reply, f.err
}

func TestExtractJSONStripsCodeFence(t *testing.T) {
	var out []string
	p := fakeProvider{reply: "```json\n[\"a\",\"b\"]\n```"}
	require.NoError(t, ExtractJSON(context.Background(), p, "m", "prompt", &out))
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestExtractJSONMalformedIsNotAnError(t *testing.T) {
	var out []string
	p := fakeProvider{reply: "not json at all"}
	err := ExtractJSON(context.Background(), p, "m", "prompt", &out)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestExtractJSONProviderError(t *testing.T) {
	var out []string
	p := fakeProvider{err: assert.AnError}
	err := ExtractJSON(context.Background(), p, "m", "prompt", &out)
	assert.Error(t, err)
}
