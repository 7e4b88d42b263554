package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reassemble(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestSplitExactPartitionInSuffixMode(t *testing.T) {
	text := strings.Repeat("the quick brown fox. ", 200)
	cfg := Config{ChunkSize: 50, Delimiters: []rune{'.', '\n'}, ForwardFallback: true}
	chunks := Split(text, cfg)
	require.NotEmpty(t, chunks)
	assert.Equal(t, text, reassemble(chunks))
}

func TestSplitNoChunkExceedsDoubleSize(t *testing.T) {
	text := strings.Repeat("a", 500)
	cfg := Config{ChunkSize: 50, Delimiters: []rune{'.', '\n'}, ForwardFallback: true}
	chunks := Split(text, cfg)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), cfg.ChunkSize*2)
	}
}

func TestSplitOnlyFinalChunkMayBeShort(t *testing.T) {
	text := strings.Repeat("word ", 400)
	cfg := Config{ChunkSize: 100, Delimiters: []rune{' '}, ForwardFallback: true}
	chunks := Split(text, cfg)
	require.Greater(t, len(chunks), 1)
	minLen := cfg.ChunkSize / 4
	for i, c := range chunks[:len(chunks)-1] {
		assert.GreaterOrEqualf(t, len([]rune(c.Text)), minLen, "non-final chunk %d too short", i)
	}
}

func TestSplitPrefixModeExcludesDelimiterFromCurrentChunk(t *testing.T) {
	text := "aaaaaaaaaa.bbbbbbbbbb.cccccccccc.dddddddddd"
	cfg := Config{ChunkSize: 10, Delimiters: []rune{'.'}, PrefixMode: true, ForwardFallback: true}
	chunks := Split(text, cfg)
	require.NotEmpty(t, chunks)
	assert.Equal(t, text, reassemble(chunks))
	assert.False(t, strings.HasSuffix(chunks[0].Text, "."))
}

func TestSplitForwardFallbackWhenNoBackwardDelimiter(t *testing.T) {
	text := strings.Repeat("x", 40) + "." + strings.Repeat("y", 40)
	cfg := Config{ChunkSize: 10, Delimiters: []rune{'.'}, ForwardFallback: true}
	chunks := Split(text, cfg)
	assert.Equal(t, text, reassemble(chunks))
	assert.True(t, strings.HasSuffix(chunks[0].Text, "."))
}

func TestSplitHardSplitWhenForwardFallbackDisabled(t *testing.T) {
	text := strings.Repeat("z", 205)
	cfg := Config{ChunkSize: 50, Delimiters: []rune{'.'}, ForwardFallback: false}
	chunks := Split(text, cfg)
	assert.Equal(t, text, reassemble(chunks))
	assert.Equal(t, 50, len([]rune(chunks[0].Text)))
}

func TestSplitFinalChunkTakesAllRemainder(t *testing.T) {
	text := strings.Repeat("m", 120)
	cfg := Config{ChunkSize: 100, Delimiters: []rune{'.'}, ForwardFallback: true}
	chunks := Split(text, cfg)
	last := chunks[len(chunks)-1]
	assert.Equal(t, len([]rune(text)), last.EndOffset)
}

func TestSplitEmptyTextReturnsNil(t *testing.T) {
	assert.Nil(t, Split("", DefaultConfig()))
}
