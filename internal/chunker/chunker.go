// Package chunker implements the Chunker (C6): delimiter-aware text
// splitting with forward fallback and hard-split as a last resort,
// ported from the teacher's original_source/ai/memchunker.py pure-Python
// fallback path (the Rust-accelerated fast path has no Go analog in the
// example pack, so the portable algorithm is what's adapted here).
package chunker

// Config mirrors the Python ChunkerConfig.
type Config struct {
	// ChunkSize is the target chunk size in runes.
	ChunkSize int
	// Delimiters is the set of single-rune boundaries to split on.
	Delimiters []rune
	// PrefixMode puts the delimiter at the start of the next chunk instead
	// of the end of the current one.
	PrefixMode bool
	// ForwardFallback searches forward past the window when no delimiter is
	// found backward from the target boundary.
	ForwardFallback bool
}

// DefaultConfig mirrors the Python dataclass defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: 2048, Delimiters: []rune{'\n', '.', '?'}, ForwardFallback: true}
}

// Chunk is one piece of the partition, with its rune offsets into the
// original text and an optional page number carried from the source
// (PDF/document pipelines stamp this; plain text leaves it nil).
type Chunk struct {
	Text         string
	StartOffset  int
	EndOffset    int
	PageNumber   *int
}

// Split partitions text into chunks per Config. The result always
// concatenates back to the original text, and only the final chunk may be
// shorter than ChunkSize/4. A chunk is at most ChunkSize runes, except one
// ended by forward fallback: that chunk runs to the first delimiter after
// the window, so it exceeds 2×ChunkSize when that delimiter lies more than
// ChunkSize runes past the window.
func Split(text string, cfg Config) []Chunk {
	if text == "" {
		return nil
	}
	if cfg.ChunkSize <= 0 {
		cfg = DefaultConfig()
	}
	runes := []rune(text)
	delimSet := make(map[rune]bool, len(cfg.Delimiters))
	for _, d := range cfg.Delimiters {
		delimSet[d] = true
	}

	var out []Chunk
	pos := 0
	n := len(runes)
	// The backward search starts minLen runes past pos, so no non-final
	// chunk is shorter than ChunkSize/4 and none is empty.
	minLen := cfg.ChunkSize / 4
	if minLen < 1 {
		minLen = 1
	}
	for pos < n {
		remaining := n - pos
		if remaining <= cfg.ChunkSize {
			out = append(out, newChunk(runes, pos, n))
			break
		}

		targetEnd := pos + cfg.ChunkSize
		searchFrom := pos + minLen
		splitAt, found := findLastDelimiter(runes[searchFrom:targetEnd], delimSet)
		if found {
			actual := searchFrom + splitAt
			if !cfg.PrefixMode {
				actual++
			}
			out = append(out, newChunk(runes, pos, actual))
			pos = actual
			continue
		}

		if cfg.ForwardFallback {
			fwdPos, found := findFirstDelimiter(runes[targetEnd:], delimSet)
			if found {
				actual := targetEnd + fwdPos
				if !cfg.PrefixMode {
					actual++
				}
				out = append(out, newChunk(runes, pos, actual))
				pos = actual
				continue
			}
		}

		// Hard split: no delimiter backward, and none forward (or forward
		// fallback disabled).
		out = append(out, newChunk(runes, pos, targetEnd))
		pos = targetEnd
	}
	return out
}

func newChunk(runes []rune, start, end int) Chunk {
	return Chunk{Text: string(runes[start:end]), StartOffset: start, EndOffset: end}
}

func findLastDelimiter(window []rune, delims map[rune]bool) (int, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if delims[window[i]] {
			return i, true
		}
	}
	return 0, false
}

func findFirstDelimiter(window []rune, delims map[rune]bool) (int, bool) {
	for i, r := range window {
		if delims[r] {
			return i, true
		}
	}
	return 0, false
}

// DelimitersFromString builds a Delimiters slice from a config string such
// as "\n.?!", matching the teacher's byte-string delimiter configuration.
func DelimitersFromString(s string) []rune {
	return []rune(s)
}
