// Package llm provides the narrow LLM abstraction the kernel needs:
// one-shot chat completions and JSON-array/object extraction from a
// model's response. It intentionally does not carry the teacher's full
// streaming/tool-calling/thought-signature machinery, since the kernel only
// ever drives single-turn extraction, curation, and synthesis prompts.
package llm

import "context"

// Message is a single turn in a chat-style completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is implemented by each concrete model backend.
type Provider interface {
	// Chat sends msgs to model and returns the assistant's reply text.
	Chat(ctx context.Context, msgs []Message, model string) (string, error)
}
