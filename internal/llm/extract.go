package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// stripCodeFence removes a leading ```json / ``` fence and trailing ```
// that models routinely wrap structured output in, grounded on the common
// extract-then-trim pattern used across the example corpus's LLM-facing
// services.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSON sends prompt to the provider and unmarshals the (possibly
// code-fenced) response into out. Per the kernel's error taxonomy, a
// response that is not valid JSON is not a hard failure: out is left at
// its zero value (an empty slice/map, a zero struct) and no error is
// returned, so callers can treat "no result" the same as "[]". Only a
// transport/provider failure, including a nil provider, is surfaced as an
// error.
func ExtractJSON(ctx context.Context, p Provider, model, prompt string, out any) error {
	if p == nil {
		return fmt.Errorf("llm: no provider configured")
	}
	reply, err := p.Chat(ctx, []Message{{Role: "user", Content: prompt}}, model)
	if err != nil {
		return fmt.Errorf("llm chat: %w", err)
	}
	cleaned := stripCodeFence(reply)
	if cleaned == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(cleaned), out)
	return nil
}
