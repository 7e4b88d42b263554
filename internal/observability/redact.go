package observability

import (
	"encoding/json"
	"regexp"
	"strings"
)

var sensitiveKeys = []string{
	"api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth", "token", "access_token", "refresh_token", "password", "secret", "bearer",
}

// RedactJSON takes a JSON payload and redacts sensitive values based on common key names.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	redacted := redactValue(v)
	b, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return b
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
			} else {
				val[k] = redactValue(vv)
			}
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if low == s {
			return true
		}
		// contains common header forms
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

// injectionPatterns mirrors the prompt-injection heuristics an LLM-mediated
// extractor must defuse before composing a prompt from untrusted text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|forget|disregard)\b[^.\n]{0,40}\binstructions\b`),
	regexp.MustCompile(`(?i)\b(act as|pretend to be)\b[^.\n]{0,40}\b(admin|root|system)\b`),
	regexp.MustCompile(`(?i)\b(show|reveal)\b[^.\n]{0,40}\b(prompt|instructions)\b`),
	regexp.MustCompile(`(?i)\b(base64|rot13)\b`),
	regexp.MustCompile(`(?i)\brespond as\b[^.\n]{0,20}\b(json|xml|code)\b`),
	regexp.MustCompile("(?i)(```|\"\"\")[^\\n]{0,20}$"),
}

// MaxSanitizedLen is the maximum prompt length passed to an LLM after
// sanitization; excess is truncated with an ellipsis.
const MaxSanitizedLen = 5000

var controlCharRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// SanitizeForPrompt applies the injection-pattern redaction, control
// character stripping, and length truncation rules described for
// LLM-bound, user-supplied text. It also reports the fraction of the input
// that was removed, so a caller can flag suspicious inputs without blocking
// them outright.
func SanitizeForPrompt(s string) (clean string, redactedFraction float64) {
	original := len(s)
	out := controlCharRe.ReplaceAllString(s, "")
	for _, re := range injectionPatterns {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	if len(out) > MaxSanitizedLen {
		out = out[:MaxSanitizedLen] + "..."
	}
	if original == 0 {
		return out, 0
	}
	removed := original - len(strings.TrimSpace(out))
	if removed < 0 {
		removed = 0
	}
	return out, float64(removed) / float64(original)
}

// chitchatPatterns are anchored, case-insensitive full-string matches for
// conversational filler that never carries extractable facts.
var chitchatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|yo|sup)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(bye|goodbye|see you|later|cya)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(thanks|thank you|thx|ty)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(ok|okay|sure|yes|no|yep|nope)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(good|great|nice|cool|awesome)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(how are you|what's up|how's it going)[\s!.?]*$`),
	regexp.MustCompile(`(?i)^(lol|haha|hehe|xd)[\s!.?]*$`),
	regexp.MustCompile(`^[\s.!?]+$`),
}

// IsChitchat reports whether text is pure conversational filler that should
// short-circuit extraction without an LLM call.
func IsChitchat(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 {
		return true
	}
	for _, re := range chitchatPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}
