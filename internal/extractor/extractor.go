// Package extractor implements the Extractor (C7): turns raw conversational
// or document text into entity/relation drafts for the Curator, grounded on
// the teacher's internal/rag/ingest preprocessing (chitchat short-circuit,
// prompt sanitization) plus observability.SanitizeForPrompt/IsChitchat,
// with the tiered document mode adapted from original_source/ai's
// regex-then-cluster-then-LLM extraction staging.
package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
	"singularity-rmk/internal/observability"
)

// RelationDraft is a proposed edge from a drafted entity to a named target.
type RelationDraft struct {
	Target string        `json:"target"`
	Kind   graph.EdgeKind `json:"kind"`
}

// EntityDraft is the Extractor's output unit, consumed by the Curator.
type EntityDraft struct {
	Name        string          `json:"name"`
	Kind        graph.Kind      `json:"kind"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
	Relations   []RelationDraft `json:"relations"`
}

// DocumentStats reports the tiered document-mode extraction counts.
type DocumentStats struct {
	Tier1Entities int `json:"tier1"`
	Tier2Reps     int `json:"tier2_reps"`
	Tier3LLMCalls int `json:"tier3_llm_calls"`
}

// Extractor turns turns/documents into EntityDrafts via an LLM provider.
type Extractor struct {
	provider          llm.Provider
	model             string
	representativeOne int // 1-in-N chunk sampling for tier 2
	maxLLMCalls       int
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithRepresentativeSampling(n int) Option {
	return func(e *Extractor) { e.representativeOne = n }
}

func WithMaxLLMCalls(n int) Option {
	return func(e *Extractor) { e.maxLLMCalls = n }
}

// New builds an Extractor over provider using model for completions.
func New(provider llm.Provider, model string, opts ...Option) *Extractor {
	e := &Extractor{provider: provider, model: model, representativeOne: 5, maxLLMCalls: 10}
	for _, o := range opts {
		o(e)
	}
	return e
}

const fewShotPreamble = `You extract durable facts and entities from a conversation turn. Respond with a JSON array only, no prose.
Each element: {"name": string, "kind": one of Entity|Fact|Event|Preference, "description": string, "tags": [string], "relations": [{"target": string, "kind": string}]}.
If nothing durable is mentioned, respond with [].

Example 1:
User: My sister Alice just started a new job at Acme Corp.
Assistant: That's great news, congratulations to her!
Output: [{"name":"Alice","kind":"Entity","description":"User's sister, works at Acme Corp","tags":["family"],"relations":[{"target":"Acme Corp","kind":"works_at"}]}]

Example 2:
User: I really love jazz music, especially Miles Davis.
Assistant: Miles Davis is a legend.
Output: [{"name":"jazz music","kind":"Preference","description":"User likes jazz music, especially Miles Davis","tags":["music"],"relations":[]}]

Example 3:
User: thanks, see you later
Assistant: goodbye!
Output: []
`

// Extract runs the turn-mode pipeline: chitchat short-circuit, sanitize,
// one-shot LLM call with few-shot examples. Returns an empty slice (never
// an error) on any LLM/parse failure, per the kernel's extraction-never-
// fails-the-caller propagation policy.
func (e *Extractor) Extract(ctx context.Context, userText, assistantText string) []EntityDraft {
	if observability.IsChitchat(userText) {
		return nil
	}

	combined := "User: " + userText + "\nAssistant: " + assistantText
	clean, redactedFraction := observability.SanitizeForPrompt(combined)
	if redactedFraction > 0.5 {
		log.Warn().Float64("redacted_fraction", redactedFraction).Msg("extractor: sanitization removed majority of input, proceeding anyway")
	}

	prompt := fewShotPreamble + "\nConversation:\n" + clean + "\nOutput:"
	var drafts []EntityDraft
	if err := llm.ExtractJSON(ctx, e.provider, e.model, prompt, &drafts); err != nil {
		log.Warn().Err(err).Msg("extractor: llm call failed, returning no drafts")
		return nil
	}
	return drafts
}

var (
	emailRe    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	urlRe      = regexp.MustCompile(`https?://[^\s)]+`)
	moneyRe    = regexp.MustCompile(`[$€£]\s?\d[\d,]*(\.\d+)?`)
	percentRe  = regexp.MustCompile(`\b\d+(\.\d+)?\s?%`)
	dateRe     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`)
)

// tier1Regex extracts "free" entities from the full document text with no
// LLM involvement: emails, URLs, monetary amounts, percentages, dates.
func tier1Regex(text string) []EntityDraft {
	var drafts []EntityDraft
	add := func(kind graph.Kind, tag string, matches []string) {
		seen := map[string]bool{}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			drafts = append(drafts, EntityDraft{Name: m, Kind: kind, Description: m, Tags: []string{tag}})
		}
	}
	add(graph.KindEntity, "email", emailRe.FindAllString(text, -1))
	add(graph.KindEntity, "url", urlRe.FindAllString(text, -1))
	add(graph.KindFact, "monetary", moneyRe.FindAllString(text, -1))
	add(graph.KindFact, "percentage", percentRe.FindAllString(text, -1))
	add(graph.KindFact, "date", dateRe.FindAllString(text, -1))
	return drafts
}

// DocumentResult is the tiered document-mode output.
type DocumentResult struct {
	Drafts []EntityDraft
	Stats  DocumentStats
}

// ExtractDocument runs the three-tier document pipeline over chunks:
// (1) regex over the full text, (2) cluster-representative selection at
// 1-in-representativeOne, (3) LLM extraction on representatives, capped at
// maxLLMCalls.
func (e *Extractor) ExtractDocument(ctx context.Context, fullText string, chunks []string) DocumentResult {
	stats := DocumentStats{}
	drafts := tier1Regex(fullText)
	stats.Tier1Entities = len(drafts)

	reps := selectRepresentatives(chunks, e.representativeOne)
	stats.Tier2Reps = len(reps)

	calls := 0
	for _, rep := range reps {
		if calls >= e.maxLLMCalls {
			log.Warn().Int("budget", e.maxLLMCalls).Int("representatives", len(reps)).Msg("extractor: tier3 llm call budget exhausted, remaining representatives skipped")
			break
		}
		clean, redactedFraction := observability.SanitizeForPrompt(rep)
		if redactedFraction > 0.5 {
			log.Warn().Float64("redacted_fraction", redactedFraction).Msg("extractor: sanitization removed majority of chunk, proceeding anyway")
		}
		prompt := fewShotPreamble + "\nDocument excerpt:\n" + clean + "\nOutput:"
		var chunkDrafts []EntityDraft
		if err := llm.ExtractJSON(ctx, e.provider, e.model, prompt, &chunkDrafts); err != nil {
			log.Warn().Err(err).Msg("extractor: tier3 llm call failed for representative, skipping")
			calls++
			continue
		}
		calls++
		drafts = append(drafts, chunkDrafts...)
	}
	stats.Tier3LLMCalls = calls

	return DocumentResult{Drafts: drafts, Stats: stats}
}

// selectRepresentatives takes every Nth chunk as a cluster representative,
// a deterministic stand-in for a trained clustering model (see the
// vision-tree indexer for the same mean-pool-until-a-model-exists stance).
func selectRepresentatives(chunks []string, everyN int) []string {
	if everyN <= 0 {
		everyN = 5
	}
	var reps []string
	for i, c := range chunks {
		if i%everyN == 0 && strings.TrimSpace(c) != "" {
			reps = append(reps, c)
		}
	}
	return reps
}
