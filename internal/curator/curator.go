// Package curator implements the Curator (C8): canonicalization, dedup
// merge, and contradiction resolution between an EntityDraft and the
// existing graph, grounded on the teacher's newer-wins tie-break pattern
// in curation_slm.py and the Vector Index's dedup/merge thresholds.
package curator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"singularity-rmk/internal/embedding"
	"singularity-rmk/internal/extractor"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
	"singularity-rmk/internal/vectorindex"
)

// Outcome describes what the Curator did with a draft.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeMerged       Outcome = "merged"
	OutcomeContradicted Outcome = "contradicted"
)

// Result is the per-draft curation decision.
type Result struct {
	NodeID  string
	Outcome Outcome
}

// CandidateTopK and CandidateThreshold bound the dedup candidate search.
const (
	CandidateTopK        = 5
	CandidateThreshold   = vectorindex.MinScoreDedup
	MergeThreshold       = vectorindex.MinScoreMerge
	RetentionWindowHours = 24 * 30
)

// Curator resolves each EntityDraft against the existing graph/vector state.
type Curator struct {
	store    graph.Store
	index    vectorindex.Index
	embedder embedding.Embedder
	provider llm.Provider
	model    string
}

func New(store graph.Store, index vectorindex.Index, embedder embedding.Embedder, provider llm.Provider, model string) *Curator {
	return &Curator{store: store, index: index, embedder: embedder, provider: provider, model: model}
}

// Canonicalize case-folds, collapses whitespace, and strips terminal
// punctuation from a draft name.
func Canonicalize(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	joined := strings.Join(fields, " ")
	return strings.TrimRight(joined, ".,!?;: ")
}

// Curate resolves a single draft. Embedding/candidate-search/LLM failures
// fall through to node creation rather than dropping the draft, per the
// kernel's never-drop-a-draft-silently policy; the caller applies its own
// policy check separately.
func (c *Curator) Curate(ctx context.Context, namespace string, draft extractor.EntityDraft) (Result, error) {
	canonical := Canonicalize(draft.Name)

	vecs, err := c.embedder.Embed(ctx, []string{draft.Name + ": " + draft.Description})
	if err != nil || len(vecs) == 0 {
		log.Warn().Err(err).Str("name", draft.Name).Msg("curator: embedding failed, creating new node without dedup check")
		return c.createNode(ctx, namespace, draft, canonical, nil)
	}
	vec := vecs[0]

	candidates, err := c.index.Search(ctx, namespace, vec, CandidateTopK, CandidateThreshold, nil)
	if err != nil {
		log.Warn().Err(err).Str("name", draft.Name).Msg("curator: candidate search failed, creating new node")
		return c.createNode(ctx, namespace, draft, canonical, vec)
	}

	for _, cand := range candidates {
		node, ok, err := c.store.Get(ctx, namespace, cand.ID)
		if err != nil || !ok {
			continue
		}
		if node.Kind != draft.Kind {
			continue
		}
		candCanonical := Canonicalize(node.Name)
		if cand.Score >= MergeThreshold && namesMatch(canonical, candCanonical) {
			return c.merge(ctx, namespace, node, draft, vec)
		}
		if candCanonical == canonical {
			contradicted, err := c.isContradiction(ctx, node, draft)
			if err != nil {
				log.Warn().Err(err).Msg("curator: contradiction check failed, treating as no contradiction")
			}
			if contradicted {
				return c.resolveContradiction(ctx, namespace, node, draft, vec)
			}
		}
	}

	return c.createNode(ctx, namespace, draft, canonical, vec)
}

func namesMatch(a, b string) bool {
	if a == b {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func (c *Curator) createNode(ctx context.Context, namespace string, draft extractor.EntityDraft, canonical string, vec []float32) (Result, error) {
	n := &graph.Node{
		Namespace:   namespace,
		Name:        canonical,
		Kind:        draft.Kind,
		Description: draft.Description,
		Tags:        draft.Tags,
		Activation:  0.5,
		Embedding:   vec,
	}
	id, err := c.store.Upsert(ctx, n)
	if err != nil {
		return Result{}, err
	}
	if vec != nil {
		_ = c.index.Add(ctx, namespace, id, vec, map[string]string{"kind": string(draft.Kind)})
	}
	if err := c.addRelationEdges(ctx, namespace, id, draft); err != nil {
		log.Warn().Err(err).Msg("curator: failed to add relation edges for new node")
	}
	return Result{NodeID: id, Outcome: OutcomeCreated}, nil
}

func (c *Curator) merge(ctx context.Context, namespace string, existing *graph.Node, draft extractor.EntityDraft, vec []float32) (Result, error) {
	tagSet := map[string]bool{}
	for _, t := range existing.Tags {
		tagSet[t] = true
	}
	for _, t := range draft.Tags {
		tagSet[t] = true
	}
	merged := make([]string, 0, len(tagSet))
	for t := range tagSet {
		merged = append(merged, t)
	}
	existing.Tags = merged

	if len(draft.Description) > len(existing.Description) {
		existing.Description = draft.Description
	}
	if existing.Attributes == nil {
		existing.Attributes = map[string]string{}
	}
	existing.Attributes["merge_count"] = incrementCount(existing.Attributes["merge_count"])

	if _, err := c.store.Upsert(ctx, existing); err != nil {
		return Result{}, err
	}
	if vec != nil {
		_ = c.index.Add(ctx, namespace, existing.ID, vec, map[string]string{"kind": string(existing.Kind)})
	}
	if err := c.addRelationEdges(ctx, namespace, existing.ID, draft); err != nil {
		log.Warn().Err(err).Msg("curator: failed to add relation edges for merged node")
	}
	return Result{NodeID: existing.ID, Outcome: OutcomeMerged}, nil
}

// isContradiction asks the LLM whether existing's description negates
// draft's description about the same named thing. On LLM failure it
// conservatively reports no contradiction, so the caller supersedes
// nothing and moves on to the next candidate or to node creation.
func (c *Curator) isContradiction(ctx context.Context, existing *graph.Node, draft extractor.EntityDraft) (bool, error) {
	if c.provider == nil {
		return false, nil
	}
	prompt := `Two facts about the same subject follow. Respond with JSON {"contradicts": true|false} only.
Fact A: ` + existing.Description + `
Fact B: ` + draft.Description
	var out struct {
		Contradicts bool `json:"contradicts"`
	}
	if err := llm.ExtractJSON(ctx, c.provider, c.model, prompt, &out); err != nil {
		return false, err
	}
	return out.Contradicts, nil
}

// resolveContradiction decides which of the two conflicting facts remains
// current. The LLM is asked to pick; if it abstains, the newer created_at
// wins per the documented tie-break. The loser is marked superseded but
// retained for the retention window.
func (c *Curator) resolveContradiction(ctx context.Context, namespace string, existing *graph.Node, draft extractor.EntityDraft, vec []float32) (Result, error) {
	winnerIsDraft := true // default tie-break: newer wins, and draft is always the newer observation
	if c.provider != nil {
		prompt := `Two conflicting facts about the same subject. Which should remain current? Respond with JSON {"winner": "A"|"B"} only, or {"winner": ""} if you cannot tell.
Fact A (recorded ` + existing.CreatedAt.Format(time.RFC3339) + `): ` + existing.Description + `
Fact B (new): ` + draft.Description
		var out struct {
			Winner string `json:"winner"`
		}
		if err := llm.ExtractJSON(ctx, c.provider, c.model, prompt, &out); err == nil && out.Winner == "A" {
			winnerIsDraft = false
		}
	}

	if !winnerIsDraft {
		// Existing fact wins; draft is discarded as a duplicate observation
		// of a fact already current.
		return Result{NodeID: existing.ID, Outcome: OutcomeContradicted}, nil
	}

	loser := *existing
	if loser.Attributes == nil {
		loser.Attributes = map[string]string{}
	}
	loser.Attributes["superseded"] = "true"
	loser.Attributes["superseded_at"] = time.Now().Format(time.RFC3339)
	if _, err := c.store.Upsert(ctx, &loser); err != nil {
		return Result{}, err
	}

	winner := &graph.Node{
		Namespace:   namespace,
		Name:        existing.Name,
		Kind:        existing.Kind,
		Description: draft.Description,
		Tags:        draft.Tags,
		Activation:  0.5,
		Embedding:   vec,
	}
	winnerID, err := c.store.Upsert(ctx, winner)
	if err != nil {
		return Result{}, err
	}
	if err := c.store.UpsertEdge(ctx, graph.Edge{Source: existing.ID, Rel: graph.EdgeSupersededBy, Target: winnerID, Weight: 1.0}); err != nil {
		log.Warn().Err(err).Msg("curator: failed to write supersession edge")
	}
	if vec != nil {
		_ = c.index.Add(ctx, namespace, winnerID, vec, map[string]string{"kind": string(existing.Kind)})
	}
	return Result{NodeID: winnerID, Outcome: OutcomeContradicted}, nil
}

func (c *Curator) addRelationEdges(ctx context.Context, namespace, sourceID string, draft extractor.EntityDraft) error {
	for _, rel := range draft.Relations {
		targetCanonical := Canonicalize(rel.Target)
		matches, err := c.store.QueryByName(ctx, namespace, targetCanonical, "")
		var targetID string
		if err == nil && len(matches) > 0 {
			targetID = matches[0].ID
		} else {
			id, err := c.store.Upsert(ctx, &graph.Node{Namespace: namespace, Name: targetCanonical, Kind: graph.KindEntity, Activation: 0.5})
			if err != nil {
				return err
			}
			targetID = id
		}
		if err := c.store.UpsertEdge(ctx, graph.Edge{Source: sourceID, Rel: rel.Kind, Target: targetID, Weight: graph.DefaultEdgeWeight}); err != nil {
			return err
		}
	}
	return nil
}

func incrementCount(s string) string {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			n = 0
			break
		}
		n = n*10 + int(r-'0')
	}
	n++
	return itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
