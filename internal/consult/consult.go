// Package consult implements the Consultation Engine (C10): query
// expansion, parallel seed retrieval, spreading activation, policy
// filtering, ranking, and context composition, grounded on the teacher's
// RRF union/dedup shape (internal/rag/retrieve/fusion.go) and additive
// graph expansion (graph_expand.go) — adapted to the kernel's
// multiplicative spreading-activation formula rather than the teacher's
// additive neighbor boost.
package consult

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"singularity-rmk/internal/activation"
	"singularity-rmk/internal/embedding"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
	"singularity-rmk/internal/policy"
	"singularity-rmk/internal/vectorindex"
)

// Defaults mirror spec §4.10.
const (
	DefaultGamma     = 0.5
	DefaultDepth     = 2
	DefaultAlpha     = 0.7
	DefaultTopK      = 10
	SeedFullTextLim  = 30
	SeedRecencyLim   = 30
	SeedVectorLim    = 20
)

// Fact is the structured context unit passed to synthesis.
type Fact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Kind        graph.Kind        `json:"kind"`
	Attributes  map[string]string `json:"attributes"`
}

// Response is the Consultation Engine's answer to a query.
type Response struct {
	Answer       string   `json:"answer"`
	Confidence   float64  `json:"confidence"`
	RetrievedIDs []string `json:"retrievedIds"`
	Partial      bool     `json:"partial"`
}

// Engine drives the consultation pipeline.
type Engine struct {
	store    graph.Store
	index    vectorindex.Index
	embedder embedding.Embedder
	policy   *policy.Engine
	activ    *activation.Engine
	provider llm.Provider
	model    string

	gamma       float64
	depth       int
	alpha       float64
	allowedEdge []graph.EdgeKind
}

type Option func(*Engine)

func WithGamma(g float64) Option    { return func(e *Engine) { e.gamma = g } }
func WithDepth(d int) Option        { return func(e *Engine) { e.depth = d } }
func WithAlpha(a float64) Option    { return func(e *Engine) { e.alpha = a } }
func WithAllowedEdgeKinds(ks []graph.EdgeKind) Option {
	return func(e *Engine) { e.allowedEdge = ks }
}

func New(store graph.Store, index vectorindex.Index, embedder embedding.Embedder, pol *policy.Engine, activ *activation.Engine, provider llm.Provider, model string, opts ...Option) *Engine {
	e := &Engine{
		store: store, index: index, embedder: embedder, policy: pol, activ: activ, provider: provider, model: model,
		gamma: DefaultGamma, depth: DefaultDepth, alpha: DefaultAlpha,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// expandQuery derives search terms from the raw query, falling back to
// whitespace tokenization length-filtered to ≥3 chars on LLM failure.
func (e *Engine) expandQuery(ctx context.Context, query string) (searchTerms []string, entityNames []string) {
	if e.provider != nil {
		var out struct {
			SearchTerms []string `json:"searchTerms"`
			EntityNames []string `json:"entityNames"`
		}
		prompt := `Extract search terms and named entities from this query. Respond with JSON {"searchTerms": [...], "entityNames": [...]} only.
Query: ` + query
		if err := llm.ExtractJSON(ctx, e.provider, e.model, prompt, &out); err == nil && len(out.SearchTerms) > 0 {
			return out.SearchTerms, out.EntityNames
		}
	}
	var terms []string
	for _, tok := range strings.Fields(query) {
		if len(tok) >= 3 {
			terms = append(terms, tok)
		}
	}
	return terms, nil
}

// Consult runs the full pipeline for principal against namespace.
func (e *Engine) Consult(ctx context.Context, principal, namespace, query string) Response {
	searchTerms, _ := e.expandQuery(ctx, query)

	seeds, similarity, partial := e.seedRetrieval(ctx, namespace, query, searchTerms)

	activations := e.spreadActivation(ctx, namespace, seeds, similarity)

	filtered := e.policyFilter(ctx, principal, namespace, activations)

	ranked := e.rank(filtered)

	topK := ranked
	if len(topK) > DefaultTopK {
		topK = topK[:DefaultTopK]
	}

	facts := make([]Fact, 0, len(topK))
	ids := make([]string, 0, len(topK))
	for _, c := range topK {
		facts = append(facts, Fact{ID: c.Node.ID, Name: c.Node.Name, Description: c.Node.Description, Kind: c.Node.Kind, Attributes: c.Node.Attributes})
		ids = append(ids, c.Node.ID)
	}

	if ctx.Err() != nil {
		return Response{Answer: "", Confidence: 0, RetrievedIDs: ids, Partial: true}
	}

	answer, confidence, synthPartial := e.synthesize(ctx, query, facts)
	partial = partial || synthPartial

	if e.activ != nil && len(ids) > 0 {
		go func() {
			boostCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.activ.Boost(boostCtx, namespace, ids, activation.DefaultBoostAmount); err != nil {
				log.Warn().Err(err).Msg("consult: async activation boost failed")
			}
		}()
	}

	return Response{Answer: answer, Confidence: confidence, RetrievedIDs: ids, Partial: partial}
}

// seedRetrieval runs full-text, recency, and vector search in parallel and
// returns their deduplicated union (the seed set S) plus the per-id vector
// similarity observed for nodes the vector search matched.
func (e *Engine) seedRetrieval(ctx context.Context, namespace, query string, terms []string) ([]*graph.Node, map[string]float64, bool) {
	var (
		ftResults  []*graph.Node
		recResults []*graph.Node
		vecResults []vectorindex.Result
	)
	partial := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := e.store.FullText(gctx, namespace, terms, SeedFullTextLim)
		if err != nil {
			log.Warn().Err(err).Msg("consult: full-text seed retrieval failed")
			return nil
		}
		ftResults = res
		return nil
	})
	g.Go(func() error {
		res, err := e.store.OrderBy(gctx, namespace, graph.OrderByCreatedAt, true, SeedRecencyLim, nil)
		if err != nil {
			log.Warn().Err(err).Msg("consult: recency seed retrieval failed")
			return nil
		}
		recResults = res
		return nil
	})
	g.Go(func() error {
		if e.embedder == nil {
			return nil
		}
		vecs, err := e.embedder.Embed(gctx, []string{query})
		if err != nil || len(vecs) == 0 {
			return nil
		}
		res, err := e.index.Search(gctx, namespace, vecs[0], SeedVectorLim, vectorindex.MinScoreRecall, nil)
		if err != nil {
			log.Warn().Err(err).Msg("consult: vector seed retrieval failed")
			return nil
		}
		vecResults = res
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		partial = true
	}

	seen := map[string]bool{}
	var seeds []*graph.Node
	add := func(n *graph.Node) {
		if n == nil || seen[n.ID] {
			return
		}
		seen[n.ID] = true
		seeds = append(seeds, n)
	}
	for _, n := range ftResults {
		add(n)
	}
	for _, n := range recResults {
		add(n)
	}
	similarity := make(map[string]float64, len(vecResults))
	for _, r := range vecResults {
		similarity[r.ID] = r.Score
		if seen[r.ID] {
			continue
		}
		n, ok, err := e.store.Get(ctx, namespace, r.ID)
		if err == nil && ok {
			add(n)
		}
	}
	return seeds, similarity, partial
}

// scored pairs a node with its derived activation and retrieval similarity.
type scored struct {
	Node       *graph.Node
	Activation float64
	Similarity float64
}

// spreadActivation propagates activation additively from the seed set
// along allowed edge kinds, distributing a_s × edge.weight × γ at each hop,
// capped at 1.0, to depth hops with a visited set preventing cycles.
func (e *Engine) spreadActivation(ctx context.Context, namespace string, seeds []*graph.Node, similarity map[string]float64) map[string]*scored {
	acc := make(map[string]*scored, len(seeds))
	for _, s := range seeds {
		acc[s.ID] = &scored{Node: s, Activation: s.Activation, Similarity: similarity[s.ID]}
	}

	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		frontier = append(frontier, s.ID)
	}
	visited := map[string]bool{}
	for _, id := range frontier {
		visited[id] = true
	}

	for hop := 0; hop < e.depth && len(frontier) > 0; hop++ {
		sub, err := e.store.Expand(ctx, namespace, frontier, 1, e.allowedEdge)
		if err != nil {
			log.Warn().Err(err).Msg("consult: spreading-activation expand failed")
			break
		}
		nodeByID := make(map[string]*graph.Node, len(sub.Nodes))
		for _, n := range sub.Nodes {
			nodeByID[n.ID] = n
		}
		var next []string
		for _, edge := range sub.Edges {
			src, ok := acc[edge.Source]
			if !ok {
				continue
			}
			delta := src.Activation * edge.WeightOrDefault() * e.gamma
			tgt, exists := acc[edge.Target]
			if !exists {
				n, ok := nodeByID[edge.Target]
				if !ok {
					continue
				}
				tgt = &scored{Node: n, Activation: 0}
				acc[edge.Target] = tgt
			}
			tgt.Activation += delta
			if tgt.Activation > 1.0 {
				tgt.Activation = 1.0
			}
			if !visited[edge.Target] {
				visited[edge.Target] = true
				next = append(next, edge.Target)
			}
		}
		frontier = next
	}
	return acc
}

// policyFilter drops any candidate the Policy Engine denies for principal.
// A single check failure drops only that candidate.
func (e *Engine) policyFilter(ctx context.Context, principal, namespace string, candidates map[string]*scored) []*scored {
	var out []*scored
	for id, c := range candidates {
		if e.policy == nil {
			out = append(out, c)
			continue
		}
		decision, err := e.policy.Check(ctx, "user:"+principal, "read", "node:"+id)
		if err != nil {
			log.Warn().Err(err).Str("node", id).Msg("consult: policy check failed, dropping candidate")
			continue
		}
		if decision.Effect == policy.Deny {
			continue
		}
		out = append(out, c)
	}
	return out
}

// rank orders candidates by α·activation + (1−α)·similarity, descending,
// with a deterministic id tie-break.
func (e *Engine) rank(candidates []*scored) []*scored {
	out := make([]*scored, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		si := e.alpha*out[i].Activation + (1-e.alpha)*out[i].Similarity
		sj := e.alpha*out[j].Activation + (1-e.alpha)*out[j].Similarity
		if si != sj {
			return si > sj
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out
}

// synthesize composes the top-K facts into a natural-language brief. On
// synthesis failure it degrades to a structured listing with confidence=0
// rather than failing the call, per the kernel's degrade-don't-fail policy.
func (e *Engine) synthesize(ctx context.Context, query string, facts []Fact) (answer string, confidence float64, partial bool) {
	if e.provider == nil || ctx.Err() != nil {
		return degradedAnswer(facts), 0, ctx.Err() != nil
	}
	var sb strings.Builder
	sb.WriteString("Answer the query using only the facts below. Respond with JSON {\"brief\": string, \"confidence\": number 0-1}.\n")
	sb.WriteString("Query: " + query + "\n")
	sb.WriteString("Facts:\n")
	for _, f := range facts {
		sb.WriteString("- " + f.Name + ": " + f.Description + "\n")
	}
	var out struct {
		Brief      string  `json:"brief"`
		Confidence float64 `json:"confidence"`
	}
	if err := llm.ExtractJSON(ctx, e.provider, e.model, sb.String(), &out); err != nil || out.Brief == "" {
		return degradedAnswer(facts), 0, false
	}
	return out.Brief, out.Confidence, false
}

func degradedAnswer(facts []Fact) string {
	if len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant facts (synthesis unavailable):\n")
	for _, f := range facts {
		sb.WriteString("- " + f.Name + ": " + f.Description + "\n")
	}
	return sb.String()
}
