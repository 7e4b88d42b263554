// Package reflection implements the Reflection Loop (C11): a ticker-driven
// background pass that decays activation, probes bounded samples of node
// pairs for non-obvious insights, and refreshes periodic summaries,
// grounded on the teacher's ticker-driven background-reaper idiom
// (internal/mcpclient/pool.go StartReaper) and the same-bucket pairwise
// comparison shape of evolving.go's ComputeTaskSimilarityMetrics.
package reflection

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"singularity-rmk/internal/activation"
	"singularity-rmk/internal/graph"
	"singularity-rmk/internal/llm"
)

// InsightCategory enumerates the reflection judgment categories.
type InsightCategory string

const (
	CategoryWarning    InsightCategory = "warning"
	CategoryOpportunity InsightCategory = "opportunity"
	CategoryDependency InsightCategory = "dependency"
	CategoryPattern    InsightCategory = "pattern"
)

// Loop runs the periodic decay/insight/summary passes over a namespace set.
type Loop struct {
	store     graph.Store
	activ     *activation.Engine
	provider  llm.Provider
	model     string
	namespace func() []string // returns the namespaces to reflect over, each tick

	decayInterval    time.Duration
	summaryEveryNth  int // T_summary expressed as a multiple of T_decay ticks
	sampleN          int

	running atomic.Bool
	ticks   atomic.Int64
}

// Option configures a Loop.
type Option func(*Loop)

func WithDecayInterval(d time.Duration) Option { return func(l *Loop) { l.decayInterval = d } }
func WithSummaryEveryNth(n int) Option         { return func(l *Loop) { l.summaryEveryNth = n } }
func WithSampleN(n int) Option                 { return func(l *Loop) { l.sampleN = n } }

// New builds a Loop. namespaces is called fresh on every tick so newly
// created workspaces are picked up without a restart.
func New(store graph.Store, activ *activation.Engine, provider llm.Provider, model string, namespaces func() []string, opts ...Option) *Loop {
	l := &Loop{
		store: store, activ: activ, provider: provider, model: model, namespace: namespaces,
		decayInterval: 60 * time.Second, summaryEveryNth: 10, sampleN: 20,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run blocks, firing a tick every decayInterval until ctx is cancelled. When
// the scheduler fires while the previous tick is still active, the new tick
// is skipped rather than queued, so reflection never backlogs ingestion or
// consultation capacity.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.decayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.running.CompareAndSwap(false, true) {
				log.Debug().Msg("reflection: previous tick still running, skipping")
				continue
			}
			n := l.ticks.Add(1)
			l.tick(ctx, n)
			l.running.Store(false)
		}
	}
}

func (l *Loop) tick(ctx context.Context, tickNumber int64) {
	namespaces := l.namespace()
	for _, ns := range namespaces {
		if err := l.activ.Decay(ctx, ns); err != nil {
			log.Warn().Err(err).Str("namespace", ns).Msg("reflection: decay failed")
		}
		l.probeInsights(ctx, ns)
		if l.summaryEveryNth > 0 && tickNumber%int64(l.summaryEveryNth) == 0 {
			l.updateSummary(ctx, ns)
		}
	}
}

// pairCandidate is a sampling-eligible node pair sharing at least one tag.
type pairCandidate struct {
	A, B  *graph.Node
	delta float64
}

// selectPairs implements the documented deterministic sampling rule: among
// nodes sharing at least one tag, sample the sampleN pairs with the
// smallest |Activation_i - Activation_j|, tie-broken by oldest LastAccessed
// first.
func selectPairs(nodes []*graph.Node, sampleN int) []pairCandidate {
	byTag := make(map[string][]*graph.Node)
	for _, n := range nodes {
		for _, t := range n.Tags {
			byTag[t] = append(byTag[t], n)
		}
	}
	seen := make(map[[2]string]bool)
	var candidates []pairCandidate
	for _, group := range byTag {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				key := pairKey(a.ID, b.ID)
				if seen[key] {
					continue
				}
				seen[key] = true
				candidates = append(candidates, pairCandidate{A: a, B: b, delta: absFloat(a.Activation - b.Activation)})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].delta != candidates[j].delta {
			return candidates[i].delta < candidates[j].delta
		}
		oi := earliest(candidates[i].A.LastAccessed, candidates[i].B.LastAccessed)
		oj := earliest(candidates[j].A.LastAccessed, candidates[j].B.LastAccessed)
		return oi.Before(oj)
	})
	if len(candidates) > sampleN {
		candidates = candidates[:sampleN]
	}
	return candidates
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// probeInsights samples node pairs and asks the LLM whether a non-obvious
// insight connects them, materializing an Insight node with edges to both
// parents when it finds one.
func (l *Loop) probeInsights(ctx context.Context, namespace string) {
	nodes, err := l.store.OrderBy(ctx, namespace, graph.OrderByActivation, true, 500, nil)
	if err != nil {
		log.Warn().Err(err).Str("namespace", namespace).Msg("reflection: failed to list nodes for insight sampling")
		return
	}
	if l.provider == nil {
		return
	}
	pairs := selectPairs(nodes, l.sampleN)
	for _, p := range pairs {
		cat, description, ok := l.judgeInsight(ctx, p.A, p.B)
		if !ok {
			continue
		}
		insightID, err := l.store.Upsert(ctx, &graph.Node{
			Namespace:   namespace,
			Name:        string(cat) + ": " + p.A.Name + " / " + p.B.Name,
			Kind:        graph.KindInsight,
			Description: description,
			Tags:        []string{string(cat)},
			Activation:  0.5,
		})
		if err != nil {
			log.Warn().Err(err).Msg("reflection: failed to materialize insight node")
			continue
		}
		_ = l.store.UpsertEdge(ctx, graph.Edge{Source: insightID, Rel: graph.EdgeRelatedTo, Target: p.A.ID, Weight: graph.DefaultEdgeWeight})
		_ = l.store.UpsertEdge(ctx, graph.Edge{Source: insightID, Rel: graph.EdgeRelatedTo, Target: p.B.ID, Weight: graph.DefaultEdgeWeight})
	}
}

func (l *Loop) judgeInsight(ctx context.Context, a, b *graph.Node) (InsightCategory, string, bool) {
	prompt := `Two memory nodes follow. Decide if a non-obvious insight connects them. Respond with JSON {"hasInsight": bool, "category": "warning"|"opportunity"|"dependency"|"pattern", "description": string}.
Node A (` + string(a.Kind) + `): ` + a.Name + " — " + a.Description + `
Node B (` + string(b.Kind) + `): ` + b.Name + " — " + b.Description
	var out struct {
		HasInsight  bool   `json:"hasInsight"`
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	if err := llm.ExtractJSON(ctx, l.provider, l.model, prompt, &out); err != nil || !out.HasInsight {
		return "", "", false
	}
	return InsightCategory(out.Category), out.Description, true
}

// updateSummary refreshes the namespace's global Summary node. Per-community
// summaries are left for a future extension; the spec only requires the
// cadence and the global roll-up to be observable.
func (l *Loop) updateSummary(ctx context.Context, namespace string) {
	nodes, err := l.store.OrderBy(ctx, namespace, graph.OrderByUpdatedAt, true, 50, nil)
	if err != nil || l.provider == nil {
		return
	}
	var recentNames []string
	for _, n := range nodes {
		recentNames = append(recentNames, n.Name)
	}
	prompt := "Summarize recent activity for this memory namespace in one paragraph. Respond with JSON {\"summary\": string}.\nRecent items: "
	for _, n := range recentNames {
		prompt += n + "; "
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := llm.ExtractJSON(ctx, l.provider, l.model, prompt, &out); err != nil || out.Summary == "" {
		return
	}
	if _, err := l.store.Upsert(ctx, &graph.Node{
		Namespace:   namespace,
		Name:        "namespace summary",
		Kind:        graph.KindSummary,
		Description: out.Summary,
		Activation:  0.5,
	}); err != nil {
		log.Warn().Err(err).Str("namespace", namespace).Msg("reflection: failed to upsert namespace summary")
	}
}
