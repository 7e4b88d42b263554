// Package activation implements the Activation Engine (C5): access-driven
// boost, exponential decay, and activation/similarity ranking, grounded on
// the teacher's relevanceBasedPrune (internal/agent/memory/evolving.go),
// whose math.Pow decay-factor and log1p access-boost pattern this adapts
// from a one-shot prune into a repeatable per-node decay.
package activation

import (
	"context"
	"math"
	"sort"
	"time"

	"singularity-rmk/internal/graph"
)

const (
	DefaultBoostAmount   = 0.15
	DefaultDailyRate     = 0.005
	DefaultAlpha         = 0.7
	ProtectionWindowProd = 24 * time.Hour
	ProtectionWindowTest = 60 * time.Second
)

// Engine applies the activation lifecycle to a graph.Store.
type Engine struct {
	store            graph.Store
	dailyRate        float64
	protectionWindow time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithDailyRate overrides the default 0.005 daily decay rate.
func WithDailyRate(r float64) Option { return func(e *Engine) { e.dailyRate = r } }

// WithProtectionWindow overrides the default 24h production window (use
// activation.ProtectionWindowTest in tests for fast iteration).
func WithProtectionWindow(d time.Duration) Option { return func(e *Engine) { e.protectionWindow = d } }

// NewEngine builds an activation Engine over store.
func NewEngine(store graph.Store, opts ...Option) *Engine {
	e := &Engine{store: store, dailyRate: DefaultDailyRate, protectionWindow: ProtectionWindowProd}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Boost raises activation for every id by amount (clamped to 1.0), bumps
// access_count, and stamps last_accessed — batched into one store write.
func (e *Engine) Boost(ctx context.Context, namespace string, ids []string, amount float64) error {
	if amount <= 0 {
		amount = DefaultBoostAmount
	}
	now := time.Now()
	ops := make([]graph.WriteOp, 0, len(ids))
	for _, id := range ids {
		n, ok, err := e.store.Get(ctx, namespace, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n.Activation = math.Min(1.0, n.Activation+amount)
		n.AccessCount++
		n.LastAccessed = now
		cp := *n
		ops = append(ops, graph.WriteOp{UpsertNode: &cp})
	}
	return e.store.BatchWrite(ctx, namespace, ops)
}

// Decay applies exponential activation decay to every node in namespace
// whose last_accessed is older than the protection window. Each decayed
// node records a "last_decayed_at" attribute and is decayed only for the
// time since the later of last_accessed and last_decayed_at, so calling
// Decay twice within a tick does not decay a node twice.
func (e *Engine) Decay(ctx context.Context, namespace string) error {
	nodes, err := e.store.OrderBy(ctx, namespace, graph.OrderByUpdatedAt, false, 0, nil)
	if err != nil {
		return err
	}
	now := time.Now()
	ops := make([]graph.WriteOp, 0, len(nodes))
	for _, n := range nodes {
		since := now.Sub(n.LastAccessed)
		if since < e.protectionWindow {
			continue
		}
		from := n.LastAccessed
		if t, err := time.Parse(time.RFC3339Nano, n.Attributes["last_decayed_at"]); err == nil && t.After(from) {
			from = t
		}
		days := now.Sub(from).Hours() / 24
		decayFactor := math.Pow(1-e.dailyRate, days)
		n.Activation = math.Max(0, n.Activation*decayFactor)
		attrs := make(map[string]string, len(n.Attributes)+1)
		for k, v := range n.Attributes {
			attrs[k] = v
		}
		attrs["last_decayed_at"] = now.Format(time.RFC3339Nano)
		n.Attributes = attrs
		cp := *n
		ops = append(ops, graph.WriteOp{UpsertNode: &cp})
	}
	if len(ops) == 0 {
		return nil
	}
	return e.store.BatchWrite(ctx, namespace, ops)
}

// Candidate is a single rankable item: a node plus its retrieval similarity.
type Candidate struct {
	Node       *graph.Node
	Similarity float64
}

// Rank orders candidates by α·activation + (1−α)·similarity, descending.
func Rank(candidates []Candidate, alpha float64) []Candidate {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		si := alpha*out[i].Node.Activation + (1-alpha)*out[i].Similarity
		sj := alpha*out[j].Node.Activation + (1-alpha)*out[j].Similarity
		return si > sj
	})
	return out
}
