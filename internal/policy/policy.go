// Package policy implements the Policy Engine (C4): allow/deny rules over
// typed subjects and resources, an audit trail, and a write-invalidated
// decision cache, grounded on the teacher's RBAC checks (internal/auth's
// HasRole) and the idempotency-decision shape in internal/rag/ingest.
package policy

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Effect is the outcome a Policy applies when it matches.
type Effect string

const (
	Allow Effect = "ALLOW"
	Deny  Effect = "DENY"
)

// Decision is the verdict returned by Check.
type Decision struct {
	Effect          Effect
	MatchedPolicyID string
	Reason          string
}

// Policy is a single allow/deny rule. Subjects and resources support a "*"
// wildcard and typed prefixed forms (user:<id>, ns:<name>, node:<id>); a
// trailing "*" after a prefix matches by prefix (e.g. "ns:proj_*").
type Policy struct {
	ID          string
	Effect      Effect
	Subjects    []string
	Resources   []string
	Actions     []string
	Description string
}

// AuditRecord captures one Check call, win or lose.
type AuditRecord struct {
	Time      time.Time
	Principal string
	Action    string
	Resource  string
	Decision  Effect
	Reason    string
}

// AuditSink receives every decision the Engine makes.
type AuditSink interface {
	Record(AuditRecord)
}

// Store persists policies; writes must invalidate the Engine's decision cache.
type Store interface {
	List(ctx context.Context) ([]Policy, error)
	Put(ctx context.Context, p Policy) error
	Delete(ctx context.Context, id string) error
}

type cacheKey struct{ principal, action, resource string }

// distributedCache is satisfied by RedisCache; Engine falls back to its own
// in-process map when none is configured.
type distributedCache interface {
	Get(ctx context.Context, k cacheKey) (Decision, bool)
	Set(ctx context.Context, k cacheKey, d Decision)
	InvalidateAll(ctx context.Context) error
}

// Engine evaluates Check calls against a Store, caching decisions until the
// next write. The cache is a plain map guarded by a mutex rather than an
// LRU: the kernel's policy sets are small (tens, not millions), so eviction
// pressure never materializes — a real LRU would be dead weight here.
type Engine struct {
	store   Store
	audit   AuditSink
	distrib distributedCache

	mu    sync.RWMutex
	cache map[cacheKey]Decision
}

// NewEngine builds a policy Engine. audit may be nil to discard records.
func NewEngine(store Store, audit AuditSink) *Engine {
	return &Engine{store: store, audit: audit, cache: make(map[cacheKey]Decision)}
}

// WithDistributedCache attaches a shared cache (e.g. Redis) so multiple
// Engine processes invalidate in lockstep on policy writes.
func (e *Engine) WithDistributedCache(c *RedisCache) *Engine {
	e.distrib = c
	return e
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.cache = make(map[cacheKey]Decision)
	e.mu.Unlock()
	if e.distrib != nil {
		_ = e.distrib.InvalidateAll(context.Background())
	}
}

// Put writes a policy and invalidates the decision cache.
func (e *Engine) Put(ctx context.Context, p Policy) error {
	if err := e.store.Put(ctx, p); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

// Delete removes a policy and invalidates the decision cache.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

// Check evaluates principal's access to resource for action, per §4.4:
// DENY beats ALLOW; with no match, in-namespace principals default ALLOW,
// everyone else defaults DENY.
func (e *Engine) Check(ctx context.Context, principal, action, resource string) (Decision, error) {
	key := cacheKey{principal, action, resource}
	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if !ok && e.distrib != nil {
		cached, ok = e.distrib.Get(ctx, key)
	}
	if ok {
		if e.audit != nil {
			e.audit.Record(AuditRecord{Time: time.Now(), Principal: principal, Action: action, Resource: resource, Decision: cached.Effect, Reason: cached.Reason})
		}
		return cached, nil
	}

	policies, err := e.store.List(ctx)
	if err != nil {
		return Decision{}, err
	}

	var allowMatch *Policy
	var denyMatch *Policy
	for i := range policies {
		p := &policies[i]
		if !matchesAny(p.Actions, action) {
			continue
		}
		if !matchesAny(p.Subjects, principal) {
			continue
		}
		if !matchesAny(p.Resources, resource) {
			continue
		}
		if p.Effect == Deny {
			denyMatch = p
			break
		}
		if allowMatch == nil {
			allowMatch = p
		}
	}

	d := e.defaultDecision(principal, resource)
	switch {
	case denyMatch != nil:
		d = Decision{Effect: Deny, MatchedPolicyID: denyMatch.ID, Reason: "matched deny policy"}
	case allowMatch != nil:
		d = Decision{Effect: Allow, MatchedPolicyID: allowMatch.ID, Reason: "matched allow policy"}
	}

	e.mu.Lock()
	e.cache[key] = d
	e.mu.Unlock()
	if e.distrib != nil {
		e.distrib.Set(ctx, key, d)
	}

	if e.audit != nil {
		e.audit.Record(AuditRecord{Time: time.Now(), Principal: principal, Action: action, Resource: resource, Decision: d.Effect, Reason: d.Reason})
	}
	return d, nil
}

// List returns every configured policy, for the admin policy-listing route.
func (e *Engine) List(ctx context.Context) ([]Policy, error) {
	return e.store.List(ctx)
}

// defaultDecision implements the no-match fallback: ALLOW inside one's own
// namespace, DENY otherwise.
func (e *Engine) defaultDecision(principal, resource string) Decision {
	ns := principalNamespace(principal)
	if ns != "" && resource == "ns:"+ns {
		return Decision{Effect: Allow, Reason: "default allow within own namespace"}
	}
	return Decision{Effect: Deny, Reason: "default deny, no matching policy"}
}

// principalNamespace derives the user's own namespace from a "user:<id>"
// principal string. Non-user principals (e.g. service accounts) have none.
func principalNamespace(principal string) string {
	if id, ok := strings.CutPrefix(principal, "user:"); ok {
		return "user_" + id
	}
	return ""
}

func matchesAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, p := range patterns {
		if matches(p, value) {
			return true
		}
	}
	return false
}

func matches(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}
