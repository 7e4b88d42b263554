package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"singularity-rmk/internal/rmkerrors"
)

// memoryStore is a map-based Store used by tests and as the zero-config
// default, grounded on the teacher's memoryGraph.
type memoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	// byKey maps (namespace,name,kind) -> id for the upsert uniqueness key.
	byKey map[string]string
	edges []Edge
}

// NewMemoryStore builds an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		nodes: make(map[string]*Node),
		byKey: make(map[string]string),
	}
}

func upsertKey(namespace, name string, kind Kind) string {
	return namespace + "\x00" + strings.ToLower(strings.TrimSpace(name)) + "\x00" + string(kind)
}

func (m *memoryStore) Upsert(ctx context.Context, n *Node) (string, error) {
	if n == nil || n.Namespace == "" {
		return "", rmkerrors.New(rmkerrors.InvalidInput, "node requires a namespace")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := upsertKey(n.Namespace, n.Name, n.Kind)
	if existingID, ok := m.byKey[key]; ok {
		existing := m.nodes[existingID]
		existing.Activation = n.Activation
		existing.AccessCount = n.AccessCount
		existing.LastAccessed = n.LastAccessed
		existing.Description = n.Description
		existing.Tags = append([]string{}, n.Tags...)
		existing.Attributes = copyMap(n.Attributes)
		if len(n.Embedding) > 0 {
			existing.Embedding = append([]float32{}, n.Embedding...)
		}
		existing.UpdatedAt = n.UpdatedAt
		if existing.Attributes["superseded"] == "true" {
			// Frees the (namespace,name,kind) key so the contradiction
			// resolver's replacement winner can claim it as a new node,
			// leaving the superseded loser reachable only by ID.
			delete(m.byKey, key)
		}
		return existing.ID, nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Activation == 0 {
		n.Activation = 0.5
	}
	cp := *n
	cp.Tags = append([]string{}, n.Tags...)
	cp.Attributes = copyMap(n.Attributes)
	cp.Embedding = append([]float32{}, n.Embedding...)
	m.nodes[cp.ID] = &cp
	m.byKey[key] = cp.ID
	return cp.ID, nil
}

func (m *memoryStore) UpsertEdge(ctx context.Context, e Edge) error {
	if e.Source == "" || e.Target == "" || e.Rel == "" {
		return rmkerrors.New(rmkerrors.InvalidInput, "edge requires source, target, rel")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.edges {
		if existing.Source == e.Source && existing.Target == e.Target && existing.Rel == e.Rel {
			m.edges[i] = e
			return nil
		}
	}
	m.edges = append(m.edges, e)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, namespace, id string) (*Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok || (namespace != "" && n.Namespace != namespace) {
		return nil, false, nil
	}
	cp := *n
	return &cp, true, nil
}

func (m *memoryStore) QueryByName(ctx context.Context, namespace, name string, kind Kind) ([]*Node, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	norm := strings.ToLower(strings.TrimSpace(name))
	var out []*Node
	for _, n := range m.nodes {
		if n.Namespace != namespace {
			continue
		}
		if kind != "" && n.Kind != kind {
			continue
		}
		if strings.ToLower(strings.TrimSpace(n.Name)) == norm {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) FullText(ctx context.Context, namespace string, terms []string, limit int) ([]*Node, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		n     *Node
		score int
	}
	var hits []scored
	for _, n := range m.nodes {
		if n.Namespace != namespace {
			continue
		}
		hay := strings.ToLower(n.Name + " " + n.Description)
		score := 0
		for _, t := range terms {
			if t == "" {
				continue
			}
			if strings.Contains(hay, strings.ToLower(t)) {
				score++
			}
		}
		if score > 0 {
			cp := *n
			hits = append(hits, scored{n: &cp, score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].n.Activation != hits[j].n.Activation {
			return hits[i].n.Activation > hits[j].n.Activation
		}
		return hits[i].n.ID < hits[j].n.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*Node, len(hits))
	for i, h := range hits {
		out[i] = h.n
	}
	return out, nil
}

// IncomingEdges returns edges directed at targetID, restricted to edgeKinds
// when non-empty. Mirrors Expand's allowed-kind filter but walks the
// reverse direction Expand never follows.
func (m *memoryStore) IncomingEdges(ctx context.Context, targetID string, edgeKinds []EdgeKind) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed := make(map[EdgeKind]bool, len(edgeKinds))
	for _, k := range edgeKinds {
		allowed[k] = true
	}
	var out []Edge
	for _, e := range m.edges {
		if e.Target != targetID {
			continue
		}
		if len(allowed) > 0 && !allowed[e.Rel] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryStore) Expand(ctx context.Context, namespace string, seedIDs []string, depth int, edgeKinds []EdgeKind) (*Subgraph, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed := make(map[EdgeKind]bool, len(edgeKinds))
	for _, k := range edgeKinds {
		allowed[k] = true
	}
	visited := make(map[string]bool)
	for _, id := range seedIDs {
		visited[id] = true
	}
	frontier := append([]string{}, seedIDs...)
	var resultEdges []Edge
	for hop := 0; hop < depth; hop++ {
		var next []string
		for _, from := range frontier {
			fanout := 0
			for _, e := range m.edges {
				if e.Source != from {
					continue
				}
				if len(allowed) > 0 && !allowed[e.Rel] {
					continue
				}
				if n, ok := m.nodes[e.Target]; !ok || n.Namespace != namespace {
					continue
				}
				resultEdges = append(resultEdges, e)
				if !visited[e.Target] {
					visited[e.Target] = true
					next = append(next, e.Target)
				}
				fanout++
				if fanout >= MaxFanOutPerHop {
					break
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	nodes := make([]*Node, 0, len(visited))
	for id := range visited {
		if n, ok := m.nodes[id]; ok && n.Namespace == namespace {
			cp := *n
			nodes = append(nodes, &cp)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return &Subgraph{Nodes: nodes, Edges: resultEdges}, nil
}

func (m *memoryStore) OrderBy(ctx context.Context, namespace string, field OrderField, desc bool, limit int, filter map[string]string) ([]*Node, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Node
	for _, n := range m.nodes {
		if n.Namespace != namespace {
			continue
		}
		if !matchesAttrFilter(n.Attributes, filter) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		var less bool
		switch field {
		case OrderByCreatedAt:
			less = out[i].CreatedAt.Before(out[j].CreatedAt)
		case OrderByUpdatedAt:
			less = out[i].UpdatedAt.Before(out[j].UpdatedAt)
		default:
			less = out[i].Activation < out[j].Activation
		}
		if desc {
			return !less && out[i].ID != out[j].ID
		}
		return less
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.Namespace != namespace {
		return nil
	}
	delete(m.nodes, id)
	delete(m.byKey, upsertKey(n.Namespace, n.Name, n.Kind))
	return nil
}

func (m *memoryStore) deleteEdge(e Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.edges[:0]
	for _, existing := range m.edges {
		if existing.Source == e.Source && existing.Target == e.Target && existing.Rel == e.Rel {
			continue
		}
		out = append(out, existing)
	}
	m.edges = out
}

func (m *memoryStore) BatchWrite(ctx context.Context, namespace string, ops []WriteOp) error {
	for _, op := range ops {
		switch {
		case op.UpsertNode != nil:
			if _, err := m.Upsert(ctx, op.UpsertNode); err != nil {
				return err
			}
		case op.UpsertEdge != nil:
			if err := m.UpsertEdge(ctx, *op.UpsertEdge); err != nil {
				return err
			}
		case op.DeleteEdge != nil:
			m.deleteEdge(*op.DeleteEdge)
		case op.DeleteID != "":
			if err := m.Delete(ctx, namespace, op.DeleteID); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func matchesAttrFilter(attrs, filter map[string]string) bool {
	if len(filter) == 0 {
		return true
	}
	for k, v := range filter {
		if attrs[k] != v {
			return false
		}
	}
	return true
}
