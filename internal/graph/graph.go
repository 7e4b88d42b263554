// Package graph implements the Graph Store Adapter: a namespaced, typed
// property graph with pluggable backends, grounded on the teacher's
// persistence/databases GraphDB interface and its Postgres/in-memory pairs.
package graph

import (
	"context"
	"time"
)

// Kind enumerates the node kinds the kernel materializes.
type Kind string

const (
	KindEntity       Kind = "Entity"
	KindFact         Kind = "Fact"
	KindEvent        Kind = "Event"
	KindPreference   Kind = "Preference"
	KindInsight      Kind = "Insight"
	KindPattern      Kind = "Pattern"
	KindConversation Kind = "Conversation"
	KindUser         Kind = "User"
	KindWorkspace    Kind = "Workspace"
	KindDocument     Kind = "Document"
	KindChunk        Kind = "Chunk"
	KindSummary      Kind = "Summary"
)

// EdgeKind enumerates the relation types the kernel understands.
type EdgeKind string

const (
	EdgeRelatedTo     EdgeKind = "related_to"
	EdgeFamilyMember  EdgeKind = "family_member"
	EdgeHasManager    EdgeKind = "has_manager"
	EdgeWorksAt       EdgeKind = "works_at"
	EdgeLikes         EdgeKind = "likes"
	EdgePartOf        EdgeKind = "part_of"
	EdgeProducedBy    EdgeKind = "produced_by"
	EdgeHasAdmin      EdgeKind = "has_admin"
	EdgeHasMember     EdgeKind = "has_member"
	EdgeHasChunk      EdgeKind = "has_chunk"
	EdgeSupersededBy  EdgeKind = "superseded_by"
	EdgeMentions      EdgeKind = "mentions"
)

// DefaultEdgeWeight is used when an edge carries no explicit weight facet.
const DefaultEdgeWeight = 0.5

// Node is the kernel's primary entity.
type Node struct {
	ID           string
	Name         string
	Kind         Kind
	Description  string
	Tags         []string
	Attributes   map[string]string
	Namespace    string
	Activation   float64
	AccessCount  int
	LastAccessed time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Embedding    []float32
}

// Edge is a directed, typed, weighted relation between two nodes.
type Edge struct {
	Source string
	Rel    EdgeKind
	Target string
	Weight float64
	Props  map[string]string
}

func (e Edge) WeightOrDefault() float64 {
	if e.Weight <= 0 {
		return DefaultEdgeWeight
	}
	return e.Weight
}

// OrderField selects the sort key for OrderBy.
type OrderField string

const (
	OrderByActivation OrderField = "activation"
	OrderByCreatedAt  OrderField = "created_at"
	OrderByUpdatedAt  OrderField = "updated_at"
)

// WriteOp is a single operation in a BatchWrite call.
type WriteOp struct {
	UpsertNode *Node
	UpsertEdge *Edge
	DeleteID   string
	DeleteEdge *Edge
}

// Store is the C1 Graph Store Adapter contract. Every method is
// namespace-scoped; implementations must reject calls with an empty
// namespace (InvalidInput) except Get/Delete/BatchWrite, which carry the
// namespace inside the referenced node.
type Store interface {
	// Upsert keys on (namespace, name, kind); a duplicate insert returns
	// the existing id rather than creating a new node.
	Upsert(ctx context.Context, n *Node) (string, error)
	UpsertEdge(ctx context.Context, e Edge) error
	Get(ctx context.Context, namespace, id string) (*Node, bool, error)
	QueryByName(ctx context.Context, namespace, name string, kind Kind) ([]*Node, error)
	FullText(ctx context.Context, namespace string, terms []string, limit int) ([]*Node, error)
	// Expand returns the bounded-fan-out subgraph reachable from seedIds
	// within depth hops, restricted to edgeKinds when non-empty.
	Expand(ctx context.Context, namespace string, seedIDs []string, depth int, edgeKinds []EdgeKind) (*Subgraph, error)
	// IncomingEdges returns edges directed at targetID, restricted to
	// edgeKinds when non-empty. Expand only walks outgoing edges, so
	// reverse lookups (e.g. "who is a member of this workspace") go
	// through this instead.
	IncomingEdges(ctx context.Context, targetID string, edgeKinds []EdgeKind) ([]Edge, error)
	OrderBy(ctx context.Context, namespace string, field OrderField, desc bool, limit int, filter map[string]string) ([]*Node, error)
	Delete(ctx context.Context, namespace, id string) error
	BatchWrite(ctx context.Context, namespace string, ops []WriteOp) error
}

// Subgraph is the bounded result of Expand.
type Subgraph struct {
	Nodes []*Node
	Edges []Edge
}

// MaxFanOutPerHop bounds how many neighbors Expand will follow from a
// single node in a single hop.
const MaxFanOutPerHop = 200
