package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"singularity-rmk/internal/rmkerrors"
)

// postgresStore is grounded on the teacher's pgGraph: a nodes/edges table
// pair addressed with plain SQL, extended with a namespace column and a
// tsvector full-text index. The teacher's postgis/pgrouting extension
// bootstrap is dropped; this store has no spatial or routing use.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds a Store backed by Postgres. It creates its schema
// on first use, matching the teacher's best-effort DDL-on-connect pattern.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rmk_nodes (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			activation DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			search tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(name,'') || ' ' || coalesce(description,''))) STORED
		)`,
		// Partial: a node marked superseded (attributes.superseded = "true")
		// drops out of the uniqueness scope, so the contradiction resolver
		// can insert a replacement winner sharing the loser's
		// (namespace,name,kind) key per spec §3's transient-coexistence rule.
		`CREATE UNIQUE INDEX IF NOT EXISTS rmk_nodes_upsert_key ON rmk_nodes(namespace, lower(name), kind) WHERE (attributes->>'superseded') IS DISTINCT FROM 'true'`,
		`CREATE INDEX IF NOT EXISTS rmk_nodes_namespace ON rmk_nodes(namespace)`,
		`CREATE INDEX IF NOT EXISTS rmk_nodes_search ON rmk_nodes USING GIN(search)`,
		`CREATE TABLE IF NOT EXISTS rmk_edges (
			source TEXT NOT NULL,
			rel TEXT NOT NULL,
			target TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			props JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (source, rel, target)
		)`,
		`CREATE INDEX IF NOT EXISTS rmk_edges_source ON rmk_edges(source, rel)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "graph schema bootstrap", err)
		}
	}
	return &postgresStore{pool: pool}, nil
}

func isTransient(err error) bool {
	return err != nil && !rmkerrors.Is(err, rmkerrors.InvalidInput) && !rmkerrors.Is(err, rmkerrors.Conflict)
}

func (p *postgresStore) Upsert(ctx context.Context, n *Node) (string, error) {
	if n == nil || n.Namespace == "" {
		return "", rmkerrors.New(rmkerrors.InvalidInput, "node requires a namespace")
	}
	if n.Activation == 0 {
		n.Activation = 0.5
	}
	lastAccessed := n.LastAccessed
	if lastAccessed.IsZero() {
		lastAccessed = time.Now()
	}
	attrs, err := json.Marshal(copyMap(n.Attributes))
	if err != nil {
		return "", rmkerrors.Wrap(rmkerrors.InvalidInput, "marshal attributes", err)
	}
	var id string
	err = withRetry(ctx, isTransient, func() error {
		return p.pool.QueryRow(ctx, `
INSERT INTO rmk_nodes(id, namespace, name, kind, description, tags, attributes, activation, access_count, last_accessed, updated_at)
VALUES (coalesce($1, gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (namespace, lower(name), kind) WHERE (attributes->>'superseded') IS DISTINCT FROM 'true' DO UPDATE SET
	description = EXCLUDED.description,
	tags = EXCLUDED.tags,
	attributes = EXCLUDED.attributes,
	activation = EXCLUDED.activation,
	access_count = EXCLUDED.access_count,
	last_accessed = EXCLUDED.last_accessed,
	updated_at = now()
RETURNING id
`, nullIfEmpty(n.ID), n.Namespace, n.Name, string(n.Kind), n.Description, n.Tags, attrs, n.Activation,
			n.AccessCount, lastAccessed).Scan(&id)
	})
	if err != nil {
		return "", rmkerrors.Wrap(rmkerrors.StoreUnavailable, "upsert node", err)
	}
	return id, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (p *postgresStore) UpsertEdge(ctx context.Context, e Edge) error {
	if e.Source == "" || e.Target == "" || e.Rel == "" {
		return rmkerrors.New(rmkerrors.InvalidInput, "edge requires source, target, rel")
	}
	props, err := json.Marshal(copyMap(e.Props))
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.InvalidInput, "marshal edge props", err)
	}
	return withRetry(ctx, isTransient, func() error {
		_, err := p.pool.Exec(ctx, `
INSERT INTO rmk_edges(source, rel, target, weight, props) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (source, rel, target) DO UPDATE SET weight = EXCLUDED.weight, props = EXCLUDED.props
`, e.Source, string(e.Rel), e.Target, e.Weight, props)
		return err
	})
}

func scanNode(row pgx.Row) (*Node, error) {
	var n Node
	var kind string
	var attrs []byte
	if err := row.Scan(&n.ID, &n.Namespace, &n.Name, &kind, &n.Description, &n.Tags, &attrs,
		&n.Activation, &n.AccessCount, &n.LastAccessed, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Kind = Kind(kind)
	n.Attributes = map[string]string{}
	_ = json.Unmarshal(attrs, &n.Attributes)
	return &n, nil
}

const nodeCols = `id, namespace, name, kind, description, tags, attributes, activation, access_count, last_accessed, created_at, updated_at`

func (p *postgresStore) Get(ctx context.Context, namespace, id string) (*Node, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+nodeCols+` FROM rmk_nodes WHERE id=$1 AND ($2 = '' OR namespace=$2)`, id, namespace)
	n, err := scanNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "get node", err)
	}
	return n, true, nil
}

func (p *postgresStore) QueryByName(ctx context.Context, namespace, name string, kind Kind) ([]*Node, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	rows, err := p.pool.Query(ctx, `SELECT `+nodeCols+` FROM rmk_nodes WHERE namespace=$1 AND lower(name)=lower($2) AND ($3 = '' OR kind=$3)`,
		namespace, name, string(kind))
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "query by name", err)
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "scan node", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *postgresStore) FullText(ctx context.Context, namespace string, terms []string, limit int) ([]*Node, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	if limit <= 0 {
		limit = 20
	}
	query := strings.Join(terms, " | ")
	rows, err := p.pool.Query(ctx, `
SELECT `+nodeCols+` FROM rmk_nodes
WHERE namespace=$1 AND search @@ to_tsquery('simple', $2)
ORDER BY ts_rank(search, to_tsquery('simple', $2)) DESC, activation DESC
LIMIT $3
`, namespace, toTSQuerySafe(query), limit)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "full text search", err)
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "scan node", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func toTSQuerySafe(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '|' })
	for i, f := range fields {
		fields[i] = strings.Map(func(r rune) rune {
			if r == '&' || r == '|' || r == '!' || r == ':' || r == '(' || r == ')' {
				return -1
			}
			return r
		}, f)
	}
	return strings.Join(fields, " | ")
}

func (p *postgresStore) Expand(ctx context.Context, namespace string, seedIDs []string, depth int, edgeKinds []EdgeKind) (*Subgraph, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	if len(seedIDs) == 0 {
		return &Subgraph{}, nil
	}
	kinds := make([]string, len(edgeKinds))
	for i, k := range edgeKinds {
		kinds[i] = string(k)
	}
	visited := map[string]bool{}
	for _, id := range seedIDs {
		visited[id] = true
	}
	frontier := append([]string{}, seedIDs...)
	var edges []Edge
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		rows, err := p.pool.Query(ctx, `
SELECT e.source, e.rel, e.target, e.weight, e.props FROM rmk_edges e
JOIN rmk_nodes n ON n.id = e.target AND n.namespace = $1
WHERE e.source = ANY($2) AND (array_length($3::text[], 1) IS NULL OR e.rel = ANY($3))
`, namespace, frontier, kinds)
		if err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "expand", err)
		}
		var next []string
		fanout := map[string]int{}
		for rows.Next() {
			var e Edge
			var rel string
			var props []byte
			if err := rows.Scan(&e.Source, &rel, &e.Target, &e.Weight, &props); err != nil {
				rows.Close()
				return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "scan edge", err)
			}
			if fanout[e.Source] >= MaxFanOutPerHop {
				continue
			}
			fanout[e.Source]++
			e.Rel = EdgeKind(rel)
			e.Props = map[string]string{}
			_ = json.Unmarshal(props, &e.Props)
			edges = append(edges, e)
			if !visited[e.Target] {
				visited[e.Target] = true
				next = append(next, e.Target)
			}
		}
		rows.Close()
		frontier = next
	}
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	rows, err := p.pool.Query(ctx, `SELECT `+nodeCols+` FROM rmk_nodes WHERE namespace=$1 AND id = ANY($2)`, namespace, ids)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "expand node fetch", err)
	}
	defer rows.Close()
	var nodes []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "scan node", err)
		}
		nodes = append(nodes, n)
	}
	return &Subgraph{Nodes: nodes, Edges: edges}, rows.Err()
}

// IncomingEdges returns edges directed at targetID, restricted to edgeKinds
// when non-empty. Expand only walks source=>target, so reverse lookups
// (e.g. workspace membership, where the edge's source is the member) go
// through this query instead.
func (p *postgresStore) IncomingEdges(ctx context.Context, targetID string, edgeKinds []EdgeKind) ([]Edge, error) {
	kinds := make([]string, len(edgeKinds))
	for i, k := range edgeKinds {
		kinds[i] = string(k)
	}
	rows, err := p.pool.Query(ctx, `
SELECT source, rel, target, weight, props FROM rmk_edges
WHERE target = $1 AND (array_length($2::text[], 1) IS NULL OR rel = ANY($2))
`, targetID, kinds)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "incoming edges", err)
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		var rel string
		var props []byte
		if err := rows.Scan(&e.Source, &rel, &e.Target, &e.Weight, &props); err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "scan edge", err)
		}
		e.Rel = EdgeKind(rel)
		e.Props = map[string]string{}
		_ = json.Unmarshal(props, &e.Props)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (p *postgresStore) OrderBy(ctx context.Context, namespace string, field OrderField, desc bool, limit int, filter map[string]string) ([]*Node, error) {
	if namespace == "" {
		return nil, rmkerrors.New(rmkerrors.InvalidInput, "namespace required")
	}
	col := "activation"
	switch field {
	case OrderByCreatedAt:
		col = "created_at"
	case OrderByUpdatedAt:
		col = "updated_at"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	args := []any{namespace}
	where := "namespace=$1"
	for k, v := range filter {
		args = append(args, v)
		where += fmt.Sprintf(" AND attributes->>%s = $%d", pgQuoteLiteral(k), len(args))
	}
	q := fmt.Sprintf(`SELECT %s FROM rmk_nodes WHERE %s ORDER BY %s %s`, nodeCols, where, col, dir)
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "order by", err)
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "scan node", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func pgQuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (p *postgresStore) Delete(ctx context.Context, namespace, id string) error {
	return withRetry(ctx, isTransient, func() error {
		_, err := p.pool.Exec(ctx, `DELETE FROM rmk_nodes WHERE id=$1 AND namespace=$2`, id, namespace)
		return err
	})
}

// BatchWrite applies ops sequentially. Ops are independently retried; a
// mid-batch failure leaves earlier ops committed, matching the kernel's
// at-least-once ingestion semantics rather than all-or-nothing.
func (p *postgresStore) BatchWrite(ctx context.Context, namespace string, ops []WriteOp) error {
	for _, op := range ops {
		switch {
		case op.UpsertNode != nil:
			if _, err := p.Upsert(ctx, op.UpsertNode); err != nil {
				return err
			}
		case op.UpsertEdge != nil:
			if err := p.UpsertEdge(ctx, *op.UpsertEdge); err != nil {
				return err
			}
		case op.DeleteEdge != nil:
			if err := withRetry(ctx, isTransient, func() error {
				_, err := p.pool.Exec(ctx, `DELETE FROM rmk_edges WHERE source=$1 AND rel=$2 AND target=$3`,
					op.DeleteEdge.Source, string(op.DeleteEdge.Rel), op.DeleteEdge.Target)
				return err
			}); err != nil {
				return err
			}
		case op.DeleteID != "":
			if err := p.Delete(ctx, namespace, op.DeleteID); err != nil {
				return err
			}
		}
	}
	return nil
}
