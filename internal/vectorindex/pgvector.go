package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"singularity-rmk/internal/rmkerrors"
)

// pgvectorIndex stores embeddings in Postgres via the pgvector extension,
// grounded on the teacher's pgVector, extended with a namespace column.
type pgvectorIndex struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string
}

// NewPgvectorIndex builds an Index backed by Postgres + pgvector.
func NewPgvectorIndex(ctx context.Context, pool *pgxpool.Pool, dimensions int, metric string) (Index, error) {
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rmk_embeddings (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			vec %s,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (namespace, id)
		)`, vecType),
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "pgvector schema bootstrap", err)
		}
	}
	return &pgvectorIndex{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *pgvectorIndex) Dimensions() int { return p.dimensions }

func (p *pgvectorIndex) Add(ctx context.Context, namespace, id string, vector []float32, metadata map[string]string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO rmk_embeddings(namespace, id, vec, metadata) VALUES($1, $2, $3::vector, $4)
ON CONFLICT (namespace, id) DO UPDATE SET vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, namespace, id, toVectorLiteral(vector), metadata)
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.StoreUnavailable, "pgvector add", err)
	}
	return nil
}

func (p *pgvectorIndex) Remove(ctx context.Context, namespace, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM rmk_embeddings WHERE namespace=$1 AND id=$2`, namespace, id)
	if err != nil {
		return rmkerrors.Wrap(rmkerrors.StoreUnavailable, "pgvector remove", err)
	}
	return nil
}

func (p *pgvectorIndex) Search(ctx context.Context, namespace string, vector []float32, k int, minScore float64, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	op := "<=>"
	scoreExpr := "1 - (vec <=> $1::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op = "<->"
		scoreExpr = "-(vec <-> $1::vector)"
	case "ip", "dot":
		op = "<#>"
		scoreExpr = "-(vec <#> $1::vector)"
	}
	args := []any{toVectorLiteral(vector), k, namespace}
	where := "WHERE namespace=$3"
	if len(filter) > 0 {
		where += " AND metadata @> $4"
		args = append(args, filter)
	}
	query := fmt.Sprintf(`SELECT id, %s AS score, metadata FROM rmk_embeddings %s ORDER BY vec %s $1::vector LIMIT $2`, scoreExpr, where, op)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "pgvector search", err)
	}
	defer rows.Close()
	out := make([]Result, 0, k)
	for rows.Next() {
		var r Result
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &md); err != nil {
			return nil, rmkerrors.Wrap(rmkerrors.StoreUnavailable, "pgvector scan", err)
		}
		if r.Score < minScore {
			continue
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
