package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGIndex keeps vectors in the policy_vectors table (pgvector). Score is
// cosine similarity, computed as 1 - cosine distance.
type PGIndex struct {
	Pool *pgxpool.Pool
}

func NewPGIndex(pool *pgxpool.Pool) *PGIndex {
	return &PGIndex{Pool: pool}
}

func (p *PGIndex) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		batch.Queue(`
			INSERT INTO policy_vectors (namespace, id, embedding, metadata)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata
		`, string(ns), r.ID, pgvector.NewVector(r.Values), meta)
	}

	results := p.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert %s vectors: %w", ns, err)
		}
	}
	return nil
}

func (p *PGIndex) Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter *Filter) ([]Match, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 1
	}

	query, args := buildVectorQuery(ns, vector, topK, filter)
	rows, err := p.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Score, &m.Metadata); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func buildVectorQuery(ns Namespace, vector []float32, topK int, filter *Filter) (string, []any) {
	args := []any{string(ns), pgvector.NewVector(vector)}
	wheres := []string{"namespace = $1"}
	if filter != nil {
		if len(filter.IDs) > 0 {
			args = append(args, filter.IDs)
			wheres = append(wheres, fmt.Sprintf("id = ANY($%d)", len(args)))
		}
		keys := make([]string, 0, len(filter.Equals))
		for k := range filter.Equals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, k, filter.Equals[k])
			wheres = append(wheres, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
		}
	}
	args = append(args, topK)
	query := `SELECT id, 1 - (embedding <=> $2::vector) AS score, metadata
		FROM policy_vectors
		WHERE ` + strings.Join(wheres, " AND ") + `
		ORDER BY embedding <=> $2::vector ASC, id ASC
		LIMIT $` + fmt.Sprint(len(args))
	return query, args
}
