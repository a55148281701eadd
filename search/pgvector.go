package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// DefaultEntriesTable holds every index; rows are partitioned by index_name.
//
//	CREATE TABLE vector_entries (
//		index_name text NOT NULL,
//		id         text NOT NULL,
//		metadata   jsonb,
//		embedding  vector NOT NULL,
//		PRIMARY KEY (index_name, id)
//	);
const DefaultEntriesTable = "vector_entries"

// PGVectorIndex queries a pgvector-backed table by cosine distance.
type PGVectorIndex struct {
	db    *sql.DB
	table string
}

// NewPGVectorIndex wraps an open database handle.
func NewPGVectorIndex(db *sql.DB) *PGVectorIndex {
	return &PGVectorIndex{db: db, table: DefaultEntriesTable}
}

// OpenPGVectorIndex connects to Postgres and verifies the connection.
func OpenPGVectorIndex(ctx context.Context, dsn string) (*PGVectorIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping vector database: %w", err)
	}

	return NewPGVectorIndex(db), nil
}

// Close releases the underlying database handle.
func (p *PGVectorIndex) Close() error {
	return p.db.Close()
}

func (p *PGVectorIndex) Query(ctx context.Context, q Query) ([]Match, error) {
	if q.Index == "" {
		return nil, errors.New("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, errors.New("query vector is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	columns := "id, 1 - (embedding <=> $2) AS score"
	if q.IncludeMetadata {
		columns += ", metadata"
	}
	if q.IncludeValues {
		columns += ", embedding"
	}
	statement := fmt.Sprintf(
		"SELECT %s FROM %s WHERE index_name = $1 ORDER BY embedding <=> $2 LIMIT $3",
		columns, p.table,
	)

	rows, err := p.db.QueryContext(ctx, statement, q.Index, pgvector.NewVector(q.Vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query vector index %q: %w", q.Index, err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var (
			match         Match
			score         float64
			metadataBytes []byte
			values        pgvector.Vector
		)
		dest := []any{&match.ID, &score}
		if q.IncludeMetadata {
			dest = append(dest, &metadataBytes)
		}
		if q.IncludeValues {
			dest = append(dest, &values)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}

		match.Score = float32(score)
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &match.Metadata); err != nil {
				return nil, fmt.Errorf("decode match metadata: %w", err)
			}
		}
		if q.IncludeValues {
			match.Values = values.Slice()
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector matches: %w", err)
	}

	return matches, nil
}
