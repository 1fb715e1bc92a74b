// Package vector stores conversation snippets with embeddings and answers
// nearest-neighbor queries over them.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/beautibuk/agent/internal/log"
)

// Match is one nearest-neighbor result. Similarity is cosine similarity in
// [-1, 1], where 1 means identical direction.
type Match struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	Content    string
	Similarity float64
}

// Store persists embeddings in PostgreSQL via pgvector.
//
// The dimension is fixed at construction and must match the vector column
// width; vectors of any other length are rejected before touching the
// database.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    log.Logger
}

// NewStore creates a similarity store for vectors of the given dimension.
func NewStore(pool *pgxpool.Pool, dimension int, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Store{pool: pool, dimension: dimension, logger: logger}, nil
}

// Dimension returns the fixed vector width.
func (s *Store) Dimension() int { return s.dimension }

// Insert stores a snippet with its embedding.
func (s *Store) Insert(ctx context.Context, sessionID uuid.UUID, content string, embedding []float32) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, store requires %d", len(embedding), s.dimension)
	}
	if content == "" {
		return fmt.Errorf("content is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_embeddings (session_id, content, embedding)
		 VALUES ($1, $2, $3)`,
		sessionID, content, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("inserting embedding: %w", err)
	}
	return nil
}

// QueryNearest returns up to k snippets ordered by cosine similarity
// descending. An empty store yields an empty slice, not an error.
func (s *Store) QueryNearest(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, store requires %d", len(embedding), s.dimension)
	}
	if k <= 0 {
		return []Match{}, nil
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, content, 1 - (embedding <=> $1) AS similarity
		 FROM conversation_embeddings
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying nearest embeddings: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning embedding match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedding matches: %w", err)
	}
	return matches, nil
}
