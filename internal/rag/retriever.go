// Package rag retrieves past conversation snippets relevant to a new user
// message and renders them as system context.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/vector"
)

// Defaults for retrieval.
const (
	// DefaultTopK is how many neighbors to fetch before filtering.
	DefaultTopK = 5

	// DefaultMinSimilarity is the relevance cutoff. Neighbors below it are
	// noise and never reach the prompt.
	DefaultMinSimilarity = 0.7

	contextHeader = "Relevant context from past conversations:"
)

// Embedder is the slice of the embedding adapter the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SimilarityStore answers nearest-neighbor queries.
type SimilarityStore interface {
	QueryNearest(ctx context.Context, embedding []float32, k int) ([]vector.Match, error)
	Insert(ctx context.Context, sessionID uuid.UUID, content string, embedding []float32) error
}

// Retriever embeds queries and pulls relevant snippets from the similarity
// store.
type Retriever struct {
	embedder      Embedder
	store         SimilarityStore
	topK          int
	minSimilarity float64
	logger        log.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK overrides the neighbor count.
func WithTopK(k int) Option {
	return func(r *Retriever) { r.topK = k }
}

// WithMinSimilarity overrides the relevance cutoff.
func WithMinSimilarity(min float64) Option {
	return func(r *Retriever) { r.minSimilarity = min }
}

// NewRetriever creates a Retriever with default top-k and cutoff.
func NewRetriever(embedder Embedder, store SimilarityStore, logger log.Logger, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("similarity store is required")
	}

	r := &Retriever{
		embedder:      embedder,
		store:         store,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns snippets relevant to the query, ordered by similarity
// descending. An empty result is normal for a fresh system or an unrelated
// query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.store.QueryNearest(ctx, embedding, r.topK)
	if err != nil {
		return nil, fmt.Errorf("querying similar conversations: %w", err)
	}

	var snippets []string
	for _, m := range matches {
		if m.Similarity < r.minSimilarity {
			continue
		}
		snippets = append(snippets, m.Content)
	}

	r.logger.Debug("retrieved context", "candidates", len(matches), "kept", len(snippets))
	return snippets, nil
}

// Index embeds a conversation snippet and stores it for future retrieval.
func (r *Retriever) Index(ctx context.Context, sessionID uuid.UUID, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	embedding, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding snippet: %w", err)
	}
	if err := r.store.Insert(ctx, sessionID, content, embedding); err != nil {
		return fmt.Errorf("storing snippet: %w", err)
	}
	return nil
}

// FormatSystemContext renders snippets into the system message injected ahead
// of the completion call. Returns "" when there is nothing to inject.
func FormatSystemContext(snippets []string) string {
	if len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for _, s := range snippets {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}
