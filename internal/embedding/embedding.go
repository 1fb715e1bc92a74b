// Package embedding turns text into fixed-dimension vectors for similarity
// search.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrUnavailable indicates the embedding provider could not be reached.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder converts text into a dense vector.
//
// Implementations must produce vectors of exactly Dimension() elements for
// every input; the similarity store rejects anything else.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Gemini embeds text via the Gemini embedding models.
type Gemini struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGemini creates a Gemini embedder. The requested dimension is passed to
// the API so stored vectors match the similarity store's column width.
func NewGemini(client *genai.Client, model string, dimension int) (*Gemini, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	return &Gemini{client: client, model: model, dimension: dimension}, nil
}

// Dimension implements Embedder.
func (g *Gemini) Dimension() int { return g.dimension }

// Embed implements Embedder.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{OutputDimensionality: &dim},
	)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w: %w", ErrUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: empty embedding in response")
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.dimension {
		return nil, fmt.Errorf("embed content: got %d dimensions, want %d", len(values), g.dimension)
	}
	return values, nil
}
