// Package llm abstracts completion providers behind a single interface.
//
// A provider receives the full ordered message list plus the current tool
// catalog and returns either final text or a set of requested tool calls.
// Vendor wire formats are adapter concerns: the orchestrator depends only on
// Provider.
package llm

import (
	"context"
	"errors"

	"github.com/beautibuk/agent/internal/conversation"
)

// Sentinel errors shared by all provider adapters.
var (
	// ErrUnavailable indicates the provider could not be reached or answered
	// with a transient failure (timeout, 5xx, rate limit).
	ErrUnavailable = errors.New("completion provider unavailable")

	// ErrMalformedResponse indicates the provider answered with a payload
	// that does not match its own wire contract.
	ErrMalformedResponse = errors.New("malformed completion response")
)

// Completion is the outcome of one completion call: either final text
// (Content non-empty, no ToolCalls) or a set of requested tool invocations.
type Completion struct {
	Content   string
	ToolCalls []conversation.ToolCall
}

// IsFinal reports whether the completion is a final answer rather than a
// tool request.
func (c *Completion) IsFinal() bool {
	return len(c.ToolCalls) == 0
}

// Config holds generation parameters common to all adapters.
type Config struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Provider sends a conversation to a language model.
//
// Implementations must be safe for concurrent use; one Provider instance is
// shared across all in-flight orchestration turns.
type Provider interface {
	// Name identifies the adapter, for logging.
	Name() string

	// Complete sends the ordered message list and the tool catalog and
	// returns the model's next step.
	Complete(ctx context.Context, msgs []conversation.Message, tools []conversation.ToolDescriptor) (*Completion, error)
}
