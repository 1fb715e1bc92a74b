package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/beautibuk/agent/internal/conversation"
)

// Gemini is a Provider backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    Config
}

// NewGemini creates a Gemini completion adapter on top of an existing genai
// client. The client is shared with the embedding adapter.
func NewGemini(client *genai.Client, cfg Config) (*Gemini, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Complete implements Provider.
func (g *Gemini) Complete(ctx context.Context, msgs []conversation.Message, tools []conversation.ToolDescriptor) (*Completion, error) {
	contents, system := toGeminiContents(msgs)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(tools)}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", classifyGeminiError(err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: no candidates: %w", ErrMalformedResponse)
	}

	return fromGeminiParts(resp.Candidates[0].Content.Parts), nil
}

// classifyGeminiError marks transient failures with ErrUnavailable so the
// retry loop can pick them up. Rate limits, server errors, and timeouts are
// retryable; everything else (bad request, auth) is not.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// toGeminiContents maps the conversation to Gemini contents. System messages
// are folded into a single system instruction; Gemini carries them out of
// band rather than in the message list.
func toGeminiContents(msgs []conversation.Message) (contents []*genai.Content, system string) {
	// Tool results carry only the call id; Gemini wants the function name back.
	callNames := make(map[string]string)
	var systemParts []string

	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case conversation.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case conversation.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: call.Arguments,
					},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case conversation.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     callNames[msg.ToolCallID],
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})
		}
	}

	return contents, strings.Join(systemParts, "\n\n")
}

// fromGeminiParts collects text and function calls from a candidate.
func fromGeminiParts(parts []*genai.Part) *Completion {
	var (
		text  strings.Builder
		calls []conversation.ToolCall
	)
	for i, part := range parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				// Gemini does not always assign call ids; the loop needs one
				// to correlate results.
				id = fmt.Sprintf("call_%d", i+1)
			}
			calls = append(calls, conversation.ToolCall{
				ID:        id,
				Name:      fc.Name,
				Arguments: fc.Args,
			})
		}
	}
	return &Completion{Content: text.String(), ToolCalls: calls}
}

func toFunctionDeclarations(tools []conversation.ToolDescriptor) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.Schema),
		})
	}
	return decls
}

// toGeminiSchema converts a raw JSON-schema tree to the genai schema type.
// Only the subset Gemini understands is mapped; unknown keywords are dropped.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if len(schema) == 0 {
		return nil
	}

	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		out.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(sub)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, v := range required {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGeminiSchema(items)
	}
	return out
}
