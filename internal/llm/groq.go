package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beautibuk/agent/internal/conversation"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// Groq is a Provider for Groq's OpenAI-compatible chat completions API.
type Groq struct {
	apiKey     string
	baseURL    string
	cfg        Config
	httpClient *http.Client
}

// GroqOption configures the Groq adapter.
type GroqOption func(*Groq)

// WithGroqBaseURL overrides the API base URL. Used by tests.
func WithGroqBaseURL(url string) GroqOption {
	return func(g *Groq) { g.baseURL = url }
}

// WithGroqHTTPClient overrides the HTTP client.
func WithGroqHTTPClient(client *http.Client) GroqOption {
	return func(g *Groq) { g.httpClient = client }
}

// NewGroq creates a Groq completion adapter.
func NewGroq(apiKey string, cfg Config, opts ...GroqOption) (*Groq, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("groq api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	g := &Groq{
		apiKey:     apiKey,
		baseURL:    defaultGroqBaseURL,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name implements Provider.
func (g *Groq) Name() string { return "groq" }

// OpenAI-compatible wire types. Tool call arguments travel as a JSON string,
// not an object.
type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Tools       []groqTool    `json:"tools,omitempty"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int32         `json:"max_tokens"`
}

type groqMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []groqToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type groqToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function groqFunction `json:"function"`
}

type groqFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type groqTool struct {
	Type     string      `json:"type"`
	Function groqToolDef `json:"function"`
}

type groqToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type groqResponse struct {
	Choices []struct {
		Message groqMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Provider.
func (g *Groq) Complete(ctx context.Context, msgs []conversation.Message, tools []conversation.ToolDescriptor) (*Completion, error) {
	wireMsgs, err := toGroqMessages(msgs)
	if err != nil {
		return nil, err
	}

	reqBody := groqRequest{
		Model:       g.cfg.Model,
		Messages:    wireMsgs,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxOutputTokens,
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, groqTool{
			Type: "function",
			Function: groqToolDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal groq request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create groq request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq request: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read groq response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("groq status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("groq status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed groqResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode groq response: %w: %w", ErrMalformedResponse, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("groq error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("groq: no choices: %w", ErrMalformedResponse)
	}

	return fromGroqMessage(parsed.Choices[0].Message)
}

func toGroqMessages(msgs []conversation.Message) ([]groqMessage, error) {
	out := make([]groqMessage, 0, len(msgs))
	for _, msg := range msgs {
		wire := groqMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				return nil, fmt.Errorf("marshal tool call arguments for %s: %w", call.Name, err)
			}
			wire.ToolCalls = append(wire.ToolCalls, groqToolCall{
				ID:   call.ID,
				Type: "function",
				Function: groqFunction{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, wire)
	}
	return out, nil
}

func fromGroqMessage(msg groqMessage) (*Completion, error) {
	completion := &Completion{Content: msg.Content}
	for _, call := range msg.ToolCalls {
		args := make(map[string]any)
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("decode tool call arguments for %s: %w: %w",
					call.Function.Name, ErrMalformedResponse, err)
			}
		}
		completion.ToolCalls = append(completion.ToolCalls, conversation.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return completion, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
