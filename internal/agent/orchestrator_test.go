package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/llm"
	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/registry"
	"github.com/beautibuk/agent/internal/session"
)

// stubProvider replays a scripted sequence of completions and records the
// messages it saw on each call.
type stubProvider struct {
	mu      sync.Mutex
	script  []stubStep
	calls   [][]conversation.Message
	callIdx int
}

type stubStep struct {
	completion *llm.Completion
	err        error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, msgs []conversation.Message, tools []conversation.ToolDescriptor) (*llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]conversation.Message, len(msgs))
	copy(snapshot, msgs)
	p.calls = append(p.calls, snapshot)

	if p.callIdx >= len(p.script) {
		return nil, fmt.Errorf("stub provider: unexpected call %d", p.callIdx+1)
	}
	step := p.script[p.callIdx]
	p.callIdx++
	return step.completion, step.err
}

// stubRegistry answers tool calls from a map; a nil entry means unavailable.
type stubRegistry struct {
	mu      sync.Mutex
	tools   []conversation.ToolDescriptor
	results map[string]any // string result, error, or *registry.ExecutionError
	calls   []string
}

func (r *stubRegistry) Tools() []conversation.ToolDescriptor { return r.tools }

func (r *stubRegistry) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()

	res, ok := r.results[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", registry.ErrUnknownTool, name)
	}
	switch v := res.(type) {
	case string:
		return v, nil
	case error:
		return "", v
	default:
		return "", fmt.Errorf("stub registry: bad result type %T", res)
	}
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu        sync.Mutex
	msgs      map[uuid.UUID][]conversation.Message
	appendErr error
}

func newMemSessions() *memSessions {
	return &memSessions{msgs: make(map[uuid.UUID][]conversation.Message)}
}

func (s *memSessions) LoadOrCreate(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[id]; !ok {
		s.msgs[id] = nil
	}
	return &session.Session{ID: id}, nil
}

func (s *memSessions) Messages(ctx context.Context, id uuid.UUID) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conversation.Message, len(s.msgs[id]))
	copy(out, s.msgs[id])
	return out, nil
}

func (s *memSessions) AppendMessages(ctx context.Context, id uuid.UUID, msgs []conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.msgs[id] = append(s.msgs[id], msgs...)
	return nil
}

// stubRetriever returns fixed snippets and records indexed content.
type stubRetriever struct {
	snippets    []string
	retrieveErr error

	mu      sync.Mutex
	indexed []string
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	return r.snippets, r.retrieveErr
}

func (r *stubRetriever) Index(ctx context.Context, sessionID uuid.UUID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, content)
	return nil
}

var searchTool = conversation.ToolDescriptor{
	Name:        "search_businesses",
	Description: "Search businesses by service and location.",
	Schema:      map[string]any{"type": "object"},
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = fastRetry()
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return o
}

func TestHandleTurn_FinalAnswerFirstRound(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{Content: "Hello there."}},
	}}
	sessions := newMemSessions()
	retriever := &stubRetriever{}

	o := newTestOrchestrator(t, Config{
		Provider:  provider,
		Registry:  &stubRegistry{},
		Sessions:  sessions,
		Retriever: retriever,
	})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "hi")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure != nil {
		t.Fatalf("Failure = %+v, want nil", result.Failure)
	}
	if result.Response != "Hello there." {
		t.Errorf("Response = %q", result.Response)
	}
	if result.SessionID == uuid.Nil {
		t.Error("session ID should be minted when absent")
	}
	if result.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1", result.Rounds)
	}

	persisted := sessions.msgs[result.SessionID]
	if len(persisted) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(persisted))
	}
	if persisted[0].Role != conversation.RoleUser || persisted[1].Role != conversation.RoleAssistant {
		t.Errorf("persisted roles wrong: %+v", persisted)
	}

	if len(retriever.indexed) != 1 || retriever.indexed[0] != "hi" {
		t.Errorf("indexed = %v, want the user message", retriever.indexed)
	}
}

func TestHandleTurn_ToolRoundTrip(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{ToolCalls: []conversation.ToolCall{
			{ID: "call_1", Name: "search_businesses", Arguments: map[string]any{"query": "salon"}},
		}}},
		{completion: &llm.Completion{Content: "Shine Salon is nearby."}},
	}}
	reg := &stubRegistry{
		tools:   []conversation.ToolDescriptor{searchTool},
		results: map[string]any{"search_businesses": `[{"name":"Shine Salon"}]`},
	}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: reg, Sessions: sessions})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "find a salon")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure != nil {
		t.Fatalf("Failure = %+v, want nil", result.Failure)
	}
	if result.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2", result.Rounds)
	}
	if reg.calls[0] != "search_businesses" {
		t.Errorf("tool calls = %v", reg.calls)
	}

	// Second completion call must see the call and its result, in order.
	second := provider.calls[1]
	n := len(second)
	if n < 3 {
		t.Fatalf("second call saw %d messages", n)
	}
	if len(second[n-2].ToolCalls) != 1 {
		t.Errorf("expected tool call message before result: %+v", second[n-2])
	}
	if second[n-1].ToolCallID != "call_1" {
		t.Errorf("expected tool result last: %+v", second[n-1])
	}

	// Persisted turn: user, tool call, tool result, final answer.
	persisted := sessions.msgs[result.SessionID]
	if len(persisted) != 4 {
		t.Fatalf("persisted %d messages, want 4", len(persisted))
	}
	if err := conversation.ValidateToolResults(persisted); err != nil {
		t.Errorf("persisted history invalid: %v", err)
	}
	if persisted[3].Content != "Shine Salon is nearby." {
		t.Errorf("final message = %+v", persisted[3])
	}
}

func TestHandleTurn_ToolExecutionFailureFedBack(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{ToolCalls: []conversation.ToolCall{
			{ID: "call_1", Name: "search_businesses"},
		}}},
		{completion: &llm.Completion{Content: "I could not search right now."}},
	}}
	reg := &stubRegistry{
		tools: []conversation.ToolDescriptor{searchTool},
		results: map[string]any{
			"search_businesses": &registry.ExecutionError{
				Tool: "search_businesses", Code: "execution_failed", Message: "index rebuilding",
			},
		},
	}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: reg, Sessions: sessions})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "find a salon")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	// A failed execution is not a degraded turn: the model got the error and
	// answered.
	if result.Failure != nil {
		t.Fatalf("Failure = %+v, want nil", result.Failure)
	}

	second := provider.calls[1]
	resultMsg := second[len(second)-1]
	if resultMsg.Role != conversation.RoleTool {
		t.Fatalf("last message role = %q, want tool", resultMsg.Role)
	}
	if !strings.Contains(resultMsg.Content, "execution_failed") ||
		!strings.Contains(resultMsg.Content, "index rebuilding") {
		t.Errorf("tool error not fed back: %q", resultMsg.Content)
	}
}

func TestHandleTurn_UnknownToolAbortsWithoutPersistence(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{ToolCalls: []conversation.ToolCall{
			{ID: "call_1", Name: "delete_everything"},
		}}},
	}}
	reg := &stubRegistry{tools: []conversation.ToolDescriptor{searchTool}, results: map[string]any{}}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: reg, Sessions: sessions})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "hi")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureProtocolViolation {
		t.Fatalf("Failure = %+v, want protocol violation", result.Failure)
	}

	// Nothing from the poisoned turn may reach storage.
	if got := sessions.msgs[result.SessionID]; len(got) != 0 {
		t.Errorf("persisted %d messages, want 0", len(got))
	}
}

func TestHandleTurn_ProviderUnavailableDegrades(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{err: fmt.Errorf("dial: %w", llm.ErrUnavailable)},
		{err: fmt.Errorf("dial: %w", llm.ErrUnavailable)},
	}}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: &stubRegistry{}, Sessions: sessions})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "hi")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureProviderUnavailable {
		t.Fatalf("Failure = %+v, want provider unavailable", result.Failure)
	}
	if result.Response != providerDownMessage {
		t.Errorf("Response = %q", result.Response)
	}

	// Retries exhausted: initial attempt plus one retry.
	if len(provider.calls) != 2 {
		t.Errorf("provider calls = %d, want 2", len(provider.calls))
	}

	// The user message and the degraded response are still recorded.
	persisted := sessions.msgs[result.SessionID]
	if len(persisted) != 2 || persisted[1].Content != providerDownMessage {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestHandleTurn_RegistryUnavailableDegrades(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{ToolCalls: []conversation.ToolCall{
			{ID: "call_1", Name: "search_businesses"},
		}}},
	}}
	reg := &stubRegistry{
		tools: []conversation.ToolDescriptor{searchTool},
		results: map[string]any{
			"search_businesses": fmt.Errorf("session closed: %w", registry.ErrUnavailable),
		},
	}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: reg, Sessions: sessions})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "find a salon")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureToolUnavailable {
		t.Fatalf("Failure = %+v, want tool unavailable", result.Failure)
	}
	if result.Response != toolsDownMessage {
		t.Errorf("Response = %q", result.Response)
	}
}

// assertToolCallsAnswered checks that every assistant tool call in msgs has
// exactly one tool result and no result is orphaned.
func assertToolCallsAnswered(t *testing.T, msgs []conversation.Message) {
	t.Helper()

	if err := conversation.ValidateToolResults(msgs); err != nil {
		t.Fatalf("history invalid: %v", err)
	}

	results := make(map[string]int)
	var calls int
	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleAssistant:
			calls += len(msg.ToolCalls)
		case conversation.RoleTool:
			results[msg.ToolCallID]++
		}
	}
	if len(results) != calls {
		t.Fatalf("%d tool calls but %d answered", calls, len(results))
	}
	for id, n := range results {
		if n != 1 {
			t.Errorf("call %q answered %d times", id, n)
		}
	}
}

func TestHandleTurn_DegradedTurnClosesToolCalls(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{ToolCalls: []conversation.ToolCall{
			{ID: "call_1", Name: "search_businesses", Arguments: map[string]any{"query": "salon"}},
			{ID: "call_2", Name: "check_availability"},
		}}},
	}}
	reg := &stubRegistry{
		tools: []conversation.ToolDescriptor{searchTool},
		results: map[string]any{
			"search_businesses":  `[{"name":"Shine Salon"}]`,
			"check_availability": fmt.Errorf("session closed: %w", registry.ErrUnavailable),
		},
	}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: reg, Sessions: sessions})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "book me a haircut")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureToolUnavailable {
		t.Fatalf("Failure = %+v, want tool unavailable", result.Failure)
	}

	// user, tool-call message, real result, synthesized result, degraded answer.
	persisted := sessions.msgs[result.SessionID]
	if len(persisted) != 5 {
		t.Fatalf("persisted %d messages, want 5: %+v", len(persisted), persisted)
	}
	assertToolCallsAnswered(t, persisted)

	var closed conversation.Message
	for _, msg := range persisted {
		if msg.Role == conversation.RoleTool && msg.ToolCallID == "call_2" {
			closed = msg
		}
	}
	if !strings.Contains(closed.Content, "not_executed") {
		t.Errorf("unanswered call not closed with an error result: %+v", closed)
	}
	if persisted[len(persisted)-1].Content != toolsDownMessage {
		t.Errorf("last persisted message = %+v", persisted[len(persisted)-1])
	}
}

func TestHandleTurn_RoundBoundFallback(t *testing.T) {
	loop := func(id string) stubStep {
		return stubStep{completion: &llm.Completion{ToolCalls: []conversation.ToolCall{
			{ID: id, Name: "search_businesses"},
		}}}
	}
	provider := &stubProvider{script: []stubStep{loop("call_1"), loop("call_2"), loop("call_3")}}
	reg := &stubRegistry{
		tools:   []conversation.ToolDescriptor{searchTool},
		results: map[string]any{"search_businesses": "[]"},
	}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{
		Provider:  provider,
		Registry:  reg,
		Sessions:  sessions,
		MaxRounds: 2,
	})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "find a salon")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureRoundsExhausted {
		t.Fatalf("Failure = %+v, want rounds exhausted", result.Failure)
	}
	if result.Response != fallbackMessage {
		t.Errorf("Response = %q", result.Response)
	}
	if len(provider.calls) != 2 {
		t.Errorf("provider calls = %d, want MaxRounds", len(provider.calls))
	}

	// The partial turn plus the fallback are persisted and well formed.
	persisted := sessions.msgs[result.SessionID]
	assertToolCallsAnswered(t, persisted)
	last := persisted[len(persisted)-1]
	if last.Content != fallbackMessage {
		t.Errorf("last persisted message = %+v", last)
	}
}

func TestHandleTurn_InjectsRetrievedContext(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{Content: "As before, Shine Salon."}},
	}}
	sessions := newMemSessions()
	retriever := &stubRetriever{snippets: []string{"any salons near the city center?"}}

	o := newTestOrchestrator(t, Config{
		Provider:     provider,
		Registry:     &stubRegistry{},
		Sessions:     sessions,
		Retriever:    retriever,
		SystemPrompt: "You are a helpful assistant.",
	})

	if _, err := o.HandleTurn(context.Background(), uuid.Nil, "that salon again?"); err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}

	seen := provider.calls[0]
	if seen[0].Role != conversation.RoleSystem || seen[0].Content != "You are a helpful assistant." {
		t.Errorf("first message should be the system prompt: %+v", seen[0])
	}
	if seen[1].Role != conversation.RoleSystem ||
		!strings.HasPrefix(seen[1].Content, "Relevant context from past conversations:") {
		t.Errorf("second message should carry retrieved context: %+v", seen[1])
	}
}

func TestHandleTurn_RetrievalFailureIsNonFatal(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{Content: "Hello."}},
	}}
	retriever := &stubRetriever{retrieveErr: errors.New("embedder down")}

	o := newTestOrchestrator(t, Config{
		Provider:  provider,
		Registry:  &stubRegistry{},
		Sessions:  newMemSessions(),
		Retriever: retriever,
	})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "hi")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}
	if result.Failure != nil {
		t.Errorf("Failure = %+v, want nil", result.Failure)
	}
}

func TestHandleTurn_SystemContextNotPersisted(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{Content: "Hello."}},
	}}
	sessions := newMemSessions()
	retriever := &stubRetriever{snippets: []string{"old snippet"}}

	o := newTestOrchestrator(t, Config{
		Provider:     provider,
		Registry:     &stubRegistry{},
		Sessions:     sessions,
		Retriever:    retriever,
		SystemPrompt: "base prompt",
	})

	result, err := o.HandleTurn(context.Background(), uuid.Nil, "hi")
	if err != nil {
		t.Fatalf("HandleTurn() unexpected error: %v", err)
	}

	for _, msg := range sessions.msgs[result.SessionID] {
		if msg.Role == conversation.RoleSystem {
			t.Errorf("system message leaked into storage: %+v", msg)
		}
	}
}

func TestHandleTurn_StorageFailureIsFatal(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{Content: "Hello."}},
	}}
	sessions := newMemSessions()
	sessions.appendErr = errors.New("disk full")

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: &stubRegistry{}, Sessions: sessions})

	if _, err := o.HandleTurn(context.Background(), uuid.Nil, "hi"); err == nil {
		t.Fatal("HandleTurn() should fail when persistence fails")
	}
}

func TestHandleTurn_SecondTurnSeesHistory(t *testing.T) {
	provider := &stubProvider{script: []stubStep{
		{completion: &llm.Completion{Content: "Hi, I can help."}},
		{completion: &llm.Completion{Content: "You asked about salons."}},
	}}
	sessions := newMemSessions()

	o := newTestOrchestrator(t, Config{Provider: provider, Registry: &stubRegistry{}, Sessions: sessions})

	first, err := o.HandleTurn(context.Background(), uuid.Nil, "any salons?")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := o.HandleTurn(context.Background(), first.SessionID, "what did I ask?"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	second := provider.calls[1]
	if len(second) != 3 {
		t.Fatalf("second turn saw %d messages, want prior exchange plus new input", len(second))
	}
	if second[0].Content != "any salons?" || second[1].Content != "Hi, I can help." {
		t.Errorf("history order wrong: %+v", second[:2])
	}
}
