// Package agent runs the tool-calling orchestration loop.
//
// One HandleTurn call takes a user message through a bounded loop of
// completion calls and tool executions until the model produces a final
// answer, the round bound is hit, or a dependency fails. The loop moves
// through explicit states: start, awaiting completion, executing tools, done.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/llm"
	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/rag"
	"github.com/beautibuk/agent/internal/registry"
	"github.com/beautibuk/agent/internal/session"
)

// Loop bounds.
const (
	// DefaultMaxRounds is the completion-round bound per turn. One round is
	// one completion call plus the tool executions it requests.
	DefaultMaxRounds = 5

	// DefaultTurnTimeout is the wall-clock budget for one turn.
	DefaultTurnTimeout = 2 * time.Minute
)

// ToolRegistry is the slice of the registry client the loop needs.
type ToolRegistry interface {
	Tools() []conversation.ToolDescriptor
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// SessionStore persists sessions and message history.
type SessionStore interface {
	LoadOrCreate(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Messages(ctx context.Context, id uuid.UUID) ([]conversation.Message, error)
	AppendMessages(ctx context.Context, id uuid.UUID, msgs []conversation.Message) error
}

// ContextRetriever supplies cross-session context and indexes finished turns.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
	Index(ctx context.Context, sessionID uuid.UUID, content string) error
}

// Result is the outcome of one turn. Failure is nil for a normal answer and
// set when the turn degraded.
type Result struct {
	SessionID uuid.UUID
	Response  string
	Rounds    int
	Failure   *Failure
}

// Config assembles an Orchestrator.
type Config struct {
	Provider  llm.Provider
	Registry  ToolRegistry
	Sessions  SessionStore
	Retriever ContextRetriever // nil disables retrieval and indexing
	Logger    log.Logger

	SystemPrompt string
	MaxRounds    int
	TurnTimeout  time.Duration

	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimiter    *rate.Limiter // nil uses the default limiter
}

func (cfg Config) validate() error {
	if cfg.Provider == nil {
		return errors.New("completion provider is required")
	}
	if cfg.Registry == nil {
		return errors.New("tool registry is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Orchestrator drives conversation turns. It is stateless between turns and
// safe for concurrent use.
type Orchestrator struct {
	provider  llm.Provider
	registry  ToolRegistry
	sessions  SessionStore
	retriever ContextRetriever
	logger    log.Logger

	systemPrompt string
	maxRounds    int
	turnTimeout  time.Duration

	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
}

// New creates an Orchestrator, filling zero config values with defaults.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	turnTimeout := cfg.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = DefaultRetryConfig()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Orchestrator{
		provider:     cfg.Provider,
		registry:     cfg.Registry,
		sessions:     cfg.Sessions,
		retriever:    cfg.Retriever,
		logger:       cfg.Logger,
		systemPrompt: cfg.SystemPrompt,
		maxRounds:    maxRounds,
		turnTimeout:  turnTimeout,
		retry:        retryCfg,
		breaker:      NewCircuitBreaker(cfg.CircuitBreaker),
		limiter:      limiter,
	}, nil
}

// HandleTurn runs one conversation turn.
//
// A nil session ID starts a fresh session. Degraded outcomes (provider down,
// tools down, protocol violation, rounds exhausted) come back as a Result
// with Failure set; an error return means the turn could not produce any
// response at all, which only happens on storage failures.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID uuid.UUID, userMessage string) (*Result, error) {
	if userMessage == "" {
		return nil, errors.New("user message is required")
	}
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}

	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	sess, err := o.sessions.LoadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	history, err := o.sessions.Messages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	userMsg := conversation.NewUserMessage(userMessage)
	working := o.buildContext(ctx, history, userMessage)
	working = append(working, userMsg)

	tools := o.registry.Tools()

	// turnMsgs accumulates everything generated this turn, in order. It is
	// persisted as one atomic append together with the user message; the
	// ephemeral system context never is.
	var turnMsgs []conversation.Message

	for round := 1; round <= o.maxRounds; round++ {
		o.logger.Debug("completion round", "session_id", sess.ID, "round", round)

		if err := o.breaker.Allow(); err != nil {
			return o.degrade(ctx, sess.ID, userMsg, turnMsgs, round,
				FailureProviderUnavailable, providerDownMessage, err)
		}

		completion, err := o.completeWithRetry(ctx, working, tools)
		if err != nil {
			o.breaker.Failure()
			return o.degrade(ctx, sess.ID, userMsg, turnMsgs, round,
				FailureProviderUnavailable, providerDownMessage, err)
		}
		o.breaker.Success()

		if completion.IsFinal() {
			final := conversation.NewAssistantMessage(completion.Content)
			turnMsgs = append(turnMsgs, final)

			persisted := append([]conversation.Message{userMsg}, turnMsgs...)
			if err := o.sessions.AppendMessages(ctx, sess.ID, persisted); err != nil {
				return nil, fmt.Errorf("persisting turn: %w", err)
			}

			o.indexTurn(ctx, sess.ID, userMessage)
			return &Result{SessionID: sess.ID, Response: completion.Content, Rounds: round}, nil
		}

		callMsg := conversation.NewToolCallMessage(completion.Content, completion.ToolCalls)
		working = append(working, callMsg)
		turnMsgs = append(turnMsgs, callMsg)

		for _, call := range completion.ToolCalls {
			resultMsg, failure, err := o.executeTool(ctx, call)
			if failure != nil {
				if failure.Kind == FailureProtocolViolation {
					// The model invented a tool. Persisting the turn would
					// poison the history with an unanswerable call.
					o.logger.Error("unknown tool requested",
						"session_id", sess.ID, "tool", call.Name, "error", err)
					return &Result{
						SessionID: sess.ID,
						Response:  protocolViolationMessage,
						Rounds:    round,
						Failure:   failure,
					}, nil
				}
				return o.degrade(ctx, sess.ID, userMsg, turnMsgs, round,
					failure.Kind, failure.Message, err)
			}
			working = append(working, resultMsg)
			turnMsgs = append(turnMsgs, resultMsg)
		}
	}

	// Round bound hit. Persist the partial turn so the tool activity is not
	// lost, then answer with the fallback.
	fallback := conversation.NewAssistantMessage(fallbackMessage)
	turnMsgs = append(turnMsgs, fallback)

	persisted := append([]conversation.Message{userMsg}, turnMsgs...)
	if err := o.sessions.AppendMessages(ctx, sess.ID, persisted); err != nil {
		return nil, fmt.Errorf("persisting turn: %w", err)
	}

	return &Result{
		SessionID: sess.ID,
		Response:  fallbackMessage,
		Rounds:    o.maxRounds,
		Failure:   &Failure{Kind: FailureRoundsExhausted, Message: "round bound reached without a final answer"},
	}, nil
}

// buildContext assembles the ephemeral prefix: the base system prompt plus
// retrieved cross-session context.
func (o *Orchestrator) buildContext(ctx context.Context, history []conversation.Message, userMessage string) []conversation.Message {
	var msgs []conversation.Message
	if o.systemPrompt != "" {
		msgs = append(msgs, conversation.NewSystemMessage(o.systemPrompt))
	}

	if o.retriever != nil {
		snippets, err := o.retriever.Retrieve(ctx, userMessage)
		if err != nil {
			// Retrieval is an enhancement; a turn without context beats no
			// turn at all.
			o.logger.Warn("context retrieval failed", "error", err)
		} else if text := rag.FormatSystemContext(snippets); text != "" {
			msgs = append(msgs, conversation.NewSystemMessage(text))
		}
	}

	return append(msgs, history...)
}

// executeTool runs one requested call and maps registry errors to the loop's
// outcomes. A tool that ran and failed produces a tool-result message the
// model can react to; infrastructure failures produce a Failure.
func (o *Orchestrator) executeTool(ctx context.Context, call conversation.ToolCall) (conversation.Message, *Failure, error) {
	output, err := o.registry.CallTool(ctx, call.Name, call.Arguments)
	if err == nil {
		return conversation.NewToolResultMessage(call.ID, output), nil, nil
	}

	var execErr *registry.ExecutionError
	switch {
	case errors.As(err, &execErr):
		o.logger.Warn("tool execution failed",
			"tool", call.Name, "code", execErr.Code, "message", execErr.Message)
		return conversation.NewToolResultMessage(call.ID, formatToolError(execErr)), nil, nil

	case errors.Is(err, registry.ErrUnknownTool):
		return conversation.Message{}, &Failure{
			Kind:    FailureProtocolViolation,
			Message: fmt.Sprintf("model requested unknown tool %q", call.Name),
		}, err

	default:
		return conversation.Message{}, &Failure{
			Kind:    FailureToolUnavailable,
			Message: toolsDownMessage,
		}, err
	}
}

// degrade persists what the turn produced plus a degraded assistant message,
// then returns the degraded result.
func (o *Orchestrator) degrade(ctx context.Context, sessionID uuid.UUID, userMsg conversation.Message,
	turnMsgs []conversation.Message, round int, kind FailureKind, response string, cause error) (*Result, error) {

	o.logger.Error("turn degraded",
		"session_id", sessionID, "kind", kind, "round", round, "error", cause)

	persisted := append([]conversation.Message{userMsg}, closeDanglingCalls(turnMsgs)...)
	persisted = append(persisted, conversation.NewAssistantMessage(response))
	if err := o.sessions.AppendMessages(ctx, sessionID, persisted); err != nil {
		return nil, fmt.Errorf("persisting degraded turn: %w", err)
	}

	return &Result{
		SessionID: sessionID,
		Response:  response,
		Rounds:    round,
		Failure:   &Failure{Kind: kind, Message: cause.Error()},
	}, nil
}

// closeDanglingCalls appends a synthesized error result for every tool call
// in turnMsgs that never got one, so a degraded turn persists with each call
// answered. Completion APIs reject an assistant tool-call message that is not
// followed by matching results, and the history is replayed on every later
// turn.
func closeDanglingCalls(turnMsgs []conversation.Message) []conversation.Message {
	answered := make(map[string]bool)
	for _, msg := range turnMsgs {
		if msg.Role == conversation.RoleTool {
			answered[msg.ToolCallID] = true
		}
	}

	out := turnMsgs
	for _, msg := range turnMsgs {
		if msg.Role != conversation.RoleAssistant {
			continue
		}
		for _, call := range msg.ToolCalls {
			if answered[call.ID] {
				continue
			}
			answered[call.ID] = true
			out = append(out, conversation.NewToolResultMessage(call.ID, formatToolError(&registry.ExecutionError{
				Tool:    call.Name,
				Code:    "not_executed",
				Message: "tool call aborted before execution",
			})))
		}
	}
	return out
}

// indexTurn stores the user message for future retrieval. Best-effort: the
// user already has their answer.
func (o *Orchestrator) indexTurn(ctx context.Context, sessionID uuid.UUID, userMessage string) {
	if o.retriever == nil {
		return
	}
	if err := o.retriever.Index(ctx, sessionID, userMessage); err != nil {
		o.logger.Warn("indexing turn failed", "session_id", sessionID, "error", err)
	}
}

// formatToolError renders an execution failure as tool-result content so the
// model can adjust instead of the turn aborting.
func formatToolError(execErr *registry.ExecutionError) string {
	payload, err := json.Marshal(map[string]any{
		"error": map[string]string{
			"code":    execErr.Code,
			"message": execErr.Message,
		},
	})
	if err != nil {
		return fmt.Sprintf(`{"error":{"code":%q}}`, execErr.Code)
	}
	return string(payload)
}
