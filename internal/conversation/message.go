// Package conversation defines the message model shared by the orchestrator,
// the session store, and the provider adapters.
//
// A conversation is an ordered sequence of messages. Insertion order is
// conversational order and is load-bearing: the session store persists it,
// and the completion adapters replay it verbatim on every round.
package conversation

import (
	"errors"
	"fmt"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Sentinel errors for message validation.
var (
	// ErrOrphanToolResult indicates a tool message whose ToolCallID does not
	// match any prior assistant tool call in the conversation.
	ErrOrphanToolResult = errors.New("tool result references unknown tool call")

	// ErrMissingToolCallID indicates a tool message without a ToolCallID.
	ErrMissingToolCallID = errors.New("tool result is missing a tool call id")
)

// ToolCall is a single tool invocation requested by the model.
// Arguments are an opaque key/value tree; they are validated only at the
// tool-execution boundary, never at intermediate hops.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolDescriptor describes a remote tool as advertised by the tool registry.
// Schema is the tool's parameter schema as a raw JSON-schema tree; it is
// forwarded to the completion provider and never interpreted here.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Message is one turn in a conversation.
//
// ToolCalls is set only on assistant messages that request tools.
// ToolCallID is set only on tool messages and links the result back to the
// assistant tool call it answers.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewUserMessage returns a user message with the given text.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewSystemMessage returns a system message with the given text.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// NewAssistantMessage returns an assistant message with final text content.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// NewToolCallMessage returns an assistant message carrying tool invocation
// requests. Content may be empty when the message is a pure tool invocation.
func NewToolCallMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolResultMessage returns a tool message answering the call with the
// given id.
func NewToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// ValidateToolResults checks that every tool message in msgs answers exactly
// one prior assistant tool call. Orphan tool results are rejected; a dangling
// tool call (requested but never answered) is legal mid-turn and is not
// flagged here.
func ValidateToolResults(msgs []Message) error {
	seen := make(map[string]bool)
	for i, msg := range msgs {
		switch msg.Role {
		case RoleAssistant:
			for _, call := range msg.ToolCalls {
				seen[call.ID] = true
			}
		case RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("message %d: %w", i, ErrMissingToolCallID)
			}
			if !seen[msg.ToolCallID] {
				return fmt.Errorf("message %d (call id %q): %w", i, msg.ToolCallID, ErrOrphanToolResult)
			}
		}
	}
	return nil
}
