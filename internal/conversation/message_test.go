package conversation

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateToolResults_Matched(t *testing.T) {
	msgs := []Message{
		NewUserMessage("find a salon"),
		NewToolCallMessage("", []ToolCall{
			{ID: "call_1", Name: "search_businesses", Arguments: map[string]any{"query": "salon"}},
			{ID: "call_2", Name: "get_services"},
		}),
		NewToolResultMessage("call_1", `[{"name":"Shine"}]`),
		NewToolResultMessage("call_2", `[]`),
		NewAssistantMessage("I found one salon."),
	}

	if err := ValidateToolResults(msgs); err != nil {
		t.Fatalf("ValidateToolResults() unexpected error: %v", err)
	}
}

func TestValidateToolResults_Orphan(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hello"),
		NewToolResultMessage("call_99", "result"),
	}

	err := ValidateToolResults(msgs)
	if !errors.Is(err, ErrOrphanToolResult) {
		t.Fatalf("ValidateToolResults() error = %v, want ErrOrphanToolResult", err)
	}
}

func TestValidateToolResults_MissingID(t *testing.T) {
	msgs := []Message{
		{Role: RoleTool, Content: "result"},
	}

	err := ValidateToolResults(msgs)
	if !errors.Is(err, ErrMissingToolCallID) {
		t.Fatalf("ValidateToolResults() error = %v, want ErrMissingToolCallID", err)
	}
}

func TestValidateToolResults_ResultBeforeCall(t *testing.T) {
	// A result preceding the assistant message that requests the call is an
	// orphan: ordering matters, not mere presence.
	msgs := []Message{
		NewToolResultMessage("call_1", "early"),
		NewToolCallMessage("", []ToolCall{{ID: "call_1", Name: "search_businesses"}}),
	}

	if err := ValidateToolResults(msgs); !errors.Is(err, ErrOrphanToolResult) {
		t.Fatalf("ValidateToolResults() error = %v, want ErrOrphanToolResult", err)
	}
}

func TestMessage_JSONOmitsEmptyToolFields(t *testing.T) {
	data, err := json.Marshal(NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() unexpected error: %v", err)
	}
	if _, ok := raw["tool_calls"]; ok {
		t.Error("user message JSON should omit tool_calls")
	}
	if _, ok := raw["tool_call_id"]; ok {
		t.Error("user message JSON should omit tool_call_id")
	}
}

func TestMessage_JSONRoundTripToolCalls(t *testing.T) {
	msg := NewToolCallMessage("looking that up", []ToolCall{
		{ID: "call_1", Name: "search_businesses", Arguments: map[string]any{"city": "Athens"}},
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() unexpected error: %v", err)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "search_businesses" {
		t.Fatalf("round trip lost tool calls: %+v", got)
	}
	if city := got.ToolCalls[0].Arguments["city"]; city != "Athens" {
		t.Errorf("Arguments[city] = %v, want Athens", city)
	}
}
