package agent

// FailureKind classifies why a turn could not complete normally.
type FailureKind string

const (
	// FailureProviderUnavailable means the completion provider stayed down
	// through all retries.
	FailureProviderUnavailable FailureKind = "provider_unavailable"

	// FailureToolUnavailable means the tool registry could not be reached
	// mid turn.
	FailureToolUnavailable FailureKind = "tool_unavailable"

	// FailureProtocolViolation means the model requested a tool that is not
	// in the advertised catalog. Nothing from the turn is persisted.
	FailureProtocolViolation FailureKind = "protocol_violation"

	// FailureRoundsExhausted means the round bound was hit before the model
	// produced a final answer.
	FailureRoundsExhausted FailureKind = "rounds_exhausted"
)

// Failure describes a degraded turn outcome. The user still gets a response;
// Failure tells the caller why it is not a real answer.
type Failure struct {
	Kind    FailureKind
	Message string
}

// User-facing degraded responses.
const (
	// fallbackMessage is returned when the round bound is exhausted.
	fallbackMessage = "I was unable to complete this request after several attempts."

	providerDownMessage = "I'm having trouble reaching the language model right now. Please try again in a moment."

	toolsDownMessage = "I'm having trouble reaching my tools right now. Please try again in a moment."

	protocolViolationMessage = "Something went wrong while processing this request. Please try again."
)
