package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates the registry could not be reached or the
	// session died mid call.
	ErrUnavailable = errors.New("tool registry unavailable")

	// ErrUnknownTool indicates a call for a tool name that is not in the
	// advertised catalog. The model produced it, so this is a protocol
	// violation rather than a transient failure.
	ErrUnknownTool = errors.New("unknown tool")
)

// ExecutionError reports that a tool ran and failed. Unlike transport
// failures it is recoverable: the orchestrator feeds it back to the model as
// the tool result so the model can adjust.
type ExecutionError struct {
	Tool    string
	Code    string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s: %s", e.Tool, e.Code, e.Message)
}
