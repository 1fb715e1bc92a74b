package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/beautibuk/agent/internal/agent"
	"github.com/beautibuk/agent/internal/log"
)

// MaxMessageLength bounds the chat request body.
const MaxMessageLength = 10000

// ChatRunner is the slice of the orchestrator the chat endpoint needs.
type ChatRunner interface {
	HandleTurn(ctx context.Context, sessionID uuid.UUID, message string) (*agent.Result, error)
}

// ChatHandler handles POST /api/chat.
type ChatHandler struct {
	runner ChatRunner
	logger log.Logger
}

// NewChatHandler creates a chat handler backed by the given runner.
func NewChatHandler(runner ChatRunner, logger log.Logger) *ChatHandler {
	return &ChatHandler{runner: runner, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux. With no runner the
// route stays unregistered and the mux answers 404.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.runner == nil {
		if h.logger != nil {
			h.logger.Warn("chat runner is nil, chat endpoint not registered")
		}
		return
	}
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// ChatRequest is the request body for POST /api/chat. SessionID is optional;
// leaving it empty starts a new session.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatFailure reports a degraded turn to the client.
type ChatFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// ChatResponse is the response body for POST /api/chat. Failure is set when
// the turn degraded; the response text is still usable.
type ChatResponse struct {
	Response  string       `json:"response"`
	SessionID string       `json:"session_id"`
	Rounds    int          `json:"rounds"`
	Failure   *ChatFailure `json:"failure,omitempty"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if len(req.Message) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "message too long")
		return
	}

	sessionID := uuid.Nil
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "session_id is not a valid UUID")
			return
		}
		sessionID = id
	}

	result, err := h.runner.HandleTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		h.logger.Error("turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process message")
		return
	}

	resp := ChatResponse{
		Response:  result.Response,
		SessionID: result.SessionID.String(),
		Rounds:    result.Rounds,
	}
	if result.Failure != nil {
		resp.Failure = &ChatFailure{
			Kind:    string(result.Failure.Kind),
			Message: result.Failure.Message,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
