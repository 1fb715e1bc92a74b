package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/session"
)

// SessionStore is the slice of the session store the HTTP layer needs.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	StoredMessages(ctx context.Context, id uuid.UUID) ([]session.StoredMessage, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SessionHandler handles session inspection and deletion endpoints.
type SessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionStore, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.messages)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

// sessionID parses the path parameter, writing a 400 on failure.
func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// SessionView is the JSON shape of session metadata.
type SessionView struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// get returns session metadata.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session store not configured")
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, SessionView{
		ID:           sess.ID.String(),
		MessageCount: sess.MessageCount,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	})
}

// MessageView is one history entry in the messages response.
type MessageView struct {
	SequenceNumber int                  `json:"sequence_number"`
	Message        conversation.Message `json:"message"`
}

// messages returns the persisted history of a session, oldest first.
func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session store not configured")
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load session")
		return
	}

	stored, err := h.store.StoredMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load messages", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load messages")
		return
	}

	views := make([]MessageView, len(stored))
	for i, m := range stored {
		views[i] = MessageView{SequenceNumber: m.SequenceNumber, Message: m.Message}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"messages":   views,
		"total":      len(views),
	})
}

// delete removes a session and its history.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "session store not configured")
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("failed to delete session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
