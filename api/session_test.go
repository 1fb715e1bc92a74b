package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/log"
	"github.com/beautibuk/agent/internal/session"
)

// stubSessions serves one known session.
type stubSessions struct {
	sess    *session.Session
	stored  []session.StoredMessage
	deleted []uuid.UUID
}

func (s *stubSessions) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	if s.sess == nil || s.sess.ID != id {
		return nil, session.ErrNotFound
	}
	return s.sess, nil
}

func (s *stubSessions) StoredMessages(_ context.Context, id uuid.UUID) ([]session.StoredMessage, error) {
	return s.stored, nil
}

func (s *stubSessions) Delete(_ context.Context, id uuid.UUID) error {
	if s.sess == nil || s.sess.ID != id {
		return session.ErrNotFound
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func sessionMux(store SessionStore) http.Handler {
	mux := http.NewServeMux()
	NewSessionHandler(store, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestSessionHandler_Get(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	store := &stubSessions{sess: &session.Session{ID: id, MessageCount: 4, CreatedAt: now, UpdatedAt: now}}
	handler := sessionMux(store)

	t.Run("existing session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id.String(), nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var view SessionView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, id.String(), view.ID)
		assert.Equal(t, 4, view.MessageCount)
	})

	t.Run("unknown session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+uuid.NewString(), nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionHandler_Messages(t *testing.T) {
	id := uuid.New()
	store := &stubSessions{
		sess: &session.Session{ID: id, MessageCount: 2},
		stored: []session.StoredMessage{
			{SessionID: id, SequenceNumber: 1, Message: conversation.NewUserMessage("hi")},
			{SessionID: id, SequenceNumber: 2, Message: conversation.NewAssistantMessage("hello")},
		},
	}
	handler := sessionMux(store)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id.String()+"/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string        `json:"session_id"`
		Messages  []MessageView `json:"messages"`
		Total     int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp.SessionID)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, 1, resp.Messages[0].SequenceNumber)
	assert.Equal(t, conversation.RoleUser, resp.Messages[0].Message.Role)
	assert.Equal(t, "hello", resp.Messages[1].Message.Content)
}

func TestSessionHandler_MessagesUnknownSession(t *testing.T) {
	handler := sessionMux(&stubSessions{})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+uuid.NewString()+"/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_Delete(t *testing.T) {
	id := uuid.New()
	store := &stubSessions{sess: &session.Session{ID: id}}
	handler := sessionMux(store)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id.String(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, store.deleted, 1)
	assert.Equal(t, id, store.deleted[0])
}

func TestSessionHandler_DeleteUnknownSession(t *testing.T) {
	handler := sessionMux(&stubSessions{})

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandler_NilStore(t *testing.T) {
	handler := sessionMux(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
