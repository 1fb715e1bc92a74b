package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beautibuk/agent/internal/conversation"
	"github.com/beautibuk/agent/internal/log"
)

// Store manages session persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, logger: logger}, nil
}

// LoadOrCreate returns the session with the given ID, creating it if absent.
// Creation is idempotent: concurrent calls with the same ID all succeed and
// observe the same row.
func (s *Store) LoadOrCreate(ctx context.Context, id uuid.UUID) (*Session, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("session id is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session %s: %w", id, err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a session by ID. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, message_count, created_at, updated_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &sess, nil
}

// AppendMessages atomically appends messages to a session in order.
//
// The session row is locked for the duration of the transaction, so
// concurrent appends to the same session serialize and sequence numbers stay
// dense. Either all messages land or none do.
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs []conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the session row so concurrent appends cannot race on sequence
	// numbers.
	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking session %s: %w", sessionID, err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM session_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence number: %w", err)
	}

	for i, msg := range msgs {
		content, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshaling message %d: %w", i, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO session_messages (session_id, role, content, sequence_number)
			 VALUES ($1, $2, $3, $4)`,
			sessionID, string(msg.Role), content, maxSeq+i+1,
		)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE sessions SET message_count = $1, updated_at = now() WHERE id = $2`,
		maxSeq+len(msgs), sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(msgs))
	return nil
}

// Messages returns a session's messages ordered by sequence number ascending.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID) ([]conversation.Message, error) {
	stored, err := s.StoredMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs := make([]conversation.Message, len(stored))
	for i, sm := range stored {
		msgs[i] = sm.Message
	}
	return msgs, nil
}

// StoredMessages returns messages with their persistence metadata.
func (s *Store) StoredMessages(ctx context.Context, sessionID uuid.UUID) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, content, sequence_number, created_at
		 FROM session_messages
		 WHERE session_id = $1
		 ORDER BY sequence_number ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var (
			sm      StoredMessage
			content []byte
		)
		if err := rows.Scan(&sm.ID, &sm.SessionID, &content, &sm.SequenceNumber, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal(content, &sm.Message); err != nil {
			return nil, fmt.Errorf("unmarshaling message %s: %w", sm.ID, err)
		}
		msgs = append(msgs, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// Delete removes a session and its messages (CASCADE).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
