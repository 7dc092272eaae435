// Package session persists conversation sessions and messages in
// PostgreSQL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datachat-io/datachat/internal/log"
)

// Querier is the database surface the store needs. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages session persistence. It is safe for concurrent use.
type Store struct {
	db     Querier
	pool   *pgxpool.Pool // nil in unit tests; disables transactions
	logger log.Logger
}

// New creates a store over the given querier. The pool enables
// transactional writes; tests pass a mock querier and a nil pool.
func New(db Querier, pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, pool: pool, logger: logger}
}

// CreateSession creates a session with an optional title.
func (s *Store) CreateSession(ctx context.Context, title, modelName string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (title, model_name)
		VALUES ($1, $2)
		RETURNING id, title, model_name, message_count, created_at, updated_at`,
		title, modelName,
	).Scan(&sess.ID, &sess.Title, &sess.ModelName, &sess.MessageCount,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(ctx, `
		SELECT id, title, model_name, message_count, created_at, updated_at
		FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.Title, &sess.ModelName, &sess.MessageCount,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions lists sessions ordered by last activity, newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, model_name, message_count, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.ModelName,
			&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionTitle sets the session title.
func (s *Store) UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`,
		id, title)
	if err != nil {
		return fmt.Errorf("update session title %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session title %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// DeleteSession deletes a session; its messages cascade.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrSessionNotFound)
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AddMessages appends messages to a session in order, assigning
// consecutive sequence numbers. With a pool the whole batch runs in one
// transaction under a session row lock, so concurrent writers cannot
// interleave sequence numbers.
func (s *Store) AddMessages(ctx context.Context, sessionID uuid.UUID, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	for i, msg := range messages {
		if !ValidRole(msg.Role) {
			return fmt.Errorf("message %d role %q: %w", i, msg.Role, ErrInvalidRole)
		}
	}

	if s.pool == nil {
		return s.addMessages(ctx, s.db, sessionID, messages, false)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if err := s.addMessages(ctx, tx, sessionID, messages, true); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("added messages", "session_id", sessionID, "count", len(messages))
	return nil
}

func (s *Store) addMessages(ctx context.Context, q Querier, sessionID uuid.UUID, messages []*Message, lock bool) error {
	if lock {
		var locked uuid.UUID
		err := q.QueryRow(ctx,
			`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`,
			sessionID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock session %s: %w", sessionID, ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock session %s: %w", sessionID, err)
		}
	}

	var maxSeq int
	if err := q.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM messages WHERE session_id = $1`,
		sessionID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence number: %w", err)
	}

	for i, msg := range messages {
		images, err := marshalOrNil(msg.Images, len(msg.Images) == 0)
		if err != nil {
			return fmt.Errorf("marshal message %d images: %w", i, err)
		}
		charts, err := marshalOrNil(msg.Charts, len(msg.Charts) == 0)
		if err != nil {
			return fmt.Errorf("marshal message %d charts: %w", i, err)
		}
		toolCalls, err := marshalOrNil(msg.ToolCalls, len(msg.ToolCalls) == 0)
		if err != nil {
			return fmt.Errorf("marshal message %d tool calls: %w", i, err)
		}

		seq := maxSeq + i + 1
		if _, err := q.Exec(ctx, `
			INSERT INTO messages
				(session_id, role, content, images, charts, tool_calls, parts, grounding, sequence_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sessionID, msg.Role, msg.Content,
			images, charts, toolCalls,
			rawOrNil(msg.Parts), rawOrNil(msg.Grounding), seq,
		); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if _, err := q.Exec(ctx, `
		UPDATE sessions
		SET message_count = message_count + $2, updated_at = now()
		WHERE id = $1`,
		sessionID, len(messages)); err != nil {
		return fmt.Errorf("update session metadata: %w", err)
	}
	return nil
}

// GetMessages retrieves messages ordered by sequence number ascending.
func (s *Store) GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, role, content, images, charts, tool_calls,
		       parts, grounding, sequence_number, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY sequence_number ASC
		LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get messages for session %s: %w", sessionID, err)
	}
	return messages, nil
}

func scanMessage(rows pgx.Rows) (*Message, error) {
	msg := &Message{}
	var images, charts, toolCalls, parts, grounding []byte
	if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
		&images, &charts, &toolCalls, &parts, &grounding,
		&msg.SequenceNumber, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if err := unmarshalField(images, &msg.Images); err != nil {
		return nil, fmt.Errorf("unmarshal message %s images: %w", msg.ID, err)
	}
	if err := unmarshalField(charts, &msg.Charts); err != nil {
		return nil, fmt.Errorf("unmarshal message %s charts: %w", msg.ID, err)
	}
	if err := unmarshalField(toolCalls, &msg.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal message %s tool calls: %w", msg.ID, err)
	}
	msg.Parts = json.RawMessage(parts)
	msg.Grounding = json.RawMessage(grounding)
	return msg, nil
}

func marshalOrNil(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func rawOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func unmarshalField(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
