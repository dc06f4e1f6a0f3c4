package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/svapna/pkg/database"
)

// Store executes the module's queries against a connected database client.
type Store struct {
	db *sqlx.DB
}

// New wraps client.
func New(client *database.Client) *Store {
	return &Store{db: client.DB}
}

// jsonArg coerces raw JSON for a ::jsonb parameter, defaulting empty input
// to fallback so NOT NULL jsonb columns never see a Go nil.
func jsonArg(raw []byte, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

// InsertSession writes s. Zero timestamps default to now.
func (s *Store) InsertSession(ctx context.Context, sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project, total_tokens, total_cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.Project, sess.TotalTokens, sess.TotalCost, sess.CreatedAt, sess.UpdatedAt)
	return err
}

// InsertTurn writes t and bumps the owning session's updated_at, in one
// transaction so a session can never be newer than its latest turn.
func (s *Store) InsertTurn(ctx context.Context, t *Turn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, content, tool_calls_json, tool_errored, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
		t.ID, t.SessionID, t.Seq, t.Role, t.Content,
		jsonArg(t.ToolCallsJSON, "[]"), t.ToolErrored, t.CreatedAt)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		t.SessionID, t.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RecentSessions returns up to limit sessions for project, most recently
// updated first.
func (s *Store) RecentSessions(ctx context.Context, project string, limit int) ([]Session, error) {
	var out []Session
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM sessions WHERE project = $1 ORDER BY updated_at DESC LIMIT $2`,
		project, limit)
	return out, err
}

// Turns returns sessionID's turns in creation order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	var out []Turn
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM turns WHERE session_id = $1 ORDER BY seq ASC, created_at ASC`,
		sessionID)
	return out, err
}

// TurnsForSessions returns every turn of the given sessions, grouped by
// session id, each group in creation order.
func (s *Store) TurnsForSessions(ctx context.Context, sessionIDs []string) (map[string][]Turn, error) {
	if len(sessionIDs) == 0 {
		return map[string][]Turn{}, nil
	}
	query, args, err := sqlx.In(
		`SELECT * FROM turns WHERE session_id IN (?) ORDER BY session_id, seq ASC, created_at ASC`,
		sessionIDs)
	if err != nil {
		return nil, err
	}
	var rows []Turn
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make(map[string][]Turn, len(sessionIDs))
	for _, t := range rows {
		out[t.SessionID] = append(out[t.SessionID], t)
	}
	return out, nil
}

// SessionsInWindow returns project's sessions created in [from, to).
func (s *Store) SessionsInWindow(ctx context.Context, project string, from, to time.Time) ([]Session, error) {
	var out []Session
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM sessions
		 WHERE project = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at ASC`,
		project, from, to)
	return out, err
}

// TurnsInWindow returns every turn belonging to project sessions created in
// [from, to), by turn creation time.
func (s *Store) TurnsInWindow(ctx context.Context, project string, from, to time.Time) ([]Turn, error) {
	var out []Turn
	err := s.db.SelectContext(ctx, &out,
		`SELECT t.* FROM turns t
		 JOIN sessions se ON se.id = t.session_id
		 WHERE se.project = $1 AND t.created_at >= $2 AND t.created_at < $3
		 ORDER BY t.created_at ASC`,
		project, from, to)
	return out, err
}
