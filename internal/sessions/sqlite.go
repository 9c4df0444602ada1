package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteService implements Service on a local sqlite database.
type SQLiteService struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name TEXT NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id)
);
CREATE TABLE IF NOT EXISTS session_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	app_name TEXT NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session
	ON session_events(app_name, user_id, session_id, seq);
`

// NewSQLiteService opens (creating if needed) a session database at path.
func NewSQLiteService(path string) (*SQLiteService, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sessions: database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteService{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteService) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT app_name, user_id, session_id, state, created_at, updated_at
		FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID)
	return scanSession(row)
}

func (s *SQLiteService) CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.State == nil {
		sess.State = make(map[string]any)
	}

	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (app_name, user_id, session_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		appName, userID, sessionID, string(stateJSON), formatTime(now), formatTime(now),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteService) GetOrCreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error) {
	sess, err := s.GetSession(ctx, appName, userID, sessionID)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	sess, err = s.CreateSession(ctx, appName, userID, sessionID, state)
	if err == ErrAlreadyExists {
		// Lost the creation race; reuse the winner's row.
		return s.GetSession(ctx, appName, userID, sessionID)
	}
	return sess, err
}

func (s *SQLiteService) UpdateState(ctx context.Context, session *Session) error {
	if session == nil {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now().UTC()

	stateJSON, err := json.Marshal(session.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, updated_at = ?
		WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		string(stateJSON), formatTime(session.UpdatedAt),
		session.AppName, session.UserID, session.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteService) AppendEvent(ctx context.Context, event *Event) error {
	if event == nil || event.SessionID == "" {
		return ErrNotFound
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(payloadOrEmpty(event.Payload))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (id, app_name, user_id, session_id, author, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AppName, event.UserID, event.SessionID,
		event.Author, string(event.Kind), string(payload), formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		event.Seq = seq
	}
	return nil
}

func (s *SQLiteService) ListEvents(ctx context.Context, appName, userID, sessionID string, limit int) ([]*Event, error) {
	query := `
		SELECT seq, id, app_name, user_id, session_id, author, kind, payload, created_at
		FROM session_events
		WHERE app_name = ? AND user_id = ? AND session_id = ?
		ORDER BY seq ASC`
	args := []any{appName, userID, sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var payload, createdAt string
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.AppName, &ev.UserID, &ev.SessionID,
			&ev.Author, (*string)(&ev.Kind), &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	return events, nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var state, createdAt, updatedAt string
	if err := row.Scan(&sess.AppName, &sess.UserID, &sess.SessionID, &state, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if state != "" {
		if err := json.Unmarshal([]byte(state), &sess.State); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
	}
	if sess.State == nil {
		sess.State = make(map[string]any)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func payloadOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
