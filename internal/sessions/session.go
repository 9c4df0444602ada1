// Package sessions persists conversational sessions and their append-only
// event logs. A session is identified by (app_name, user_id, session_id);
// the session id equals the originating chat id so a chat has exactly one
// conversational context per agent app.
package sessions

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("sessions: not found")

	// ErrAlreadyExists is returned by CreateSession when the triple is
	// already taken. Callers treat it as "reuse the existing row".
	ErrAlreadyExists = errors.New("sessions: already exists")
)

// StateChatID is the one state key every session must carry. Tools derive
// their tenant from it instead of trusting model-provided arguments.
const StateChatID = "chat_id"

// Session is a persistent conversational context. State is a free-form
// key/value bag; tools add keys freely.
type Session struct {
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ChatID returns the chat id from session state, or "" when absent.
func (s *Session) ChatID() string {
	if s == nil || s.State == nil {
		return ""
	}
	if v, ok := s.State[StateChatID].(string); ok {
		return v
	}
	return ""
}

// EventKind classifies entries in the session event log.
type EventKind string

const (
	EventUserContent   EventKind = "user_content"
	EventModelContent  EventKind = "model_content"
	EventToolCall      EventKind = "tool_call"
	EventToolResult    EventKind = "tool_result"
	EventFinalResponse EventKind = "final_response"
	EventCancelled     EventKind = "cancelled"
)

// Event is one entry in a session's append-only log. Seq is assigned by
// the store and totally orders events within a session.
type Event struct {
	ID        string         `json:"id"`
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Author    string         `json:"author"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Seq       int64          `json:"seq"`
	CreatedAt time.Time      `json:"created_at"`
}
