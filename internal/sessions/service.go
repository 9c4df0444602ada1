package sessions

import "context"

// Service is the contract for session persistence.
//
// Thread safety: implementations must be safe for concurrent use. Turn
// serialisation within a session is the runtime's job, not the store's.
type Service interface {
	// GetSession returns the session for the triple, or ErrNotFound.
	GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error)

	// CreateSession creates a session with the given initial state.
	// Returns ErrAlreadyExists when the triple is taken.
	CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error)

	// GetOrCreateSession resolves the session, creating it on first use.
	// Idempotent under concurrent first turns for the same chat.
	GetOrCreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error)

	// UpdateState persists the session's state bag.
	UpdateState(ctx context.Context, session *Session) error

	// AppendEvent appends one event to the session's log. The store
	// assigns Seq and CreatedAt.
	AppendEvent(ctx context.Context, event *Event) error

	// ListEvents returns the session's events in append order. A limit
	// of 0 returns all events.
	ListEvents(ctx context.Context, appName, userID, sessionID string, limit int) ([]*Event, error)

	// Close releases store resources.
	Close() error
}
