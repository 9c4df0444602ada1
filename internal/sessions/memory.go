package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryService implements Service in memory. Used in tests and as a
// fallback when no database path is configured.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   map[string][]*Event
	nextSeq  map[string]int64
}

// NewMemoryService creates an empty in-memory session service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		sessions: make(map[string]*Session),
		events:   make(map[string][]*Event),
		nextSeq:  make(map[string]int64),
	}
}

func (s *MemoryService) Close() error { return nil }

func tripleKey(appName, userID, sessionID string) string {
	return appName + "\x00" + userID + "\x00" + sessionID
}

func (s *MemoryService) GetSession(_ context.Context, appName, userID, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[tripleKey(appName, userID, sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

func (s *MemoryService) CreateSession(_ context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey(appName, userID, sessionID)
	if _, ok := s.sessions[key]; ok {
		return nil, ErrAlreadyExists
	}

	now := time.Now().UTC()
	sess := &Session{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     copyState(state),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.State == nil {
		sess.State = make(map[string]any)
	}
	s.sessions[key] = sess
	return copySession(sess), nil
}

func (s *MemoryService) GetOrCreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error) {
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

func (s *MemoryService) UpdateState(_ context.Context, session *Session) error {
	if session == nil {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[tripleKey(session.AppName, session.UserID, session.SessionID)]
	if !ok {
		return ErrNotFound
	}
	stored.State = copyState(session.State)
	stored.UpdatedAt = time.Now().UTC()
	session.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryService) AppendEvent(_ context.Context, event *Event) error {
	if event == nil || event.SessionID == "" {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	key := tripleKey(event.AppName, event.UserID, event.SessionID)
	s.nextSeq[key]++
	event.Seq = s.nextSeq[key]

	stored := *event
	stored.Payload = copyState(event.Payload)
	s.events[key] = append(s.events[key], &stored)
	return nil
}

func (s *MemoryService) ListEvents(_ context.Context, appName, userID, sessionID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[tripleKey(appName, userID, sessionID)]
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}

	out := make([]*Event, 0, len(stored))
	for _, ev := range stored {
		copied := *ev
		copied.Payload = copyState(ev.Payload)
		out = append(out, &copied)
	}
	return out, nil
}

func copySession(sess *Session) *Session {
	out := *sess
	out.State = copyState(sess.State)
	return &out
}

func copyState(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
