// Package summarize produces conversation and document digests through
// the summarizer agent. The HTTP API and the Telegram forward pool both
// flush into it.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/knowledge"
)

const (
	// NoMessages is returned verbatim when the chat has nothing new.
	NoMessages = "No new messages to summarize."

	// NoDocuments is returned verbatim when no documents match.
	NoDocuments = "No documents found to summarize."

	defaultLimit = 20
)

// ErrNoIndex is returned by Documents when no knowledge index is wired.
var ErrNoIndex = errors.New("summarize: knowledge index is not configured")

// Config wires a summarize Service.
type Config struct {
	Store  canvas.Store
	Runner *agent.Runner

	// Agent is the summarizer the prompts are routed to.
	Agent *agent.Agent

	// Index backs the documents scope; optional.
	Index *knowledge.Index
}

// Service renders chat history or documents into a prompt and runs the
// summarizer over it.
type Service struct {
	store  canvas.Store
	runner *agent.Runner
	agent  *agent.Agent
	index  *knowledge.Index
}

// NewService creates a summarize service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("summarize: store is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("summarize: runner is required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("summarize: agent is required")
	}
	return &Service{
		store:  cfg.Store,
		runner: cfg.Runner,
		agent:  cfg.Agent,
		index:  cfg.Index,
	}, nil
}

// Messages summarizes the newest limit chat elements, optionally bounded
// by since. It returns NoMessages when the window is empty.
func (s *Service) Messages(ctx context.Context, chatID string, limit int, since *time.Time) (string, error) {
	if chatID == "" {
		return "", errors.New("summarize: chat id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	cv, err := s.store.GetOrCreateCanvasForChat(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("summarize: resolving canvas: %w", err)
	}
	elements, err := s.store.GetElements(ctx, canvas.ElementQuery{
		CanvasID: cv.ID,
		Limit:    limit,
		Since:    since,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: fetching elements: %w", err)
	}
	if len(elements) == 0 {
		return NoMessages, nil
	}
	sort.Slice(elements, func(i, j int) bool {
		return elements[i].CreatedAt.Before(elements[j].CreatedAt)
	})

	var b strings.Builder
	b.WriteString("Summarize the following conversation:\n\n")
	for _, el := range elements {
		author, _ := el.Attributes["author_name"].(string)
		if author == "" {
			author = el.CreatedBy
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", el.CreatedAt.Format("2006-01-02 15:04"), author, el.Content)
	}

	return s.runner.Run(ctx, s.agent, agent.TurnRequest{
		UserID: "summarizer",
		ChatID: chatID,
		Text:   b.String(),
	})
}

// Documents summarizes the chat's knowledge documents, optionally
// filtered by tags. It returns NoDocuments when nothing matches.
func (s *Service) Documents(ctx context.Context, chatID string, tags []string, limit int) (string, error) {
	if chatID == "" {
		return "", errors.New("summarize: chat id is required")
	}
	if s.index == nil {
		return "", ErrNoIndex
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	docs, err := s.index.Documents(ctx, chatID, tags, limit)
	if err != nil {
		return "", fmt.Errorf("summarize: fetching documents: %w", err)
	}
	if len(docs) == 0 {
		return NoDocuments, nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	return s.runner.Run(ctx, s.agent, agent.TurnRequest{
		UserID: "summarizer",
		ChatID: chatID,
		Text:   "Summarize the following documents:\n\n" + strings.Join(texts, "\n\n---\n\n"),
	})
}
