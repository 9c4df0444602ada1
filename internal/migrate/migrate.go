// Package migrate imports a legacy flat message archive into the canvas
// store. It is a one-shot bootstrap: rows already present (matched by
// source message id) are skipped, so reruns are safe.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/observability"
)

// Report summarizes a migration run.
type Report struct {
	Migrated int
	Skipped  int
}

// legacyMessage is a row of the old flat messages table.
type legacyMessage struct {
	chatID     string
	messageID  string
	authorID   string
	authorName string
	text       string
	createdAt  string
}

// Run copies every legacy message into its chat's canvas. The legacy
// database is opened read-only and never modified.
func Run(ctx context.Context, legacyPath string, store canvas.Store, logger *observability.Logger) (*Report, error) {
	if legacyPath == "" {
		return nil, errors.New("migrate: legacy database path is required")
	}
	if store == nil {
		return nil, errors.New("migrate: canvas store is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Level: "info"})
	}

	db, err := sql.Open("sqlite", "file:"+legacyPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("migrate: opening legacy database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT chat_id, message_id, COALESCE(author_id, ''), COALESCE(author_name, ''),
		       COALESCE(text, ''), COALESCE(created_at, '')
		FROM messages
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("migrate: reading legacy messages: %w", err)
	}
	defer rows.Close()

	report := &Report{}
	seen := make(map[string]map[string]bool)

	for rows.Next() {
		var m legacyMessage
		if err := rows.Scan(&m.chatID, &m.messageID, &m.authorID, &m.authorName, &m.text, &m.createdAt); err != nil {
			return nil, fmt.Errorf("migrate: scanning row: %w", err)
		}
		if m.text == "" {
			report.Skipped++
			continue
		}

		cv, err := store.GetOrCreateCanvasForChat(ctx, m.chatID)
		if err != nil {
			return nil, fmt.Errorf("migrate: resolving canvas for chat %s: %w", m.chatID, err)
		}
		if seen[cv.ID] == nil {
			existing, err := existingMessageIDs(ctx, store, cv.ID)
			if err != nil {
				return nil, err
			}
			seen[cv.ID] = existing
		}
		if m.messageID != "" && seen[cv.ID][m.messageID] {
			report.Skipped++
			continue
		}

		attrs := map[string]any{"migrated": 1}
		if m.messageID != "" {
			attrs["source_msg_id"] = m.messageID
		}
		if m.authorName != "" {
			attrs["author_name"] = m.authorName
		}
		if m.createdAt != "" {
			attrs["original_date"] = m.createdAt
		}

		createdBy := "telegram:user:" + m.authorID
		if m.authorID == "" {
			createdBy = "telegram:user:unknown"
		}
		if _, err := store.AddElement(ctx, canvas.AddElementRequest{
			CanvasID:   cv.ID,
			Type:       "message",
			Content:    m.text,
			CreatedBy:  createdBy,
			Attributes: attrs,
		}); err != nil {
			return nil, fmt.Errorf("migrate: adding element for message %s: %w", m.messageID, err)
		}
		if m.messageID != "" {
			seen[cv.ID][m.messageID] = true
		}
		report.Migrated++

		if report.Migrated%500 == 0 {
			logger.Info(ctx, "migration progress", "migrated", report.Migrated, "skipped", report.Skipped)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("migrate: iterating legacy messages: %w", err)
	}

	logger.Info(ctx, "migration finished",
		"migrated", report.Migrated,
		"skipped", report.Skipped,
		"chats", len(seen))
	return report, nil
}

// existingMessageIDs collects the source message ids already present on
// a canvas so reruns do not duplicate rows.
func existingMessageIDs(ctx context.Context, store canvas.Store, canvasID string) (map[string]bool, error) {
	els, err := store.GetElements(ctx, canvas.ElementQuery{CanvasID: canvasID})
	if err != nil {
		return nil, fmt.Errorf("migrate: listing existing elements: %w", err)
	}
	ids := make(map[string]bool, len(els))
	for _, el := range els {
		if el.Attributes == nil {
			continue
		}
		if id, ok := el.Attributes["source_msg_id"].(string); ok && id != "" {
			ids[id] = true
		}
	}
	return ids, nil
}
