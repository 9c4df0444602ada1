package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/ingest"
	"github.com/haasonsaas/loom/internal/summarize"
)

const (
	maxUploadBytes       = 32 << 20
	defaultSummaryLimit  = 20
	defaultSourceName    = "api"
	summaryScopeMessages = "messages"
	summaryScopeDocs     = "documents"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestMetadata is the required metadata form field of POST /ingest.
type ingestMetadata struct {
	Source     string `json:"source"`
	ChatID     any    `json:"chat_id"`
	MessageID  any    `json:"message_id"`
	AuthorID   any    `json:"author_id"`
	AuthorName string `json:"author_name"`
	AuthorNick string `json:"author_nick"`
	IsForward  bool   `json:"is_forward"`
}

func (m ingestMetadata) message() ingest.Message {
	source := m.Source
	if source == "" {
		source = "unknown"
	}
	return ingest.Message{
		ChatID:    idString(m.ChatID),
		Source:    source,
		MessageID: idString(m.MessageID),
		Author: ingest.Author{
			ID:   idString(m.AuthorID),
			Name: m.AuthorName,
			Nick: m.AuthorNick,
		},
		IsForward: m.IsForward,
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	rawMeta := r.FormValue("metadata")
	if rawMeta == "" {
		writeError(w, http.StatusBadRequest, "metadata field is required")
		return
	}
	var meta ingestMetadata
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in metadata")
		return
	}
	msg := meta.message()
	text := r.FormValue("text")

	var (
		res *ingest.Result
		err error
	)
	file, header, fileErr := r.FormFile("file")
	switch {
	case fileErr == nil:
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "reading upload failed")
			return
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
		}
		switch {
		case strings.HasPrefix(contentType, "audio/"):
			res, err = s.ingest.Voice(r.Context(), ingest.VoiceMessage{
				Message: msg, Data: data, Filename: header.Filename,
			})
		case strings.HasPrefix(contentType, "image/"):
			res, err = s.ingest.Image(r.Context(), ingest.ImageMessage{
				Message: msg, Data: data, Filename: header.Filename,
			})
		default:
			res, err = s.ingest.Document(r.Context(), ingest.DocumentMessage{
				Message: msg, Data: data, Filename: header.Filename, Text: text,
			})
		}
	case text != "":
		res, err = s.ingest.Text(r.Context(), ingest.TextMessage{Message: msg, Text: text})
	default:
		writeError(w, http.StatusBadRequest, "no file or text provided")
		return
	}

	if err != nil {
		if errors.Is(err, ingest.ErrEmptyPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(r.Context(), "ingest failed", "chat_id", msg.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"id":     res.Element.ID,
		"text":   res.Text,
	})
}

type summarizeRequest struct {
	ChatID        any      `json:"chat_id"`
	Limit         int      `json:"limit"`
	Scope         string   `json:"scope"`
	Tags          []string `json:"tags"`
	SinceDatetime string   `json:"since_datetime"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chatID := idString(req.ChatID)
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSummaryLimit
	}

	var (
		summary string
		err     error
	)
	switch req.Scope {
	case "", summaryScopeMessages:
		var since *time.Time
		if req.SinceDatetime != "" {
			parsed, parseErr := parseSince(req.SinceDatetime)
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since_datetime: %v", parseErr))
				return
			}
			since = &parsed
		}
		summary, err = s.summarize.Messages(r.Context(), chatID, limit, since)
	case summaryScopeDocs:
		summary, err = s.summarize.Documents(r.Context(), chatID, req.Tags, limit)
	default:
		writeError(w, http.StatusBadRequest, "scope must be messages or documents")
		return
	}
	if err != nil {
		if errors.Is(err, summarize.ErrNoIndex) {
			writeError(w, http.StatusServiceUnavailable, "knowledge base is not configured")
			return
		}
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type askRequest struct {
	Query   string              `json:"query"`
	ChatID  any                 `json:"chat_id"`
	History []map[string]string `json:"history"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if s.qa == nil || s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is not configured")
		return
	}
	chatID := idString(req.ChatID)
	if chatID == "" {
		chatID = defaultSourceName
	}

	results, err := s.index.Search(r.Context(), chatID, req.Query, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sources := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		source := res.Source
		if source == "" {
			source = "unknown"
		}
		if !seen[source] {
			seen[source] = true
			sources = append(sources, source)
		}
	}

	answer, err := s.runner.Run(r.Context(), s.qa, agent.TurnRequest{
		UserID: defaultSourceName,
		ChatID: chatID,
		Text:   askPrompt(req.Query, req.History),
	})
	if err != nil && !errors.Is(err, agent.ErrNoResponse) {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":  answer,
		"sources": sources,
	})
}

func askPrompt(query string, history []map[string]string) string {
	if len(history) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, turn := range history {
		role := turn["role"]
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, turn["content"])
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

type chatMessageRequest struct {
	ChatID           any    `json:"chat_id"`
	UserID           any    `json:"user_id"`
	UserName         string `json:"user_name"`
	UserNick         string `json:"user_nick"`
	Text             string `json:"text"`
	MessageID        any    `json:"message_id"`
	ReplyToMessageID any    `json:"reply_to_message_id"`
	SkipSave         bool   `json:"skip_save"`
	Source           string `json:"source"`
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chatID := idString(req.ChatID)
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	source := req.Source
	if source == "" {
		source = defaultSourceName
	}

	if !req.SkipSave {
		if _, err := s.ingest.Text(r.Context(), ingest.TextMessage{
			Message: ingest.Message{
				ChatID:    chatID,
				Source:    source,
				MessageID: idString(req.MessageID),
				Author: ingest.Author{
					ID:   idString(req.UserID),
					Name: req.UserName,
					Nick: req.UserNick,
				},
			},
			Text: req.Text,
		}); err != nil {
			s.logger.Error(r.Context(), "chat message save failed", "chat_id", chatID, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	reply, err := s.runner.Run(r.Context(), s.root, agent.TurnRequest{
		UserID: idString(req.UserID),
		ChatID: chatID,
		Text:   req.Text,
	})
	if err != nil {
		if errors.Is(err, agent.ErrNoResponse) {
			writeJSON(w, http.StatusOK, map[string]any{"reply": nil})
			return
		}
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// idString renders chat and user identifiers that clients send either as
// JSON numbers or strings.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}

// parseSince accepts the ISO shapes clients actually send.
func parseSince(value string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", value)
}
