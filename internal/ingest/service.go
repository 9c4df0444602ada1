// Package ingest normalises inbound chat payloads (text, voice, images,
// documents) into canvas elements: voice is transcribed, images are
// described and filed under sharded paths, documents are archived and
// chunked, and everything lands in the chat's knowledge index for later
// retrieval.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/knowledge"
	"github.com/haasonsaas/loom/internal/observability"
)

// TranscribePrompt instructs the model for voice notes.
const TranscribePrompt = "Transcribe this audio. It may be in Ukrainian, Russian, or English. Output only the transcription."

// ImageDescriptionPrompt asks for a structured description whose last
// item carries the slug used in the stored filename.
const ImageDescriptionPrompt = `Describe this image. Answer with:
1) A one-sentence summary.
2) The key objects and any visible text.
3) The overall scene or context.
4) Any notable details.
5) Slug: a short machine-readable slug of one to three latin words joined by underscores.`

var (
	// ErrEmptyPayload is returned when a message carries nothing to ingest.
	ErrEmptyPayload = errors.New("ingest: empty payload")

	// ErrEmptyTranscription marks a voice note the model could not transcribe.
	ErrEmptyTranscription = errors.New("ingest: transcription came back empty")
)

// MediaModel generates text from a media blob plus a prompt. Satisfied by
// the Google provider.
type MediaModel interface {
	GenerateFromMedia(ctx context.Context, model string, data []byte, mimeType, prompt string) (string, error)
}

// Author identifies the original author of a message. For forwards the
// channel adapter resolves the forward origin before calling in here.
type Author struct {
	ID   string
	Name string
	Nick string
}

// Message carries the source coordinates shared by all payload kinds.
type Message struct {
	ChatID    string
	Source    string
	MessageID string
	Author    Author
	IsForward bool
}

// TextMessage is a plain text payload.
type TextMessage struct {
	Message
	Text string
}

// VoiceMessage is an audio payload to transcribe.
type VoiceMessage struct {
	Message
	Data     []byte
	Filename string
}

// ImageMessage is an image payload to describe and archive.
type ImageMessage struct {
	Message
	Data     []byte
	Filename string
}

// DocumentMessage is a document payload to archive and index. Text is the
// extracted text when the caller already has it; for plain text files it
// is read from Data.
type DocumentMessage struct {
	Message
	Data     []byte
	Filename string
	Text     string
}

// Result is the outcome of one ingestion.
type Result struct {
	Element *canvas.Element

	// Text is the element content: the raw text, the transcription, or
	// the image description.
	Text string

	// Duplicate is set when the source message was already ingested and
	// the existing element is returned instead of a new one.
	Duplicate bool
}

// Config wires an ingestion Service.
type Config struct {
	Store canvas.Store

	// Index receives every ingested text for retrieval; optional.
	Index *knowledge.Index

	// Media is required for voice and image payloads.
	Media MediaModel

	// Model is the handle used for transcription and vision calls.
	Model string

	// ImagesDir, MediaDir and DocsDir root the archived files.
	// Defaults: "data/images", "data/media" and "data/docs".
	ImagesDir string
	MediaDir  string
	DocsDir   string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Service is the ingestion pipeline.
type Service struct {
	store     canvas.Store
	index     *knowledge.Index
	media     MediaModel
	model     string
	imagesDir string
	mediaDir  string
	docsDir   string
	logger    *observability.Logger
	metrics   *observability.Metrics

	now   func() time.Time
	newID func() string
}

// dedupeScanLimit bounds how far back the duplicate check looks.
const dedupeScanLimit = 200

// NewService creates an ingestion service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if cfg.ImagesDir == "" {
		cfg.ImagesDir = filepath.Join("data", "images")
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = filepath.Join("data", "media")
	}
	if cfg.DocsDir == "" {
		cfg.DocsDir = filepath.Join("data", "docs")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{Level: "info"})
	}
	return &Service{
		store:     cfg.Store,
		index:     cfg.Index,
		media:     cfg.Media,
		model:     cfg.Model,
		imagesDir: cfg.ImagesDir,
		mediaDir:  cfg.MediaDir,
		docsDir:   cfg.DocsDir,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Text ingests a plain text message.
func (s *Service) Text(ctx context.Context, msg TextMessage) (*Result, error) {
	start := s.now()
	if msg.Text == "" {
		return nil, ErrEmptyPayload
	}

	cv, existing, err := s.resolve(ctx, msg.Message)
	if err != nil {
		s.record("text", "error", start)
		return nil, err
	}
	if existing != nil {
		s.record("text", "duplicate", start)
		return &Result{Element: existing, Text: existing.Content, Duplicate: true}, nil
	}

	el, err := s.store.AddElement(ctx, canvas.AddElementRequest{
		CanvasID:   cv.ID,
		Type:       "message",
		Content:    msg.Text,
		CreatedBy:  createdBy(msg.Message),
		Attributes: s.attributes(msg.Message, nil),
	})
	if err != nil {
		s.record("text", "error", start)
		return nil, fmt.Errorf("ingest: saving text element: %w", err)
	}

	s.indexText(ctx, msg.Message, msg.Text)
	s.logger.Info(ctx, "text ingested", "chat_id", msg.ChatID, "element_id", el.ID)
	s.record("text", "success", start)
	return &Result{Element: el, Text: msg.Text}, nil
}

// Voice stores the audio file, transcribes it and ingests the transcript.
func (s *Service) Voice(ctx context.Context, msg VoiceMessage) (*Result, error) {
	start := s.now()
	if len(msg.Data) == 0 {
		return nil, ErrEmptyPayload
	}
	if s.media == nil {
		return nil, errors.New("ingest: no media model configured")
	}

	cv, existing, err := s.resolve(ctx, msg.Message)
	if err != nil {
		s.record("voice", "error", start)
		return nil, err
	}
	if existing != nil {
		s.record("voice", "duplicate", start)
		return &Result{Element: existing, Text: existing.Content, Duplicate: true}, nil
	}

	path := voicePath(s.mediaDir, msg.Filename, s.newID()[:8], s.now())
	if err := writeFile(path, msg.Data); err != nil {
		s.record("voice", "error", start)
		return nil, fmt.Errorf("ingest: storing voice file: %w", err)
	}

	mime := audioMIME(filepath.Ext(path))
	transcript, err := s.media.GenerateFromMedia(ctx, s.model, msg.Data, mime, TranscribePrompt)
	if err != nil {
		s.record("voice", "error", start)
		return nil, fmt.Errorf("ingest: transcription: %w", err)
	}
	if transcript == "" {
		s.record("voice", "error", start)
		return nil, ErrEmptyTranscription
	}

	el, err := s.store.AddElement(ctx, canvas.AddElementRequest{
		CanvasID:  cv.ID,
		Type:      "voice",
		Content:   transcript,
		CreatedBy: createdBy(msg.Message),
		Attributes: s.attributes(msg.Message, map[string]any{
			"file_path": path,
			"mime_type": mime,
		}),
	})
	if err != nil {
		s.record("voice", "error", start)
		return nil, fmt.Errorf("ingest: saving voice element: %w", err)
	}

	s.indexText(ctx, msg.Message, transcript)
	s.logger.Info(ctx, "voice ingested", "chat_id", msg.ChatID, "element_id", el.ID, "file_path", path)
	s.record("voice", "success", start)
	return &Result{Element: el, Text: transcript}, nil
}

// Image describes the picture, archives it under a sharded path derived
// from the element id, and ingests the description.
func (s *Service) Image(ctx context.Context, msg ImageMessage) (*Result, error) {
	start := s.now()
	if len(msg.Data) == 0 {
		return nil, ErrEmptyPayload
	}
	if s.media == nil {
		return nil, errors.New("ingest: no media model configured")
	}

	cv, existing, err := s.resolve(ctx, msg.Message)
	if err != nil {
		s.record("image", "error", start)
		return nil, err
	}
	if existing != nil {
		s.record("image", "duplicate", start)
		return &Result{Element: existing, Text: existing.Content, Duplicate: true}, nil
	}

	ext := filepath.Ext(msg.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	description, err := s.media.GenerateFromMedia(ctx, s.model, msg.Data, imageMIME(ext), ImageDescriptionPrompt)
	if err != nil {
		s.record("image", "error", start)
		return nil, fmt.Errorf("ingest: image description: %w", err)
	}

	elementID := s.newID()
	path := shardedImagePath(s.imagesDir, elementID, ExtractSlug(description), ext)
	if err := writeFile(path, msg.Data); err != nil {
		s.record("image", "error", start)
		return nil, fmt.Errorf("ingest: storing image file: %w", err)
	}

	el, err := s.store.AddElement(ctx, canvas.AddElementRequest{
		ElementID: elementID,
		CanvasID:  cv.ID,
		Type:      "image",
		Content:   description,
		CreatedBy: createdBy(msg.Message),
		Attributes: s.attributes(msg.Message, map[string]any{
			"file_path":         path,
			"original_filename": msg.Filename,
			"mime_type":         imageMIME(ext),
		}),
	})
	if err != nil {
		s.record("image", "error", start)
		return nil, fmt.Errorf("ingest: saving image element: %w", err)
	}

	s.indexText(ctx, msg.Message, description)
	s.logger.Info(ctx, "image ingested", "chat_id", msg.ChatID, "element_id", el.ID, "file_path", path)
	s.record("image", "success", start)
	return &Result{Element: el, Text: description}, nil
}

// Document archives the file and indexes its text chunk by chunk.
func (s *Service) Document(ctx context.Context, msg DocumentMessage) (*Result, error) {
	start := s.now()
	if len(msg.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	cv, existing, err := s.resolve(ctx, msg.Message)
	if err != nil {
		s.record("document", "error", start)
		return nil, err
	}
	if existing != nil {
		s.record("document", "duplicate", start)
		return &Result{Element: existing, Text: existing.Content, Duplicate: true}, nil
	}

	path := docPath(s.docsDir, msg.Filename, s.newID()[:8])
	if err := writeFile(path, msg.Data); err != nil {
		s.record("document", "error", start)
		return nil, fmt.Errorf("ingest: storing document file: %w", err)
	}

	text := msg.Text
	if text == "" && textLikeExt(filepath.Ext(msg.Filename)) {
		text = string(msg.Data)
	}
	if text == "" {
		text = fmt.Sprintf("Stored document %s.", filepath.Base(msg.Filename))
	}

	el, err := s.store.AddElement(ctx, canvas.AddElementRequest{
		CanvasID:  cv.ID,
		Type:      "document",
		Content:   text,
		CreatedBy: createdBy(msg.Message),
		Attributes: s.attributes(msg.Message, map[string]any{
			"file_path":         path,
			"original_filename": msg.Filename,
		}),
	})
	if err != nil {
		s.record("document", "error", start)
		return nil, fmt.Errorf("ingest: saving document element: %w", err)
	}

	s.indexDocument(ctx, msg, text)
	s.logger.Info(ctx, "document ingested", "chat_id", msg.ChatID, "element_id", el.ID, "file_path", path)
	s.record("document", "success", start)
	return &Result{Element: el, Text: text}, nil
}

func textLikeExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".txt", ".md", ".markdown", ".csv", ".log":
		return true
	}
	return false
}

// resolve returns the chat's canvas and, when the message id was already
// ingested, the existing element.
func (s *Service) resolve(ctx context.Context, msg Message) (*canvas.Canvas, *canvas.Element, error) {
	if msg.ChatID == "" {
		return nil, nil, errors.New("ingest: chat_id is required")
	}
	cv, err := s.store.GetOrCreateCanvasForChat(ctx, msg.ChatID)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: resolving canvas: %w", err)
	}
	if msg.MessageID == "" {
		return cv, nil, nil
	}

	recent, err := s.store.GetElements(ctx, canvas.ElementQuery{CanvasID: cv.ID, Limit: dedupeScanLimit})
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: duplicate scan: %w", err)
	}
	for _, el := range recent {
		if id, _ := el.Attributes["source_msg_id"].(string); id == msg.MessageID {
			return cv, el, nil
		}
	}
	return cv, nil, nil
}

func (s *Service) attributes(msg Message, extra map[string]any) map[string]any {
	attrs := map[string]any{"source": msg.Source}
	if msg.MessageID != "" {
		attrs["source_msg_id"] = msg.MessageID
	}
	if msg.Author.ID != "" {
		attrs["author_id"] = msg.Author.ID
	}
	if msg.Author.Name != "" {
		attrs["author_name"] = msg.Author.Name
	}
	if msg.Author.Nick != "" {
		attrs["author_nick"] = msg.Author.Nick
	}
	if msg.IsForward {
		attrs["is_forward"] = 1
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return attrs
}

func (s *Service) indexText(ctx context.Context, msg Message, text string) {
	if s.index == nil {
		return
	}
	if _, err := s.index.Add(ctx, msg.ChatID, knowledge.Document{
		Text:   text,
		Source: msg.Source,
	}); err != nil {
		s.logger.Warn(ctx, "knowledge indexing failed", "chat_id", msg.ChatID, "error", err)
	}
}

// indexDocument splits the text into chunks before indexing so long
// documents stay retrievable piecemeal.
func (s *Service) indexDocument(ctx context.Context, msg DocumentMessage, text string) {
	if s.index == nil {
		return
	}
	source := filepath.Base(msg.Filename)
	if source == "" || source == "." {
		source = msg.Source
	}
	for _, chunk := range ChunkText(text, 0, 0) {
		if _, err := s.index.Add(ctx, msg.ChatID, knowledge.Document{
			Text:   chunk,
			Source: source,
			Tags:   []string{"doc"},
		}); err != nil {
			s.logger.Warn(ctx, "document indexing failed", "chat_id", msg.ChatID, "error", err)
			return
		}
	}
}

func (s *Service) record(kind, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordIngest(kind, status, s.now().Sub(start).Seconds())
	}
}

func createdBy(msg Message) string {
	if msg.Author.ID != "" {
		source := msg.Source
		if source == "" {
			source = "unknown"
		}
		return fmt.Sprintf("%s:user:%s", source, msg.Author.ID)
	}
	if msg.Author.Name != "" {
		return msg.Author.Name
	}
	return "unknown"
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
