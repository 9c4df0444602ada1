package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/ingest"
	"github.com/haasonsaas/loom/internal/knowledge"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/sessions"
	"github.com/haasonsaas/loom/internal/summarize"
)

// cannedProvider replies with a fixed sequence of texts and records the
// prompts it saw.
type cannedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	calls   int
}

func (p *cannedProvider) Name() string          { return "canned" }
func (p *cannedProvider) Models() []agent.Model { return nil }
func (p *cannedProvider) SupportsTools() bool   { return true }

func (p *cannedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(req.Messages) > 0 {
		p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	if p.err != nil {
		return nil, p.err
	}
	reply := ""
	if len(p.replies) > 0 {
		reply = p.replies[0]
		p.replies = p.replies[1:]
	}
	ch := make(chan *agent.CompletionChunk, 2)
	if reply != "" {
		ch <- &agent.CompletionChunk{Text: reply}
	}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *cannedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

func (p *cannedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeMedia struct{ response string }

func (f *fakeMedia) GenerateFromMedia(ctx context.Context, model string, data []byte, mimeType, prompt string) (string, error) {
	return f.response, nil
}

func keywordEmbedding(vocab ...string) func(context.Context, string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, len(vocab)+1)
		lower := strings.ToLower(text)
		for i, word := range vocab {
			vec[i] = float32(strings.Count(lower, word))
		}
		vec[len(vocab)] = 0.1
		var norm float32
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			scale := 1 / float32(1e-9+sqrt32(norm))
			for i := range vec {
				vec[i] *= scale
			}
		}
		return vec, nil
	}
}

func sqrt32(x float32) float32 {
	guess := x
	for i := 0; i < 20; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess
}

type testEnv struct {
	server   *Server
	store    canvas.Store
	index    *knowledge.Index
	provider *cannedProvider
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	store := canvas.NewMemoryStore()

	idx, err := knowledge.NewIndex(knowledge.Config{
		Embedding: keywordEmbedding("contract", "invoice", "holiday"),
	})
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}

	svc, err := ingest.NewService(ingest.Config{
		Store:     store,
		Index:     idx,
		Media:     &fakeMedia{response: "transcribed words"},
		Model:     "gemini-2.0-flash",
		ImagesDir: t.TempDir(),
		MediaDir:  t.TempDir(),
		DocsDir:   t.TempDir(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	provider := &cannedProvider{}
	runner, err := agent.NewRunner(agent.RunnerConfig{
		Provider: provider,
		Sessions: sessions.NewMemoryService(),
		AppName:  "loom-test",
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	root := &agent.Agent{Name: "orchestrator", Model: "m", Instruction: "route"}
	summarizer := &agent.Agent{Name: "chat_summarizer", Model: "m", Instruction: "summarize"}
	qa := &agent.Agent{Name: "qa", Model: "m", Instruction: "answer"}

	sum, err := summarize.NewService(summarize.Config{
		Store:  store,
		Runner: runner,
		Agent:  summarizer,
		Index:  idx,
	})
	if err != nil {
		t.Fatalf("summarize.NewService() error = %v", err)
	}

	server, err := NewServer(Config{
		Runner:    runner,
		Root:      root,
		Summarize: sum,
		QA:        qa,
		Ingest:    svc,
		Index:     idx,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{
		server:   server,
		store:    store,
		index:    idx,
		provider: provider,
		handler:  server.Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func multipartBody(t *testing.T, fields map[string]string, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func (e *testEnv) postMultipart(t *testing.T, fields map[string]string, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, bodyType := multipartBody(t, fields, filename, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", bodyType)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const testMetadata = `{"source":"telegram","chat_id":1001,"message_id":"m1","author_id":42,"author_name":"Ada Byron","author_nick":"ada"}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestIngestText(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postMultipart(t, map[string]string{
		"metadata": testMetadata,
		"text":     "remember the milk",
	}, "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["text"] != "remember the milk" {
		t.Errorf("body = %v", body)
	}

	cv, err := env.store.GetOrCreateCanvasForChat(context.Background(), "1001")
	if err != nil {
		t.Fatal(err)
	}
	elements, err := env.store.GetElements(context.Background(), canvas.ElementQuery{CanvasID: cv.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(elements) != 1 || elements[0].ID != body["id"] {
		t.Errorf("stored elements = %+v", elements)
	}
}

func TestIngestAudioFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postMultipart(t, map[string]string{"metadata": testMetadata},
		"note.ogg", "audio/ogg", []byte("OggS..."))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["text"] != "transcribed words" {
		t.Errorf("text = %v", body["text"])
	}
}

func TestIngestDocumentFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postMultipart(t, map[string]string{"metadata": testMetadata},
		"notes.txt", "text/plain", []byte("Contract details inside."))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["text"] != "Contract details inside." {
		t.Errorf("text = %v", body["text"])
	}
}

func TestIngestRejectsMissingMetadata(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postMultipart(t, map[string]string{"text": "hello"}, "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postMultipart(t, map[string]string{"metadata": testMetadata}, "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSummarizeMessages(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"They planned the offsite."}

	for i, text := range []string{"first note", "second note"} {
		rec := env.postMultipart(t, map[string]string{
			"metadata": fmt.Sprintf(`{"source":"telegram","chat_id":1001,"message_id":"s%d","author_name":"Ada Byron"}`, i),
			"text":     text,
		}, "", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("seed status = %d", rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/summarize", map[string]any{"chat_id": 1001})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["summary"] != "They planned the offsite." {
		t.Errorf("summary = %v", body["summary"])
	}
	prompt := env.provider.lastPrompt()
	if !strings.Contains(prompt, "first note") || !strings.Contains(prompt, "second note") {
		t.Errorf("prompt missing seeded messages: %q", prompt)
	}
	if strings.Index(prompt, "first note") > strings.Index(prompt, "second note") {
		t.Error("messages not in chronological order")
	}
}

func TestSummarizeEmptyChat(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/summarize", map[string]any{"chat_id": "77"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["summary"] != "No new messages to summarize." {
		t.Errorf("summary = %v", body["summary"])
	}
	if env.provider.callCount() != 0 {
		t.Error("model called for an empty chat")
	}
}

func TestSummarizeDocumentsScope(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"One contract on file."}
	if _, err := env.index.Add(context.Background(), "1001", knowledge.Document{
		Text: "Contract with Acme.", Source: "acme.pdf", Tags: []string{"legal"},
	}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/summarize", map[string]any{
		"chat_id": 1001, "scope": "documents", "tags": []string{"legal"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["summary"] != "One contract on file." {
		t.Errorf("summary = %v", body["summary"])
	}
	if !strings.Contains(env.provider.lastPrompt(), "Contract with Acme.") {
		t.Errorf("prompt = %q", env.provider.lastPrompt())
	}
}

func TestSummarizeValidation(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/summarize", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing chat_id status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/summarize", map[string]any{
		"chat_id": 1, "since_datetime": "not-a-date",
	}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/summarize", map[string]any{
		"chat_id": 1, "scope": "everything",
	}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad scope status = %d", rec.Code)
	}
}

func TestAsk(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"The Acme contract covers support."}
	if _, err := env.index.Add(context.Background(), "1001", knowledge.Document{
		Text: "Contract with Acme Corp.", Source: "acme.pdf",
	}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/ask", map[string]any{
		"query": "what does the contract cover", "chat_id": "1001",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["answer"] != "The Acme contract covers support." {
		t.Errorf("answer = %v", body["answer"])
	}
	sources, _ := body["sources"].([]any)
	if len(sources) != 1 || sources[0] != "acme.pdf" {
		t.Errorf("sources = %v", sources)
	}
}

func TestAskRequiresQuery(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/ask", map[string]any{"chat_id": "1"}); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChatMessage(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"Noted, adding it to the canvas."}

	rec := env.do(t, http.MethodPost, "/chat/message", map[string]any{
		"chat_id": 1001, "user_id": 42, "user_name": "Ada Byron",
		"text": "add milk to the list", "message_id": 9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["reply"] != "Noted, adding it to the canvas." {
		t.Errorf("reply = %v", body["reply"])
	}

	cv, err := env.store.GetOrCreateCanvasForChat(context.Background(), "1001")
	if err != nil {
		t.Fatal(err)
	}
	elements, err := env.store.GetElements(context.Background(), canvas.ElementQuery{CanvasID: cv.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(elements) != 1 || elements[0].Content != "add milk to the list" {
		t.Errorf("saved elements = %+v", elements)
	}
	if got, _ := elements[0].Attributes["source_msg_id"].(string); got != "9" {
		t.Errorf("source_msg_id = %q", got)
	}
}

func TestChatMessageSkipSave(t *testing.T) {
	env := newTestEnv(t)
	env.provider.replies = []string{"Understood."}

	rec := env.do(t, http.MethodPost, "/chat/message", map[string]any{
		"chat_id": 1001, "user_id": 42, "text": "just chatting", "skip_save": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	cv, err := env.store.GetOrCreateCanvasForChat(context.Background(), "1001")
	if err != nil {
		t.Fatal(err)
	}
	elements, err := env.store.GetElements(context.Background(), canvas.ElementQuery{CanvasID: cv.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(elements) != 0 {
		t.Errorf("elements saved despite skip_save: %+v", elements)
	}
}

func TestChatMessageQuota(t *testing.T) {
	env := newTestEnv(t)
	env.provider.err = &agent.QuotaError{
		Provider: "google",
		Model:    "gemini-2.5-pro",
		Violations: []agent.QuotaViolation{
			{Metric: "requests_per_day", Limit: "250"},
		},
	}

	rec := env.do(t, http.MethodPost, "/chat/message", map[string]any{
		"chat_id": 1001, "user_id": 42, "text": "hello", "skip_save": true,
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	msg, _ := body["error"].(string)
	if !strings.Contains(msg, "Quota exhausted for model gemini-2.5-pro") ||
		!strings.Contains(msg, "metric requests_per_day, limit 250") {
		t.Errorf("error = %q", msg)
	}
}

func TestChatMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/chat/message", map[string]any{"text": "hi"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing chat_id status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/chat/message", map[string]any{"chat_id": 1}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing text status = %d", rec.Code)
	}
}
