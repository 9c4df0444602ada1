package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/loom/internal/backoff"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/sessions"
)

// scriptStep is one scripted provider response: either a completion or
// an error.
type scriptStep struct {
	text  string
	calls []ToolCall
	err   error
}

// scriptedProvider replays a fixed sequence of responses, counts how
// often it was called and keeps the messages of every request it saw.
type scriptedProvider struct {
	mu     sync.Mutex
	script []scriptStep
	reqs   [][]CompletionMessage
	calls  int
	active int32
	peak   int32
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	active := atomic.AddInt32(&p.active, 1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if active <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, active) {
			break
		}
	}
	defer atomic.AddInt32(&p.active, -1)

	p.mu.Lock()
	if len(p.script) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider exhausted")
	}
	step := p.script[0]
	p.script = p.script[1:]
	p.calls++
	p.reqs = append(p.reqs, append([]CompletionMessage(nil), req.Messages...))
	p.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}

	out := make(chan *CompletionChunk, len(step.calls)+1)
	if step.text != "" {
		out <- &CompletionChunk{Text: step.text}
	}
	for i := range step.calls {
		call := step.calls[i]
		out <- &CompletionChunk{ToolCall: &call}
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request(i int) []CompletionMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[i]
}

// echoTool records the session chat id it saw and echoes its input.
type echoTool struct {
	mu       sync.Mutex
	sawChats []string
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Echoes the input back." }

func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}

func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.mu.Lock()
	t.sawChats = append(t.sawChats, ChatIDFromContext(ctx))
	t.mu.Unlock()

	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return ErrorResult("invalid parameters: %v", err), nil
	}
	return &ToolResult{Content: "echo: " + args.Text}, nil
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func newTestRunner(t *testing.T, provider LLMProvider) (*Runner, sessions.Service) {
	t.Helper()
	svc := sessions.NewMemoryService()
	runner, err := NewRunner(RunnerConfig{
		Provider: provider,
		Sessions: svc,
		AppName:  "loom-test",
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	// Millisecond waits keep retry tests fast.
	runner.policy = backoff.BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 1}
	return runner, svc
}

func testAgent(tools ...Tool) *Agent {
	return &Agent{
		Name:        "orchestrator",
		Model:       "gemini-2.0-flash",
		Description: "Test orchestrator.",
		Instruction: "You are a test agent.",
		Tools:       tools,
	}
}

func eventKinds(t *testing.T, svc sessions.Service, chatID string) []sessions.EventKind {
	t.Helper()
	events, err := svc.ListEvents(context.Background(), "loom-test", "user-1", chatID, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	kinds := make([]sessions.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestRunFinalResponse(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{{text: "Hello there."}}}
	runner, svc := newTestRunner(t, provider)

	text, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "Hello there." {
		t.Errorf("text = %q, want Hello there.", text)
	}

	want := []sessions.EventKind{
		sessions.EventUserContent,
		sessions.EventModelContent,
		sessions.EventFinalResponse,
	}
	got := eventKinds(t, svc, "chat-1")
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunReplaysPriorTurns(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{text: "Nice to meet you, Bohdan."},
		{text: "Your name is Bohdan."},
	}}
	runner, _ := newTestRunner(t, provider)

	if _, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "My name is Bohdan, remember it",
	}); err != nil {
		t.Fatalf("Run() turn 1 error = %v", err)
	}
	text, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "What is my name?",
	})
	if err != nil {
		t.Fatalf("Run() turn 2 error = %v", err)
	}
	if text != "Your name is Bohdan." {
		t.Errorf("text = %q", text)
	}

	messages := provider.request(1)
	if len(messages) != 3 {
		t.Fatalf("turn 2 messages = %d, want 3: %+v", len(messages), messages)
	}
	if messages[0].Role != "user" || messages[0].Content != "My name is Bohdan, remember it" {
		t.Errorf("messages[0] = %+v, want turn 1 user text", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Nice to meet you, Bohdan." {
		t.Errorf("messages[1] = %+v, want turn 1 reply", messages[1])
	}
	if messages[2].Role != "user" || !strings.Contains(messages[2].Content, "What is my name?") {
		t.Errorf("messages[2] = %+v, want current question", messages[2])
	}
}

func TestRunReplaysToolTraffic(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{calls: []ToolCall{{ID: "call_1", Name: "echo", Input: json.RawMessage(`{"text":"ping"}`)}}},
		{text: "The tool said: echo: ping"},
		{text: "It returned echo: ping."},
	}}
	runner, _ := newTestRunner(t, provider)
	root := testAgent(&echoTool{})

	if _, err := runner.Run(context.Background(), root, TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "run the tool",
	}); err != nil {
		t.Fatalf("Run() turn 1 error = %v", err)
	}
	if _, err := runner.Run(context.Background(), root, TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "what did the tool say?",
	}); err != nil {
		t.Fatalf("Run() turn 2 error = %v", err)
	}

	// user, tool call, tool result, reply, current question.
	messages := provider.request(2)
	if len(messages) != 5 {
		t.Fatalf("turn 2 messages = %d, want 5: %+v", len(messages), messages)
	}
	call := messages[1]
	if call.Role != "assistant" || len(call.ToolCalls) != 1 || call.ToolCalls[0].Name != "echo" {
		t.Errorf("messages[1] = %+v, want replayed echo call", call)
	}
	if !strings.Contains(string(call.ToolCalls[0].Input), "ping") {
		t.Errorf("replayed call input = %s, want ping args", call.ToolCalls[0].Input)
	}
	result := messages[2]
	if result.Role != "tool" || len(result.ToolResults) != 1 ||
		result.ToolResults[0].Content != "echo: ping" ||
		result.ToolResults[0].ToolCallID != "call_1" {
		t.Errorf("messages[2] = %+v, want replayed echo result", result)
	}
	if messages[3].Role != "assistant" || messages[3].Content != "The tool said: echo: ping" {
		t.Errorf("messages[3] = %+v, want turn 1 reply", messages[3])
	}
}

func TestRunSetsChatIDState(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{{text: "ok"}}}
	runner, svc := newTestRunner(t, provider)

	if _, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-42", Text: "hi",
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sess, err := svc.GetSession(context.Background(), "loom-test", "user-1", "chat-42")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.ChatID() != "chat-42" {
		t.Errorf("session chat id = %q, want chat-42", sess.ChatID())
	}
}

func TestRunToolLoop(t *testing.T) {
	tool := &echoTool{}
	provider := &scriptedProvider{script: []scriptStep{
		{calls: []ToolCall{{ID: "call_1", Name: "echo", Input: json.RawMessage(`{"text":"ping"}`)}}},
		{text: "The tool said: echo: ping"},
	}}
	runner, svc := newTestRunner(t, provider)

	text, err := runner.Run(context.Background(), testAgent(tool), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "run the tool",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "The tool said: echo: ping" {
		t.Errorf("text = %q", text)
	}
	if len(tool.sawChats) != 1 || tool.sawChats[0] != "chat-1" {
		t.Errorf("tool saw chats %v, want [chat-1]", tool.sawChats)
	}

	kinds := eventKinds(t, svc, "chat-1")
	var calls, results int
	for _, k := range kinds {
		switch k {
		case sessions.EventToolCall:
			calls++
		case sessions.EventToolResult:
			results++
		}
	}
	if calls != 1 || results != 1 {
		t.Errorf("tool_call=%d tool_result=%d, want 1/1", calls, results)
	}
	if kinds[len(kinds)-1] != sessions.EventFinalResponse {
		t.Errorf("last event = %s, want final_response", kinds[len(kinds)-1])
	}
}

func TestRunUnknownToolReportedToModel(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{calls: []ToolCall{{ID: "call_1", Name: "nope", Input: json.RawMessage(`{}`)}}},
		{text: "recovered"},
	}}
	runner, _ := newTestRunner(t, provider)

	text, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q, want recovered", text)
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	transient := &TransientError{Err: errors.New("503 service unavailable")}
	provider := &scriptedProvider{script: []scriptStep{
		{err: transient},
		{err: transient},
		{text: "finally"},
	}}
	runner, _ := newTestRunner(t, provider)

	text, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "finally" {
		t.Errorf("text = %q, want finally", text)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.callCount())
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	transient := &TransientError{Err: errors.New("500 internal")}
	script := make([]scriptStep, 10)
	for i := range script {
		script[i] = scriptStep{err: transient}
	}
	provider := &scriptedProvider{script: script}
	runner, _ := newTestRunner(t, provider)

	_, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if err == nil {
		t.Fatal("Run() error = nil, want failure after retries")
	}
	if provider.callCount() != defaultMaxAttempts {
		t.Errorf("provider calls = %d, want %d", provider.callCount(), defaultMaxAttempts)
	}
}

func TestRunQuotaErrorNotRetried(t *testing.T) {
	quota := &QuotaError{
		Provider:   "google",
		Model:      "gemini-2.0-flash",
		Violations: []QuotaViolation{{Metric: "generate_requests_per_day", Limit: "250"}},
		RetryAfter: 21 * time.Second,
		Message:    "resource exhausted",
	}
	provider := &scriptedProvider{script: []scriptStep{
		{err: quota},
		{text: "should never be reached"},
	}}
	runner, _ := newTestRunner(t, provider)

	_, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if !IsQuota(err) {
		t.Fatalf("Run() error = %v, want quota error", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want exactly 1", provider.callCount())
	}
}

func TestQuotaErrorUserMessage(t *testing.T) {
	quota := &QuotaError{
		Provider:   "google",
		Model:      "gemini-2.0-flash",
		Violations: []QuotaViolation{{Metric: "generate_requests_per_day", Limit: "250"}},
		RetryAfter: 21 * time.Second,
	}
	msg := quota.UserMessage()
	for _, want := range []string{"gemini-2.0-flash", "generate_requests_per_day", "250", "21s"} {
		if !strings.Contains(msg, want) {
			t.Errorf("UserMessage() = %q, missing %q", msg, want)
		}
	}
}

func TestRunNoResponse(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{{}}}
	runner, _ := newTestRunner(t, provider)

	_, err := runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("Run() error = %v, want ErrNoResponse", err)
	}
}

func TestRunTransfersToSubAgent(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{calls: []ToolCall{{
			ID:    "call_1",
			Name:  TransferToolName,
			Input: json.RawMessage(`{"agent_name":"chat_summarizer"}`),
		}}},
		{text: "Summary: things happened."},
	}}
	runner, _ := newTestRunner(t, provider)

	root := testAgent()
	root.SubAgents = []*Agent{{
		Name:        "chat_summarizer",
		Model:       "gemini-2.0-flash",
		Description: "Summarizes chat history.",
		Instruction: "Summarize.",
	}}

	text, err := runner.Run(context.Background(), root, TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "summarize the chat",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "Summary: things happened." {
		t.Errorf("text = %q", text)
	}
}

func TestRunTransferToUnknownAgent(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{calls: []ToolCall{{
			ID:    "call_1",
			Name:  TransferToolName,
			Input: json.RawMessage(`{"agent_name":"ghost"}`),
		}}},
	}}
	runner, _ := newTestRunner(t, provider)

	root := testAgent()
	root.SubAgents = []*Agent{{Name: "real", Model: "gemini-2.0-flash"}}

	_, err := runner.Run(context.Background(), root, TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Run() error = %v, want ErrUnknownAgent", err)
	}
}

func TestRunSerializesTurnsPerChat(t *testing.T) {
	const turns = 4
	script := make([]scriptStep, turns)
	for i := range script {
		script[i] = scriptStep{text: "done"}
	}
	provider := &scriptedProvider{script: script}
	runner, _ := newTestRunner(t, provider)

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runner.Run(context.Background(), testAgent(), TurnRequest{
				UserID: "user-1", ChatID: "chat-1", Text: "hi",
			})
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt32(&provider.peak); peak != 1 {
		t.Errorf("peak concurrent provider calls on one chat = %d, want 1", peak)
	}
}

func TestAgentToolRunsChildOnSameSession(t *testing.T) {
	childTool := &echoTool{}
	provider := &scriptedProvider{script: []scriptStep{
		// Parent asks for the wrapped agent.
		{calls: []ToolCall{{
			ID:    "call_1",
			Name:  "disney_facilitator",
			Input: json.RawMessage(`{"request":"brainstorm"}`),
		}}},
		// Child calls its own tool, then answers.
		{calls: []ToolCall{{ID: "call_2", Name: "echo", Input: json.RawMessage(`{"text":"idea"}`)}}},
		{text: "child answer"},
		// Parent folds the result into its final text.
		{text: "facilitator says: child answer"},
	}}
	runner, _ := newTestRunner(t, provider)

	child := &Agent{
		Name:        "disney_facilitator",
		Model:       "gemini-2.0-flash",
		Description: "Runs a brainstorm.",
		Instruction: "Facilitate.",
		Tools:       []Tool{childTool},
	}
	root := testAgent(NewAgentTool(runner, child))

	text, err := runner.Run(context.Background(), root, TurnRequest{
		UserID: "user-1", ChatID: "chat-7", Text: "brainstorm please",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if text != "facilitator says: child answer" {
		t.Errorf("text = %q", text)
	}
	if len(childTool.sawChats) != 1 || childTool.sawChats[0] != "chat-7" {
		t.Errorf("child tool saw chats %v, want [chat-7]", childTool.sawChats)
	}
}

// blockingProvider never answers until the context expires.
type blockingProvider struct{}

func (p *blockingProvider) Name() string        { return "blocking" }
func (p *blockingProvider) Models() []Model     { return nil }
func (p *blockingProvider) SupportsTools() bool { return true }

func (p *blockingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunTurnDeadline(t *testing.T) {
	svc := sessions.NewMemoryService()
	runner, err := NewRunner(RunnerConfig{
		Provider:    &blockingProvider{},
		Sessions:    svc,
		AppName:     "loom-test",
		Logger:      quietLogger(),
		TurnTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	_, err = runner.Run(context.Background(), testAgent(), TurnRequest{
		UserID: "user-1", ChatID: "chat-1", Text: "hi",
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	kinds := eventKinds(t, svc, "chat-1")
	if len(kinds) == 0 || kinds[len(kinds)-1] != sessions.EventCancelled {
		t.Errorf("event kinds = %v, want trailing cancelled event", kinds)
	}
}

func TestAgentValidate(t *testing.T) {
	leaf := func(name string) *Agent {
		return &Agent{Name: name, Model: "gemini-2.0-flash"}
	}

	t.Run("valid tree", func(t *testing.T) {
		root := leaf("root")
		root.SubAgents = []*Agent{leaf("a"), leaf("b")}
		if err := root.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("missing model", func(t *testing.T) {
		root := &Agent{Name: "root"}
		if err := root.Validate(); err == nil {
			t.Error("Validate() = nil, want error for missing model")
		}
	})

	t.Run("duplicate names", func(t *testing.T) {
		root := leaf("root")
		root.SubAgents = []*Agent{leaf("a"), leaf("a")}
		if err := root.Validate(); err == nil {
			t.Error("Validate() = nil, want error for duplicate names")
		}
	})

	t.Run("sub-agent cycle", func(t *testing.T) {
		root := leaf("root")
		child := leaf("child")
		root.SubAgents = []*Agent{child}
		child.SubAgents = []*Agent{root}
		if err := root.Validate(); err == nil {
			t.Error("Validate() = nil, want cycle error")
		}
	})

	t.Run("agent-tool cycle", func(t *testing.T) {
		runner := &Runner{}
		root := leaf("root")
		child := leaf("child")
		root.SubAgents = []*Agent{child}
		child.Tools = []Tool{NewAgentTool(runner, root)}
		if err := root.Validate(); err == nil {
			t.Error("Validate() = nil, want cycle error through agent tool")
		}
	})
}

func TestTruncateForLog(t *testing.T) {
	short := "hello"
	if got := TruncateForLog(short); got != short {
		t.Errorf("TruncateForLog(short) = %q", got)
	}
	long := strings.Repeat("x", 500)
	got := TruncateForLog(long)
	if len(got) != logTruncateWidth+3 {
		t.Errorf("len = %d, want %d", len(got), logTruncateWidth+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated value missing ellipsis")
	}
}
