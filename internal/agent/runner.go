package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/loom/internal/backoff"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/sessions"
)

const (
	// TransferToolName is the synthetic tool the runner intercepts to hand
	// the conversation to a sub-agent.
	TransferToolName = "transfer_to_agent"

	defaultMaxAttempts   = 5
	defaultMaxIterations = 16
	defaultTurnTimeout   = 120 * time.Second
)

// TurnRequest is one inbound user message addressed to an agent tree.
type TurnRequest struct {
	// UserID identifies the author.
	UserID string
	// ChatID identifies the chat; it doubles as the session id and the
	// tenancy key for every tool the turn executes.
	ChatID string
	// Text is the user content for this turn.
	Text string
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Provider LLMProvider
	Sessions sessions.Service
	AppName  string
	Logger   *observability.Logger

	// MaxAttempts caps model call attempts per completion. Zero means 5.
	MaxAttempts int
	// MaxIterations caps tool-loop rounds per turn. Zero means 16.
	MaxIterations int
	// MaxTokens is forwarded to the provider when non-zero.
	MaxTokens int
	// TurnTimeout bounds a whole turn including sub-agent work. Zero
	// means 120s.
	TurnTimeout time.Duration
}

// Runner executes conversational turns against an agent tree. Turns on
// the same chat are serialized; turns on different chats run freely in
// parallel.
type Runner struct {
	provider      LLMProvider
	sessions      sessions.Service
	appName       string
	logger        *observability.Logger
	metrics       *Metrics
	policy        backoff.BackoffPolicy
	maxAttempts   int
	maxIterations int
	maxTokens     int
	turnTimeout   time.Duration

	mu    sync.Mutex
	locks map[string]*chatLock
}

// chatLock serializes turns per chat. The refcount lets idle entries be
// removed from the map once the last waiter releases.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewRunner creates a Runner from the given configuration.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("runner: provider is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("runner: session service is required")
	}
	if cfg.AppName == "" {
		return nil, fmt.Errorf("runner: app name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	return &Runner{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		appName:       cfg.AppName,
		logger:        cfg.Logger,
		metrics:       GetMetrics(),
		policy:        backoff.LLMPolicy(),
		maxAttempts:   cfg.MaxAttempts,
		maxIterations: cfg.MaxIterations,
		maxTokens:     cfg.MaxTokens,
		turnTimeout:   cfg.TurnTimeout,
		locks:         make(map[string]*chatLock),
	}, nil
}

// Run executes one turn of the given agent for the chat in req and
// returns the final response text. It acquires the chat's turn lock, so
// concurrent calls for the same chat queue up in order of arrival.
func (r *Runner) Run(ctx context.Context, root *Agent, req TurnRequest) (string, error) {
	if root == nil {
		return "", fmt.Errorf("runner: nil agent")
	}
	if req.ChatID == "" {
		return "", fmt.Errorf("runner: chat id is required")
	}

	unlock := r.lockChat(req.ChatID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.turnTimeout)
	defer cancel()

	ctx = observability.AddSessionID(ctx, req.ChatID)
	ctx = observability.AddUserID(ctx, req.UserID)

	sess, err := r.sessions.GetOrCreateSession(ctx, r.appName, req.UserID, req.ChatID,
		map[string]any{sessions.StateChatID: req.ChatID})
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	if sess.ChatID() == "" {
		// Sessions created before tenancy state was introduced.
		if sess.State == nil {
			sess.State = make(map[string]any)
		}
		sess.State[sessions.StateChatID] = req.ChatID
		if err := r.sessions.UpdateState(ctx, sess); err != nil {
			return "", fmt.Errorf("backfill session state: %w", err)
		}
	}
	ctx = WithSession(ctx, sess)

	r.metrics.RecordTurn(root.Name)
	history := r.historyMessages(ctx, sess)
	r.appendEvent(ctx, sess, req.UserID, sessions.EventUserContent,
		map[string]any{"text": req.Text})

	messages := append(history, CompletionMessage{
		Role:    "user",
		Content: contextHeader(sess) + req.Text,
	})

	text, err := r.runLoop(ctx, root, sess, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			r.recordCancelled(sess, req.UserID, err)
		}
		return "", &TurnError{Agent: root.Name, Err: err}
	}
	if text == "" {
		return "", &TurnError{Agent: root.Name, Err: ErrNoResponse}
	}

	r.appendEvent(ctx, sess, root.Name, sessions.EventFinalResponse,
		map[string]any{"text": text})
	return text, nil
}

// maxHistoryMessages bounds how much of the event log is replayed into
// the model input. Older turns fall off; the trim snaps forward to a
// user message so a tool call is never replayed without its result.
const maxHistoryMessages = 200

// historyMessages rebuilds the prior conversation from the session's
// event log so each turn sees everything the chat has said before.
// Final responses are skipped: the text they carry is already present
// as a model_content event.
func (r *Runner) historyMessages(ctx context.Context, sess *sessions.Session) []CompletionMessage {
	events, err := r.sessions.ListEvents(ctx, sess.AppName, sess.UserID, sess.SessionID, 0)
	if err != nil {
		r.logger.Error(ctx, "failed to replay session events", "error", err)
		return nil
	}

	var messages []CompletionMessage
	for _, ev := range events {
		switch ev.Kind {
		case sessions.EventUserContent:
			if text := payloadString(ev.Payload, "text"); text != "" {
				messages = append(messages, CompletionMessage{Role: "user", Content: text})
			}
		case sessions.EventModelContent:
			if text := payloadString(ev.Payload, "text"); text != "" {
				messages = append(messages, CompletionMessage{Role: "assistant", Content: text})
			}
		case sessions.EventToolCall:
			args, _ := json.Marshal(ev.Payload["args"])
			messages = append(messages, CompletionMessage{
				Role: "assistant",
				ToolCalls: []ToolCall{{
					ID:    payloadString(ev.Payload, "tool_call_id"),
					Name:  payloadString(ev.Payload, "name"),
					Input: args,
				}},
			})
		case sessions.EventToolResult:
			isError, _ := ev.Payload["is_error"].(bool)
			messages = append(messages, CompletionMessage{
				Role: "tool",
				ToolResults: []ToolResultPayload{{
					ToolCallID: payloadString(ev.Payload, "tool_call_id"),
					Name:       payloadString(ev.Payload, "name"),
					Content:    payloadString(ev.Payload, "content"),
					IsError:    isError,
				}},
			})
		}
	}

	if len(messages) > maxHistoryMessages {
		start := len(messages) - maxHistoryMessages
		for start < len(messages) && messages[start].Role != "user" {
			start++
		}
		messages = messages[start:]
	}
	return messages
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// runLoop drives the model/tool loop for one agent. It assumes the chat
// lock is already held; AgentTool re-enters here for nested agents.
func (r *Runner) runLoop(ctx context.Context, a *Agent, sess *sessions.Session, messages []CompletionMessage) (string, error) {
	tools := a.Tools
	if len(a.SubAgents) > 0 {
		tools = append(append([]Tool{}, a.Tools...), newTransferTool(a))
	}

	for iteration := 1; iteration <= r.maxIterations; iteration++ {
		completion, err := r.complete(ctx, a, tools, messages)
		if err != nil {
			return "", err
		}

		if completion.Text != "" {
			r.appendEvent(ctx, sess, a.Name, sessions.EventModelContent,
				map[string]any{"text": completion.Text})
		}
		if len(completion.ToolCalls) == 0 {
			return completion.Text, nil
		}

		messages = append(messages, CompletionMessage{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		results := make([]ToolResultPayload, 0, len(completion.ToolCalls))
		for _, call := range completion.ToolCalls {
			if call.Name == TransferToolName {
				return r.transfer(ctx, a, sess, call, messages)
			}

			result, err := r.executeTool(ctx, a, tools, sess, call)
			if err != nil {
				return "", err
			}
			results = append(results, ToolResultPayload{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    result.Content,
				IsError:    result.IsError,
			})
		}
		messages = append(messages, CompletionMessage{Role: "tool", ToolResults: results})
	}

	return "", fmt.Errorf("agent %s: tool loop exceeded %d iterations", a.Name, r.maxIterations)
}

// complete performs one model completion with retry. Only transient
// provider failures are retried; quota exhaustion and other permanent
// errors surface after a single attempt.
func (r *Runner) complete(ctx context.Context, a *Agent, tools []Tool, messages []CompletionMessage) (Completion, error) {
	req := &CompletionRequest{
		Model:     a.Model,
		System:    a.Instruction,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: r.maxTokens,
	}

	result, err := backoff.RetryWithBackoff(ctx, r.policy, r.maxAttempts, IsTransient,
		func(attempt int) (Completion, error) {
			r.metrics.RecordLLMAttempt(a.Model)
			if attempt > 1 {
				r.logger.Warn(ctx, "retrying model call",
					"agent", a.Name, "model", a.Model, "attempt", attempt)
			}
			chunks, err := r.provider.Complete(ctx, req)
			if err != nil {
				return Completion{}, err
			}
			return Drain(ctx, chunks)
		})
	if err != nil {
		if errors.Is(err, backoff.ErrMaxAttemptsExhausted) && result.LastError != nil {
			err = fmt.Errorf("model call failed after %d attempts: %w", result.Attempts, result.LastError)
		}
		if IsQuota(err) {
			r.metrics.RecordQuotaFailure(a.Model)
		}
		return Completion{}, err
	}
	return result.Value, nil
}

// executeTool dispatches one tool call, logging the call and its result
// with arguments truncated for the log only.
func (r *Runner) executeTool(ctx context.Context, a *Agent, tools []Tool, sess *sessions.Session, call ToolCall) (*ToolResult, error) {
	r.logger.Info(ctx, "tool call",
		"agent", a.Name, "tool", call.Name, "args", TruncateForLog(string(call.Input)))
	r.appendEvent(ctx, sess, a.Name, sessions.EventToolCall, map[string]any{
		"tool_call_id": call.ID,
		"name":         call.Name,
		"args":         json.RawMessage(call.Input),
	})

	tool := findTool(tools, call.Name)
	var result *ToolResult
	if tool == nil {
		result = ErrorResult("unknown tool %q", call.Name)
	} else {
		var err error
		result, err = tool.Execute(ctx, call.Input)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", call.Name, err)
		}
	}

	r.metrics.RecordToolCall(call.Name, result.IsError)
	r.logger.Info(ctx, "tool result",
		"agent", a.Name, "tool", call.Name,
		"result", TruncateForLog(result.Content), "is_error", result.IsError)
	r.appendEvent(ctx, sess, a.Name, sessions.EventToolResult, map[string]any{
		"tool_call_id": call.ID,
		"name":         call.Name,
		"content":      result.Content,
		"is_error":     result.IsError,
	})
	return result, nil
}

// transfer hands the conversation to a named sub-agent. The sub-agent
// continues with the accumulated message history and its final text
// becomes the turn's final text.
func (r *Runner) transfer(ctx context.Context, a *Agent, sess *sessions.Session, call ToolCall, messages []CompletionMessage) (string, error) {
	var args struct {
		AgentName string `json:"agent_name"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return "", fmt.Errorf("%s: invalid arguments: %w", TransferToolName, err)
	}

	target := a.FindSubAgent(args.AgentName)
	if target == nil {
		return "", fmt.Errorf("%w: %s has no sub-agent %q", ErrUnknownAgent, a.Name, args.AgentName)
	}

	r.logger.Info(ctx, "transferring conversation",
		"from", a.Name, "to", target.Name)
	r.appendEvent(ctx, sess, a.Name, sessions.EventToolCall, map[string]any{
		"tool_call_id": call.ID,
		"name":         TransferToolName,
		"args":         map[string]any{"agent_name": args.AgentName},
	})
	r.appendEvent(ctx, sess, a.Name, sessions.EventToolResult, map[string]any{
		"tool_call_id": call.ID,
		"name":         TransferToolName,
		"content":      fmt.Sprintf("Transferred to %s.", target.Name),
	})

	messages = append(messages, CompletionMessage{
		Role: "tool",
		ToolResults: []ToolResultPayload{{
			ToolCallID: call.ID,
			Name:       TransferToolName,
			Content:    fmt.Sprintf("Transferred to %s.", target.Name),
		}},
	})
	return r.runLoop(ctx, target, sess, messages)
}

// recordCancelled logs a cancellation event on a fresh context so the
// write survives the expired turn deadline.
func (r *Runner) recordCancelled(sess *sessions.Session, author string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.appendEventCtx(ctx, sess, author, sessions.EventCancelled,
		map[string]any{"reason": cause.Error()})
}

func (r *Runner) appendEvent(ctx context.Context, sess *sessions.Session, author string, kind sessions.EventKind, payload map[string]any) {
	r.appendEventCtx(ctx, sess, author, kind, payload)
}

func (r *Runner) appendEventCtx(ctx context.Context, sess *sessions.Session, author string, kind sessions.EventKind, payload map[string]any) {
	event := &sessions.Event{
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Author:    author,
		Kind:      kind,
		Payload:   payload,
	}
	if err := r.sessions.AppendEvent(ctx, event); err != nil {
		r.logger.Error(ctx, "failed to append session event",
			"kind", kind, "error", err)
	}
}

// lockChat acquires the per-chat turn lock, creating it on first use and
// dropping it from the map when the last holder releases.
func (r *Runner) lockChat(chatID string) func() {
	r.mu.Lock()
	lock, ok := r.locks[chatID]
	if !ok {
		lock = &chatLock{}
		r.locks[chatID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, chatID)
		}
		r.mu.Unlock()
	}
}

func findTool(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// contextHeader prefixes the user content with the ambient chat so the
// model always knows which chat it is serving.
func contextHeader(sess *sessions.Session) string {
	chatID := sess.ChatID()
	if chatID == "" {
		return ""
	}
	return fmt.Sprintf("[context] chat_id=%s\n\n", chatID)
}

// transferTool is the synthetic tool declaration the model sees when an
// agent has sub-agents. Execution is intercepted by the runner; Execute
// only exists to satisfy the interface.
type transferTool struct {
	agent *Agent
}

func newTransferTool(a *Agent) *transferTool {
	return &transferTool{agent: a}
}

func (t *transferTool) Name() string { return TransferToolName }

func (t *transferTool) Description() string {
	desc := "Transfer the conversation to a specialized sub-agent. Available agents:"
	for _, sub := range t.agent.SubAgents {
		desc += fmt.Sprintf("\n- %s: %s", sub.Name, sub.Description)
	}
	return desc
}

func (t *transferTool) Schema() json.RawMessage {
	names := make([]string, 0, len(t.agent.SubAgents))
	for _, sub := range t.agent.SubAgents {
		names = append(names, sub.Name)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_name": map[string]any{
				"type":        "string",
				"description": "Name of the agent to transfer to",
				"enum":        names,
			},
		},
		"required": []string{"agent_name"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func (t *transferTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return ErrorResult("%s is handled by the runtime", TransferToolName), nil
}
