// Package agent implements the agent definition model and the turn runner:
// resolving sessions, driving the model's tool-call loop, delegating to
// sub-agents and surfacing retry and quota failures.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/loom/internal/sessions"
)

// Tool defines the interface for executable agent tools.
//
// Tools never fail across the model boundary: argument validation errors,
// missing entities and tenancy violations all come back as a ToolResult
// whose Content starts with "Error: " and whose IsError flag is set.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the
	// tool does. This helps the LLM decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters. The session
	// is carried in ctx; tools derive their tenant from it, never from
	// the parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
type ToolResult struct {
	// Content is the tool's output (text, JSON, etc.)
	Content string `json:"content"`

	// IsError indicates this result represents an error condition
	IsError bool `json:"is_error,omitempty"`
}

// ErrorResult builds the diagnostic result tools return instead of raising.
func ErrorResult(format string, args ...any) *ToolResult {
	return &ToolResult{
		Content: "Error: " + fmt.Sprintf(format, args...),
		IsError: true,
	}
}

// ToolCall is a tool execution request emitted by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultPayload carries one executed tool result back to the model.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

type sessionKey struct{}

// WithSession stores a session in the context.
func WithSession(ctx context.Context, session *sessions.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext retrieves the session from context.
func SessionFromContext(ctx context.Context) *sessions.Session {
	session, ok := ctx.Value(sessionKey{}).(*sessions.Session)
	if !ok {
		return nil
	}
	return session
}

// ChatIDFromContext returns the tenant chat id from the context session.
// Every tool must resolve its chat through this and reject when absent.
func ChatIDFromContext(ctx context.Context) string {
	return SessionFromContext(ctx).ChatID()
}

// logTruncateWidth bounds tool arguments and results in log records.
// The model always receives the full value.
const logTruncateWidth = 200

// TruncateForLog shortens long strings for structured log fields.
func TruncateForLog(s string) string {
	if len(s) <= logTruncateWidth {
		return s
	}
	return s[:logTruncateWidth] + "..."
}
