package agent

import "context"

// LLMProvider defines the interface for language model providers.
type LLMProvider interface {
	// Name returns the provider identifier (e.g. "google").
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the provider handles function calling.
	SupportsTools() bool

	// Complete streams a completion. Chunks arrive on the returned channel
	// until the stream ends; a chunk with Error set terminates the stream.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// Model describes an available language model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextWindow  int    `json:"context_window"`
	SupportsVision bool   `json:"supports_vision"`
}

// CompletionRequest is a request for a model completion.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []Tool              `json:"-"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single turn in the conversation sent to the model.
// Role is one of "user", "assistant" or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []ToolCall          `json:"tool_calls,omitempty"`
	ToolResults []ToolResultPayload `json:"tool_results,omitempty"`
}

// CompletionChunk is one streamed fragment of a completion.
type CompletionChunk struct {
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Done     bool      `json:"done,omitempty"`
	Error    error     `json:"-"`
}

// Completion is a fully drained model response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Drain consumes a chunk stream into a Completion. It returns the first
// stream error encountered, discarding any remaining chunks.
func Drain(ctx context.Context, chunks <-chan *CompletionChunk) (Completion, error) {
	var out Completion
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return out, nil
			}
			if chunk.Error != nil {
				return out, chunk.Error
			}
			out.Text += chunk.Text
			if chunk.ToolCall != nil {
				out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
			}
		}
	}
}
