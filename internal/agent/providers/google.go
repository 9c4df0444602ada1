// Package providers implements LLM provider integrations for the agent
// runtime. The Google provider is the only one wired in: it speaks to the
// Gemini API through the Google Gen AI Go SDK.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/agent/toolconv"
	"google.golang.org/genai"
)

// GoogleProvider implements agent.LLMProvider for Google's Gemini API.
//
// The provider is deliberately single-shot: it classifies failures as
// transient or permanent (see classifyError) and leaves retry scheduling
// to the caller. Streaming uses the SDK's Go 1.23 iterator; each
// Complete() call creates an independent stream and goroutine, so the
// provider is safe for concurrent use.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig holds configuration for creating a GoogleProvider.
type GoogleConfig struct {
	// APIKey is the Google AI API authentication key (required).
	APIKey string

	// DefaultModel is used when a request does not name a model.
	// Default: "gemini-2.0-flash"
	DefaultModel string
}

// NewGoogleProvider creates a Google provider from the given configuration.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier.
func (p *GoogleProvider) Name() string {
	return "google"
}

// Models returns the Gemini models this provider serves.
func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{
			ID:             "gemini-2.0-flash",
			Name:           "Gemini 2.0 Flash",
			ContextWindow:  1000000,
			SupportsVision: true,
		},
		{
			ID:             "gemini-2.0-flash-lite",
			Name:           "Gemini 2.0 Flash Lite",
			ContextWindow:  1000000,
			SupportsVision: true,
		},
		{
			ID:             "gemini-2.5-flash",
			Name:           "Gemini 2.5 Flash",
			ContextWindow:  1000000,
			SupportsVision: true,
		},
		{
			ID:             "gemini-2.5-pro",
			Name:           "Gemini 2.5 Pro",
			ContextWindow:  2000000,
			SupportsVision: true,
		},
	}
}

// SupportsTools reports that Gemini models support function calling.
func (p *GoogleProvider) SupportsTools() bool {
	return true
}

// Client exposes the underlying SDK client for adapters that need API
// surfaces beyond completion, such as embeddings.
func (p *GoogleProvider) Client() *genai.Client {
	return p.client
}

// Complete sends a completion request to Gemini and returns a streaming
// response channel. The channel closes when the stream finishes; failures
// arrive as a chunk with Error set, already classified for the caller's
// retry policy.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)
		contents := p.convertMessages(req.Messages)
		config := p.buildConfig(req)

		stream := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		if err := p.processStreamResponse(ctx, stream, chunks); err != nil {
			if ctx.Err() != nil {
				chunks <- &agent.CompletionChunk{Error: ctx.Err()}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.classifyError(err, model)}
			return
		}

		chunks <- &agent.CompletionChunk{Done: true}
	}()

	return chunks, nil
}

// processStreamResponse drains the Gemini iterator into completion chunks.
func (p *GoogleProvider) processStreamResponse(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *agent.CompletionChunk) error {
	for resp, err := range stream {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}

				if part.Text != "" {
					chunks <- &agent.CompletionChunk{Text: part.Text}
				}

				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					chunks <- &agent.CompletionChunk{
						ToolCall: &agent.ToolCall{
							ID:    generateToolCallID(part.FunctionCall.Name),
							Name:  part.FunctionCall.Name,
							Input: argsJSON,
						},
					}
				}
			}
		}
	}

	return nil
}

// convertMessages converts the internal message format to Gemini contents.
// User and tool messages map to the user role, assistant messages to the
// model role; the system prompt travels separately as SystemInstruction.
func (p *GoogleProvider) convertMessages(messages []agent.CompletionMessage) []*genai.Content {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{
					"result": tr.Content,
					"error":  tr.IsError,
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     tr.Name,
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result
}

// buildConfig builds the GenerateContentConfig from a CompletionRequest.
func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}

	return config
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// classifyError maps a Gemini failure onto the runtime's error taxonomy:
//
//   - 429 / RESOURCE_EXHAUSTED becomes *agent.QuotaError carrying the
//     exceeded metrics and the server's suggested retry delay. Quota
//     windows are long, so these are never worth retrying inline.
//   - 5xx, UNAVAILABLE and transport failures become *agent.TransientError.
//   - Everything else (bad request, auth, safety) is permanent.
func (p *GoogleProvider) classifyError(err error, model string) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return p.parseQuotaError(apiErr, model)
		case apiErr.Code >= 500:
			return &agent.TransientError{Err: fmt.Errorf("google: model %s: %w", model, err)}
		default:
			return fmt.Errorf("google: model %s: %w", model, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "quota"):
		return &agent.QuotaError{
			Provider: "google",
			Model:    model,
			Message:  err.Error(),
		}
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return &agent.TransientError{Err: fmt.Errorf("google: model %s: %w", model, err)}
	default:
		return fmt.Errorf("google: model %s: %w", model, err)
	}
}

// parseQuotaError extracts QuotaFailure violations and the RetryInfo delay
// from a 429 response's status details.
func (p *GoogleProvider) parseQuotaError(apiErr genai.APIError, model string) *agent.QuotaError {
	qe := &agent.QuotaError{
		Provider: "google",
		Model:    model,
		Message:  apiErr.Message,
	}

	for _, detail := range apiErr.Details {
		detailType, _ := detail["@type"].(string)
		switch {
		case strings.HasSuffix(detailType, "QuotaFailure"):
			violations, _ := detail["violations"].([]any)
			for _, v := range violations {
				vm, ok := v.(map[string]any)
				if !ok {
					continue
				}
				violation := agent.QuotaViolation{}
				if metric, ok := vm["quotaMetric"].(string); ok {
					violation.Metric = metric
				}
				if limit, ok := vm["quotaValue"].(string); ok {
					violation.Limit = limit
				}
				if dims, ok := vm["quotaDimensions"].(map[string]any); ok {
					if m, ok := dims["model"].(string); ok {
						violation.Model = m
					}
				}
				qe.Violations = append(qe.Violations, violation)
			}
		case strings.HasSuffix(detailType, "RetryInfo"):
			if delay, ok := detail["retryDelay"].(string); ok {
				if d, err := time.ParseDuration(delay); err == nil {
					qe.RetryAfter = d
				}
			}
		}
	}

	return qe
}

// generateToolCallID generates a unique ID for a tool call.
// Gemini doesn't provide tool call IDs, so we generate them.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}
