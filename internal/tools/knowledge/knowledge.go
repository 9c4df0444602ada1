// Package knowledge implements the knowledge base tools: similarity
// search and document listing over the calling chat's index partition.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/knowledge"
)

const defaultSearchLimit = 5

// SearchTool answers factual queries from the chat's knowledge base.
type SearchTool struct {
	index *knowledge.Index
}

// NewSearchTool creates the search_knowledge_base tool.
func NewSearchTool(index *knowledge.Index) *SearchTool {
	return &SearchTool{index: index}
}

func (t *SearchTool) Name() string { return "search_knowledge_base" }

func (t *SearchTool) Description() string {
	return "Searches the chat's knowledge base for information relevant to a query. " +
		"Use it when the user asks a question that stored documents may answer."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"},
			"limit": {"type": "integer", "description": "Max number of fragments to return (default 5)"}
		},
		"required": ["query"]
	}`)
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return agent.ErrorResult("query is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = defaultSearchLimit
	}

	chatID := agent.ChatIDFromContext(ctx)
	if chatID == "" {
		return agent.ErrorResult("no chat context available"), nil
	}

	results, err := t.index.Search(ctx, chatID, args.Query, args.Limit)
	if err != nil {
		return agent.ErrorResult("search error: %v", err), nil
	}
	if len(results) == 0 {
		return &agent.ToolResult{Content: "No relevant information found in the knowledge base."}, nil
	}

	fragments := make([]string, 0, len(results))
	for i, r := range results {
		source := r.Source
		if source == "" {
			source = "unknown"
		}
		fragments = append(fragments, fmt.Sprintf("[%d] (source: %s)\n%s", i+1, source, r.Text))
	}
	return &agent.ToolResult{Content: strings.Join(fragments, "\n\n")}, nil
}

// FetchDocumentsTool returns stored documents wholesale, for summarization.
type FetchDocumentsTool struct {
	index *knowledge.Index
}

// NewFetchDocumentsTool creates the fetch_documents tool.
func NewFetchDocumentsTool(index *knowledge.Index) *FetchDocumentsTool {
	return &FetchDocumentsTool{index: index}
}

func (t *FetchDocumentsTool) Name() string { return "fetch_documents" }

func (t *FetchDocumentsTool) Description() string {
	return "Fetches the chat's knowledge base documents, optionally filtered by tags. " +
		"Useful for summarizing accumulated knowledge."
}

func (t *FetchDocumentsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tags": {"type": "string", "description": "Comma-separated tags to filter by, e.g. 'legal,contract'"},
			"limit": {"type": "integer", "description": "Max number of documents (default 20)"}
		}
	}`)
}

func (t *FetchDocumentsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Tags  string `json:"tags"`
		Limit int    `json:"limit"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return agent.ErrorResult("invalid parameters: %v", err), nil
		}
	}

	chatID := agent.ChatIDFromContext(ctx)
	if chatID == "" {
		return agent.ErrorResult("no chat context available"), nil
	}

	var tags []string
	for _, tag := range strings.Split(args.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	docs, err := t.index.Documents(ctx, chatID, tags, args.Limit)
	if err != nil {
		return agent.ErrorResult("fetching documents: %v", err), nil
	}
	if len(docs) == 0 {
		return &agent.ToolResult{Content: "No documents found."}, nil
	}

	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.Text)
	}
	return &agent.ToolResult{Content: strings.Join(texts, "\n\n---\n\n")}, nil
}
