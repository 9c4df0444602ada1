package elements

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/canvas"
)

const defaultLimit = 10

// FetchTool retrieves elements from the calling chat's canvas, filtered by
// time range, author and content. The chat is always taken from the
// session in context, never from tool arguments.
type FetchTool struct {
	store canvas.Store
	now   func() time.Time
}

// NewFetchTool creates the fetch_elements tool backed by the given store.
func NewFetchTool(store canvas.Store) *FetchTool {
	return &FetchTool{store: store, now: time.Now}
}

func (t *FetchTool) Name() string {
	return "fetch_elements"
}

func (t *FetchTool) Description() string {
	return "Fetches elements (messages, notes, files, etc.) from the chat's canvas history. " +
		"Supports time ranges like 'yesterday', 'today', '2 hours ago' or explicit ISO ranges, " +
		"plus substring filters on author and content. Results are sorted oldest first."
}

func (t *FetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {
				"type": "integer",
				"description": "Max number of elements to return (default 10). The newest matches are kept."
			},
			"time_range": {
				"type": "string",
				"description": "Time filter: 'yesterday', 'today', '2 hours ago', 'last 30 minutes', an ISO timestamp, or '<iso> to <iso>'"
			},
			"created_by": {
				"type": "string",
				"description": "Case-insensitive substring match on the creator id (e.g. 'user:123')"
			},
			"author": {
				"type": "string",
				"description": "Case-insensitive substring match on the author's display name or nickname"
			},
			"contains": {
				"type": "string",
				"description": "Case-insensitive substring search in element content"
			},
			"frame_id": {
				"type": "string",
				"description": "Only elements linked to this frame"
			},
			"include_details": {
				"type": "boolean",
				"description": "Include canvas_id, frame_ids and attributes in the results"
			}
		}
	}`)
}

type fetchArgs struct {
	Limit          int    `json:"limit"`
	TimeRange      string `json:"time_range"`
	CreatedBy      string `json:"created_by"`
	Author         string `json:"author"`
	Contains       string `json:"contains"`
	FrameID        string `json:"frame_id"`
	IncludeDetails bool   `json:"include_details"`
}

// elementView is the wire shape returned to the model. The compact form
// keeps transcripts readable; details are opt-in.
type elementView struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	CreatedAt  string         `json:"created_at"`
	Author     string         `json:"author"`
	Content    string         `json:"content"`
	CanvasID   string         `json:"canvas_id,omitempty"`
	FrameIDs   []string       `json:"frame_ids,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args fetchArgs
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return agent.ErrorResult("invalid parameters: %v", err), nil
		}
	}
	if args.Limit <= 0 {
		args.Limit = defaultLimit
	}

	chatID := agent.ChatIDFromContext(ctx)
	if chatID == "" {
		return agent.ErrorResult("no chat context available"), nil
	}

	start, end, err := ParseTimeRange(args.TimeRange, t.now())
	if err != nil {
		return agent.ErrorResult("invalid time_range: %v", err), nil
	}

	cv, err := t.store.GetOrCreateCanvasForChat(ctx, chatID)
	if err != nil {
		return agent.ErrorResult("resolving canvas: %v", err), nil
	}

	// The start bound pushes down to the store; the rest filters here.
	items, err := t.store.GetElements(ctx, canvas.ElementQuery{
		CanvasID: cv.ID,
		Since:    start,
		FrameID:  args.FrameID,
	})
	if err != nil {
		return agent.ErrorResult("fetching elements: %v", err), nil
	}

	filtered := items[:0:0]
	for _, el := range items {
		if end != nil && !el.CreatedAt.Before(*end) {
			continue
		}
		if args.CreatedBy != "" && !containsFold(el.CreatedBy, args.CreatedBy) {
			continue
		}
		if args.Author != "" && !matchesAuthor(el, args.Author) {
			continue
		}
		if args.Contains != "" && !containsFold(el.Content, args.Contains) {
			continue
		}
		filtered = append(filtered, el)
	}

	// Keep the newest matches, then present them oldest first.
	if len(filtered) > args.Limit {
		filtered = filtered[:args.Limit]
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	views := make([]elementView, 0, len(filtered))
	for _, el := range filtered {
		view := elementView{
			ID:        el.ID,
			Type:      el.Type,
			CreatedAt: el.CreatedAt.UTC().Format(time.RFC3339),
			Author:    el.CreatedBy,
			Content:   el.Content,
		}
		if args.IncludeDetails {
			view.CanvasID = el.CanvasID
			view.FrameIDs = el.FrameIDs
			view.Attributes = el.Attributes
		}
		views = append(views, view)
	}

	out, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return agent.ErrorResult("encoding result: %v", err), nil
	}
	return &agent.ToolResult{Content: string(out)}, nil
}

// matchesAuthor checks the element's display identity attributes.
func matchesAuthor(el *canvas.Element, author string) bool {
	for _, key := range []string{"author_name", "author_nick"} {
		if v, ok := el.Attributes[key].(string); ok && containsFold(v, author) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
