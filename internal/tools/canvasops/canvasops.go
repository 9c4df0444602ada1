// Package canvasops implements the canvas management tools: canvas and
// frame naming, frame listing, element creation and editing, and
// element/frame linking. Every operation is scoped to the calling chat's
// canvas; entities from other canvases are rejected.
package canvasops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/canvas"
)

// Tools returns the full canvas operation tool set backed by store.
func Tools(store canvas.Store) []agent.Tool {
	return []agent.Tool{
		&CanvasInfoTool{store: store},
		&SetCanvasNameTool{store: store},
		&CreateFrameTool{store: store},
		&SetFrameNameTool{store: store},
		&ListFramesTool{store: store},
		&CreateElementTool{store: store},
		&EditElementTool{store: store},
		&SetElementNameTool{store: store},
		&AddElementToFrameTool{store: store},
		&RemoveElementFromFrameTool{store: store},
	}
}

// chatCanvas resolves the calling chat's canvas from the session context.
func chatCanvas(ctx context.Context, store canvas.Store) (*canvas.Canvas, *agent.ToolResult) {
	chatID := agent.ChatIDFromContext(ctx)
	if chatID == "" {
		return nil, agent.ErrorResult("no chat context available")
	}
	cv, err := store.GetOrCreateCanvasForChat(ctx, chatID)
	if err != nil {
		return nil, agent.ErrorResult("resolving canvas: %v", err)
	}
	return cv, nil
}

// frameInCanvas loads a frame and verifies it belongs to the chat's canvas.
func frameInCanvas(ctx context.Context, store canvas.Store, cv *canvas.Canvas, frameID string) (*canvas.Frame, *agent.ToolResult) {
	frame, err := store.GetFrame(ctx, frameID)
	if err != nil {
		return nil, agent.ErrorResult("frame %s not found", frameID)
	}
	if frame.CanvasID != cv.ID {
		return nil, agent.ErrorResult("frame %s belongs to another canvas", frameID)
	}
	return frame, nil
}

// elementInCanvas loads an element and verifies it belongs to the chat's canvas.
func elementInCanvas(ctx context.Context, store canvas.Store, cv *canvas.Canvas, elementID string) (*canvas.Element, *agent.ToolResult) {
	el, err := store.GetElement(ctx, elementID)
	if err != nil {
		return nil, agent.ErrorResult("element %s not found", elementID)
	}
	if el.CanvasID != cv.ID {
		return nil, agent.ErrorResult("element %s belongs to another canvas", elementID)
	}
	return el, nil
}

func ok(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...)}
}

// CanvasInfoTool reports the chat's canvas id and name.
type CanvasInfoTool struct {
	store canvas.Store
}

func (t *CanvasInfoTool) Name() string { return "get_current_canvas_info" }

func (t *CanvasInfoTool) Description() string {
	return "Returns the ID and name of the current chat's canvas."
}

func (t *CanvasInfoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *CanvasInfoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	name := cv.Name
	if name == "" {
		name = "Unnamed"
	}
	return ok("Canvas ID: %s\nName: %s", cv.ID, name), nil
}

// SetCanvasNameTool renames the chat's canvas.
type SetCanvasNameTool struct {
	store canvas.Store
}

func (t *SetCanvasNameTool) Name() string { return "set_canvas_name" }

func (t *SetCanvasNameTool) Description() string {
	return "Sets the name of the current chat's canvas."
}

func (t *SetCanvasNameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "New canvas name"}
		},
		"required": ["name"]
	}`)
}

func (t *SetCanvasNameTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(args.Name) == "" {
		return agent.ErrorResult("name is required"), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if err := t.store.UpdateCanvasName(ctx, cv.ID, args.Name); err != nil {
		return agent.ErrorResult("renaming canvas: %v", err), nil
	}
	return ok("Canvas renamed to: %s", args.Name), nil
}

// CreateFrameTool creates a frame, optionally nested under a parent frame.
type CreateFrameTool struct {
	store canvas.Store
}

func (t *CreateFrameTool) Name() string { return "create_canvas_frame" }

func (t *CreateFrameTool) Description() string {
	return "Creates a new frame in the current chat's canvas. Frames group related elements and may nest."
}

func (t *CreateFrameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Frame name"},
			"parent_frame_id": {"type": "string", "description": "Optional parent frame ID for nesting"}
		},
		"required": ["name"]
	}`)
}

func (t *CreateFrameTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Name          string `json:"name"`
		ParentFrameID string `json:"parent_frame_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(args.Name) == "" {
		return agent.ErrorResult("name is required"), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if args.ParentFrameID != "" {
		if _, fail := frameInCanvas(ctx, t.store, cv, args.ParentFrameID); fail != nil {
			return fail, nil
		}
	}

	frame, err := t.store.CreateFrame(ctx, cv.ID, args.ParentFrameID, args.Name, nil)
	if err != nil {
		return agent.ErrorResult("creating frame: %v", err), nil
	}
	return ok("Frame created: %s (ID: %s)", frame.Name, frame.ID), nil
}

// SetFrameNameTool renames a frame of the chat's canvas.
type SetFrameNameTool struct {
	store canvas.Store
}

func (t *SetFrameNameTool) Name() string { return "set_frame_name" }

func (t *SetFrameNameTool) Description() string {
	return "Renames a frame in the current chat's canvas."
}

func (t *SetFrameNameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"frame_id": {"type": "string", "description": "Frame ID"},
			"name": {"type": "string", "description": "New frame name"}
		},
		"required": ["frame_id", "name"]
	}`)
}

func (t *SetFrameNameTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		FrameID string `json:"frame_id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if _, fail := frameInCanvas(ctx, t.store, cv, args.FrameID); fail != nil {
		return fail, nil
	}

	updated, err := t.store.UpdateFrame(ctx, args.FrameID, canvas.FrameUpdate{Name: &args.Name})
	if err != nil {
		return agent.ErrorResult("renaming frame: %v", err), nil
	}
	return ok("Frame renamed to: %s", updated.Name), nil
}

// ListFramesTool lists all frames of the chat's canvas.
type ListFramesTool struct {
	store canvas.Store
}

func (t *ListFramesTool) Name() string { return "list_canvas_frames" }

func (t *ListFramesTool) Description() string {
	return "Lists all frames in the current chat's canvas with their IDs and parents."
}

func (t *ListFramesTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ListFramesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}

	frames, err := t.store.ListFrames(ctx, cv.ID)
	if err != nil {
		return agent.ErrorResult("listing frames: %v", err), nil
	}
	if len(frames) == 0 {
		return ok("No frames found."), nil
	}

	var b strings.Builder
	for i, f := range frames {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("- %s [ID: %s]", f.Name, f.ID))
		if f.ParentID != "" {
			b.WriteString(fmt.Sprintf(" (Parent: %s)", f.ParentID))
		}
	}
	return ok("%s", b.String()), nil
}

// CreateElementTool creates a new element on the chat's canvas.
type CreateElementTool struct {
	store canvas.Store
}

func (t *CreateElementTool) Name() string { return "create_element" }

func (t *CreateElementTool) Description() string {
	return "Creates a new element (note, task, etc.) on the current chat's canvas, optionally placed in a frame."
}

func (t *CreateElementTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Element content"},
			"type": {"type": "string", "description": "Element type, e.g. 'note' or 'task' (default 'note')"},
			"created_by": {"type": "string", "description": "Creator trace (defaults to the managing agent)"},
			"attributes": {"type": "object", "description": "Free-form attributes"},
			"frame_id": {"type": "string", "description": "Optional frame to place the element in"}
		},
		"required": ["content"]
	}`)
}

func (t *CreateElementTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Content    string         `json:"content"`
		Type       string         `json:"type"`
		CreatedBy  string         `json:"created_by"`
		Attributes map[string]any `json:"attributes"`
		FrameID    string         `json:"frame_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(args.Content) == "" {
		return agent.ErrorResult("content is required"), nil
	}
	if args.Type == "" {
		args.Type = "note"
	}
	if args.CreatedBy == "" {
		args.CreatedBy = "agent:canvas_manager"
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if args.FrameID != "" {
		if _, fail := frameInCanvas(ctx, t.store, cv, args.FrameID); fail != nil {
			return fail, nil
		}
	}

	el, err := t.store.AddElement(ctx, canvas.AddElementRequest{
		CanvasID:   cv.ID,
		Type:       args.Type,
		Content:    args.Content,
		CreatedBy:  args.CreatedBy,
		Attributes: args.Attributes,
		FrameID:    args.FrameID,
	})
	if err != nil {
		if canvas.IsCrossCanvas(err) {
			return agent.ErrorResult("frame %s belongs to another canvas", args.FrameID), nil
		}
		return agent.ErrorResult("creating element: %v", err), nil
	}
	return ok("Element created (ID: %s)", el.ID), nil
}

// EditElementTool applies a partial update to an element.
type EditElementTool struct {
	store canvas.Store
}

func (t *EditElementTool) Name() string { return "edit_element" }

func (t *EditElementTool) Description() string {
	return "Edits an element on the current chat's canvas: name, content, type, or attributes."
}

func (t *EditElementTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"element_id": {"type": "string", "description": "Element ID"},
			"name": {"type": "string", "description": "New name"},
			"content": {"type": "string", "description": "New content"},
			"type": {"type": "string", "description": "New type"},
			"attributes_set": {"type": "object", "description": "Attribute keys to set or overwrite"},
			"attributes_remove": {"type": "array", "items": {"type": "string"}, "description": "Attribute keys to delete"}
		},
		"required": ["element_id"]
	}`)
}

func (t *EditElementTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		ElementID        string         `json:"element_id"`
		Name             *string        `json:"name"`
		Content          *string        `json:"content"`
		Type             *string        `json:"type"`
		AttributesSet    map[string]any `json:"attributes_set"`
		AttributesRemove []string       `json:"attributes_remove"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}
	if args.Name == nil && args.Content == nil && args.Type == nil &&
		len(args.AttributesSet) == 0 && len(args.AttributesRemove) == 0 {
		return agent.ErrorResult("nothing to update"), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if _, fail := elementInCanvas(ctx, t.store, cv, args.ElementID); fail != nil {
		return fail, nil
	}

	if _, err := t.store.UpdateElement(ctx, args.ElementID, canvas.ElementUpdate{
		Name:             args.Name,
		Content:          args.Content,
		Type:             args.Type,
		AttributesSet:    args.AttributesSet,
		AttributesRemove: args.AttributesRemove,
	}); err != nil {
		return agent.ErrorResult("updating element: %v", err), nil
	}
	return ok("Element updated."), nil
}

// SetElementNameTool gives an element a short human-readable name.
type SetElementNameTool struct {
	store canvas.Store
}

func (t *SetElementNameTool) Name() string { return "set_element_name" }

func (t *SetElementNameTool) Description() string {
	return "Sets a short human-readable name for an element."
}

func (t *SetElementNameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"element_id": {"type": "string", "description": "Element ID"},
			"name": {"type": "string", "description": "New element name"}
		},
		"required": ["element_id", "name"]
	}`)
}

func (t *SetElementNameTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		ElementID string `json:"element_id"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if _, fail := elementInCanvas(ctx, t.store, cv, args.ElementID); fail != nil {
		return fail, nil
	}

	updated, err := t.store.UpdateElement(ctx, args.ElementID, canvas.ElementUpdate{Name: &args.Name})
	if err != nil {
		return agent.ErrorResult("naming element: %v", err), nil
	}
	return ok("Element named: %s", updated.Name), nil
}

// AddElementToFrameTool links an element into a frame; idempotent.
type AddElementToFrameTool struct {
	store canvas.Store
}

func (t *AddElementToFrameTool) Name() string { return "add_element_to_frame" }

func (t *AddElementToFrameTool) Description() string {
	return "Adds an element to a frame. An element can be in multiple frames; adding twice is harmless."
}

func (t *AddElementToFrameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"element_id": {"type": "string", "description": "Element ID"},
			"frame_id": {"type": "string", "description": "Frame ID"}
		},
		"required": ["element_id", "frame_id"]
	}`)
}

func (t *AddElementToFrameTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		ElementID string `json:"element_id"`
		FrameID   string `json:"frame_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if _, fail := elementInCanvas(ctx, t.store, cv, args.ElementID); fail != nil {
		return fail, nil
	}
	if _, fail := frameInCanvas(ctx, t.store, cv, args.FrameID); fail != nil {
		return fail, nil
	}

	added, err := t.store.AddElementToFrame(ctx, args.ElementID, args.FrameID)
	if err != nil {
		if canvas.IsCrossCanvas(err) {
			return agent.ErrorResult("element and frame belong to different canvases"), nil
		}
		return agent.ErrorResult("adding element to frame: %v", err), nil
	}
	if !added {
		return ok("Element is already there (frame %s).", args.FrameID), nil
	}
	return ok("Element added to frame %s", args.FrameID), nil
}

// RemoveElementFromFrameTool unlinks an element from a frame.
type RemoveElementFromFrameTool struct {
	store canvas.Store
}

func (t *RemoveElementFromFrameTool) Name() string { return "remove_element_from_frame" }

func (t *RemoveElementFromFrameTool) Description() string {
	return "Removes an element from a frame. The element itself is kept."
}

func (t *RemoveElementFromFrameTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"element_id": {"type": "string", "description": "Element ID"},
			"frame_id": {"type": "string", "description": "Frame ID"}
		},
		"required": ["element_id", "frame_id"]
	}`)
}

func (t *RemoveElementFromFrameTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		ElementID string `json:"element_id"`
		FrameID   string `json:"frame_id"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return agent.ErrorResult("invalid parameters: %v", err), nil
	}

	cv, fail := chatCanvas(ctx, t.store)
	if fail != nil {
		return fail, nil
	}
	if _, fail := elementInCanvas(ctx, t.store, cv, args.ElementID); fail != nil {
		return fail, nil
	}
	if _, fail := frameInCanvas(ctx, t.store, cv, args.FrameID); fail != nil {
		return fail, nil
	}

	if err := t.store.RemoveElementFromFrame(ctx, args.ElementID, args.FrameID); err != nil {
		return agent.ErrorResult("removing element from frame: %v", err), nil
	}
	return ok("Element removed from frame %s", args.FrameID), nil
}
