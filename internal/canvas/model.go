// Package canvas implements the durable workspace model: a Canvas is the
// tenancy root for a chat, holding Frames (named groupings that may form a
// tree) and Elements (units of content) linked many-to-many.
package canvas

import (
	"fmt"
	"time"
)

// AccessKeyForChat returns the access rule granting a Telegram chat its canvas.
func AccessKeyForChat(chatID string) string {
	return fmt.Sprintf("telegram:chat:%s", chatID)
}

// Canvas is the per-chat workspace and tenancy boundary. Every frame and
// element belongs to exactly one canvas.
type Canvas struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	AccessRules []string  `json:"access_rules"`
	CreatedAt   time.Time `json:"created_at"`
}

// Frame is a named grouping within a canvas. Frames may nest via ParentID;
// a parent is always a frame of the same canvas.
type Frame struct {
	ID       string         `json:"id"`
	CanvasID string         `json:"canvas_id"`
	ParentID string         `json:"parent_id,omitempty"`
	Name     string         `json:"name"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Element is a unit of content within a canvas. Type is an open set:
// "message", "voice", "note", "image", "file", "task", ...
//
// Attributes is a free-form bag; well-known keys include "source",
// "source_msg_id", "author_id", "author_nick", "author_name", "file_path",
// "mime_type" and "is_forward".
type Element struct {
	ID         string         `json:"id"`
	CanvasID   string         `json:"canvas_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Content    string         `json:"content"`
	CreatedBy  string         `json:"created_by"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	// FrameIDs holds the ids of frames this element is linked to. Stores
	// materialise the links eagerly so consumers never chase them.
	FrameIDs []string `json:"frame_ids,omitempty"`
}

// AddElementRequest carries the parameters for Store.AddElement.
type AddElementRequest struct {
	// ElementID is optional; a random id is assigned when empty.
	ElementID  string
	CanvasID   string
	Type       string
	Content    string
	CreatedBy  string
	Attributes map[string]any

	// FrameID optionally links the new element to a frame of the same
	// canvas atomically with its creation.
	FrameID string
}

// ElementQuery selects elements of a canvas. Results are ordered newest
// first by CreatedAt; callers re-sort if they need chronological order.
type ElementQuery struct {
	CanvasID string
	Limit    int
	Offset   int
	Type     string
	Since    *time.Time
	FrameID  string
}

// ElementUpdate describes a partial update of an element. Nil fields are
// left untouched; AttributesSet merges keys in, AttributesRemove deletes.
type ElementUpdate struct {
	Name             *string
	Content          *string
	Type             *string
	AttributesSet    map[string]any
	AttributesRemove []string
}

// FrameUpdate describes a partial update of a frame.
type FrameUpdate struct {
	Name *string
	Meta map[string]any
}
