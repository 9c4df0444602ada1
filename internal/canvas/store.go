package canvas

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("canvas: not found")
	ErrEmptyContent = errors.New("canvas: element content must not be empty")
)

// CrossCanvasError reports an attempt to link entities across canvas
// boundaries. The store is left unchanged when it is returned.
type CrossCanvasError struct {
	Op            string
	ElementID     string
	FrameID       string
	ElementCanvas string
	FrameCanvas   string
}

func (e *CrossCanvasError) Error() string {
	return fmt.Sprintf("canvas: %s: element %s belongs to canvas %s, frame %s belongs to canvas %s",
		e.Op, e.ElementID, e.ElementCanvas, e.FrameID, e.FrameCanvas)
}

// IsCrossCanvas reports whether err is a cross-canvas violation.
func IsCrossCanvas(err error) bool {
	var cce *CrossCanvasError
	return errors.As(err, &cce)
}

// Store is the contract for canvas persistence. Implementations must be
// safe for concurrent use; cross-canvas invariants are enforced inside a
// single transaction per mutation.
type Store interface {
	// GetOrCreateCanvasForChat resolves the canvas whose access rules
	// contain the chat's access key, creating one lazily on first use.
	// Idempotent under concurrent first access for the same chat.
	GetOrCreateCanvasForChat(ctx context.Context, chatID string) (*Canvas, error)

	// GetCanvas returns a canvas by id, or ErrNotFound.
	GetCanvas(ctx context.Context, id string) (*Canvas, error)

	// UpdateCanvasName renames a canvas.
	UpdateCanvasName(ctx context.Context, id, name string) error

	// AddElement creates an element; when req.FrameID is set, the frame
	// link is created atomically and the frame must belong to the same
	// canvas.
	AddElement(ctx context.Context, req AddElementRequest) (*Element, error)

	// GetElement returns an element with its frame links materialised,
	// or ErrNotFound.
	GetElement(ctx context.Context, id string) (*Element, error)

	// GetElements returns elements matching the query, newest first.
	// A missing canvas yields an empty result, not an error.
	GetElements(ctx context.Context, q ElementQuery) ([]*Element, error)

	// UpdateElement applies a partial update and returns the new state.
	UpdateElement(ctx context.Context, id string, upd ElementUpdate) (*Element, error)

	// CreateFrame creates a frame; parentID, when set, must reference a
	// frame of the same canvas.
	CreateFrame(ctx context.Context, canvasID, parentID, name string, meta map[string]any) (*Frame, error)

	// GetFrame returns a frame by id, or ErrNotFound.
	GetFrame(ctx context.Context, id string) (*Frame, error)

	// UpdateFrame applies a partial update and returns the new state.
	UpdateFrame(ctx context.Context, id string, upd FrameUpdate) (*Frame, error)

	// DeleteFrame removes a frame and its element links. Elements persist.
	DeleteFrame(ctx context.Context, id string) error

	// ListFrames returns all frames of a canvas.
	ListFrames(ctx context.Context, canvasID string) ([]*Frame, error)

	// AddElementToFrame links an element to a frame of the same canvas.
	// Returns false when the link already existed.
	AddElementToFrame(ctx context.Context, elementID, frameID string) (bool, error)

	// RemoveElementFromFrame removes the link; a missing link is not an
	// error.
	RemoveElementFromFrame(ctx context.Context, elementID, frameID string) error

	// Close releases store resources.
	Close() error
}
