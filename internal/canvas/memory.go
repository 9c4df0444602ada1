package canvas

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory. Used in tests and as a fallback
// when no database path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	canvases map[string]*Canvas
	frames   map[string]*Frame
	elements map[string]*Element
	links    map[string]map[string]bool // element id -> frame ids
}

// NewMemoryStore creates an empty in-memory canvas store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		canvases: make(map[string]*Canvas),
		frames:   make(map[string]*Frame),
		elements: make(map[string]*Element),
		links:    make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetOrCreateCanvasForChat(_ context.Context, chatID string) (*Canvas, error) {
	key := AccessKeyForChat(chatID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.canvases {
		for _, rule := range c.AccessRules {
			if rule == key {
				return copyCanvas(c), nil
			}
		}
	}

	c := &Canvas{
		ID:          uuid.NewString(),
		AccessRules: []string{key},
		CreatedAt:   time.Now().UTC(),
	}
	s.canvases[c.ID] = c
	return copyCanvas(c), nil
}

func (s *MemoryStore) GetCanvas(_ context.Context, id string) (*Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.canvases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCanvas(c), nil
}

func (s *MemoryStore) UpdateCanvasName(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.canvases[id]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	return nil
}

func (s *MemoryStore) AddElement(_ context.Context, req AddElementRequest) (*Element, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.FrameID != "" {
		f, ok := s.frames[req.FrameID]
		if !ok {
			return nil, ErrNotFound
		}
		if f.CanvasID != req.CanvasID {
			return nil, &CrossCanvasError{
				Op:            "add element",
				FrameID:       req.FrameID,
				ElementCanvas: req.CanvasID,
				FrameCanvas:   f.CanvasID,
			}
		}
	}

	el := &Element{
		ID:         req.ElementID,
		CanvasID:   req.CanvasID,
		Type:       req.Type,
		Content:    req.Content,
		CreatedBy:  req.CreatedBy,
		Attributes: req.Attributes,
		CreatedAt:  time.Now().UTC(),
	}
	if el.ID == "" {
		el.ID = uuid.NewString()
	}
	if el.Type == "" {
		el.Type = "message"
	}

	s.elements[el.ID] = el
	if req.FrameID != "" {
		s.link(el.ID, req.FrameID)
	}
	return s.copyElement(el), nil
}

func (s *MemoryStore) GetElement(_ context.Context, id string) (*Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.elements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyElement(el), nil
}

func (s *MemoryStore) GetElements(_ context.Context, q ElementQuery) ([]*Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Element
	for _, el := range s.elements {
		if el.CanvasID != q.CanvasID {
			continue
		}
		if q.Type != "" && el.Type != q.Type {
			continue
		}
		if q.Since != nil && el.CreatedAt.Before(*q.Since) {
			continue
		}
		if q.FrameID != "" && !s.links[el.ID][q.FrameID] {
			continue
		}
		out = append(out, s.copyElement(el))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateElement(_ context.Context, id string, upd ElementUpdate) (*Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[id]
	if !ok {
		return nil, ErrNotFound
	}

	if upd.Name != nil {
		el.Name = *upd.Name
	}
	if upd.Content != nil {
		if strings.TrimSpace(*upd.Content) == "" {
			return nil, ErrEmptyContent
		}
		el.Content = *upd.Content
	}
	if upd.Type != nil {
		el.Type = *upd.Type
	}
	if len(upd.AttributesSet) > 0 || len(upd.AttributesRemove) > 0 {
		if el.Attributes == nil {
			el.Attributes = make(map[string]any)
		}
		for k, v := range upd.AttributesSet {
			el.Attributes[k] = v
		}
		for _, k := range upd.AttributesRemove {
			delete(el.Attributes, k)
		}
	}
	return s.copyElement(el), nil
}

func (s *MemoryStore) CreateFrame(_ context.Context, canvasID, parentID, name string, meta map[string]any) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != "" {
		parent, ok := s.frames[parentID]
		if !ok {
			return nil, ErrNotFound
		}
		if parent.CanvasID != canvasID {
			return nil, &CrossCanvasError{
				Op:            "create frame",
				FrameID:       parentID,
				ElementCanvas: canvasID,
				FrameCanvas:   parent.CanvasID,
			}
		}
	}

	f := &Frame{
		ID:       uuid.NewString(),
		CanvasID: canvasID,
		ParentID: parentID,
		Name:     name,
		Meta:     meta,
	}
	s.frames[f.ID] = f
	return copyFrame(f), nil
}

func (s *MemoryStore) GetFrame(_ context.Context, id string) (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFrame(f), nil
}

func (s *MemoryStore) UpdateFrame(_ context.Context, id string, upd FrameUpdate) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		f.Name = *upd.Name
	}
	if upd.Meta != nil {
		f.Meta = upd.Meta
	}
	return copyFrame(f), nil
}

func (s *MemoryStore) DeleteFrame(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[id]; !ok {
		return ErrNotFound
	}
	delete(s.frames, id)
	for elementID := range s.links {
		delete(s.links[elementID], id)
	}
	return nil
}

func (s *MemoryStore) ListFrames(_ context.Context, canvasID string) ([]*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Frame
	for _, f := range s.frames {
		if f.CanvasID == canvasID {
			out = append(out, copyFrame(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) AddElementToFrame(_ context.Context, elementID, frameID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[elementID]
	if !ok {
		return false, ErrNotFound
	}
	f, ok := s.frames[frameID]
	if !ok {
		return false, ErrNotFound
	}
	if el.CanvasID != f.CanvasID {
		return false, &CrossCanvasError{
			Op:            "add element to frame",
			ElementID:     elementID,
			FrameID:       frameID,
			ElementCanvas: el.CanvasID,
			FrameCanvas:   f.CanvasID,
		}
	}

	if s.links[elementID][frameID] {
		return false, nil
	}
	s.link(elementID, frameID)
	return true, nil
}

func (s *MemoryStore) RemoveElementFromFrame(_ context.Context, elementID, frameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links[elementID], frameID)
	return nil
}

func (s *MemoryStore) link(elementID, frameID string) {
	if s.links[elementID] == nil {
		s.links[elementID] = make(map[string]bool)
	}
	s.links[elementID][frameID] = true
}

func (s *MemoryStore) copyElement(el *Element) *Element {
	out := *el
	out.Attributes = copyMap(el.Attributes)
	out.FrameIDs = nil
	for frameID := range s.links[el.ID] {
		out.FrameIDs = append(out.FrameIDs, frameID)
	}
	sort.Strings(out.FrameIDs)
	return &out
}

func copyCanvas(c *Canvas) *Canvas {
	out := *c
	out.AccessRules = append([]string(nil), c.AccessRules...)
	return &out
}

func copyFrame(f *Frame) *Frame {
	out := *f
	out.Meta = copyMap(f.Meta)
	return &out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
