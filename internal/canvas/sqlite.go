package canvas

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS canvases (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS canvas_access_rules (
	canvas_id TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
	rule TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (canvas_id, rule)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_canvas_access_rule ON canvas_access_rules(rule);
CREATE TABLE IF NOT EXISTS canvas_frames (
	id TEXT PRIMARY KEY,
	canvas_id TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
	parent_id TEXT,
	name TEXT NOT NULL,
	meta TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_frames_canvas ON canvas_frames(canvas_id);
CREATE TABLE IF NOT EXISTS canvas_elements (
	id TEXT PRIMARY KEY,
	canvas_id TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_elements_canvas_created ON canvas_elements(canvas_id, created_at DESC);
CREATE TABLE IF NOT EXISTS canvas_element_frame_links (
	element_id TEXT NOT NULL REFERENCES canvas_elements(id) ON DELETE CASCADE,
	frame_id TEXT NOT NULL REFERENCES canvas_frames(id) ON DELETE CASCADE,
	PRIMARY KEY (element_id, frame_id)
);
`

// NewSQLiteStore opens (creating if needed) a canvas database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("canvas: database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Serialised writes keep cross-canvas checks and link inserts atomic
	// without busy-retry loops.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreateCanvasForChat(ctx context.Context, chatID string) (*Canvas, error) {
	key := AccessKeyForChat(chatID)

	for attempt := 0; attempt < 2; attempt++ {
		c, err := s.canvasByAccessRule(ctx, key)
		if err == nil {
			return c, nil
		}
		if err != ErrNotFound {
			return nil, err
		}

		created, err := s.createCanvasWithRule(ctx, key)
		if err == nil {
			return created, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		// Lost the creation race; loop re-resolves the winner's row.
	}

	return s.canvasByAccessRule(ctx, key)
}

func (s *SQLiteStore) createCanvasWithRule(ctx context.Context, rule string) (*Canvas, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c := &Canvas{
		ID:          uuid.NewString(),
		AccessRules: []string{rule},
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO canvases (id, name, created_at) VALUES (?, ?, ?)`,
		c.ID, c.Name, formatTime(c.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("create canvas: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO canvas_access_rules (canvas_id, rule, position) VALUES (?, ?, 0)`,
		c.ID, rule,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) canvasByAccessRule(ctx context.Context, rule string) (*Canvas, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT canvas_id FROM canvas_access_rules WHERE rule = ?`, rule)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve canvas by rule: %w", err)
	}
	return s.GetCanvas(ctx, id)
}

func (s *SQLiteStore) GetCanvas(ctx context.Context, id string) (*Canvas, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM canvases WHERE id = ?`, id)

	var c Canvas
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get canvas: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)

	rules, err := s.db.QueryContext(ctx,
		`SELECT rule FROM canvas_access_rules WHERE canvas_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list access rules: %w", err)
	}
	defer rules.Close()
	for rules.Next() {
		var rule string
		if err := rules.Scan(&rule); err != nil {
			return nil, fmt.Errorf("scan access rule: %w", err)
		}
		c.AccessRules = append(c.AccessRules, rule)
	}
	if err := rules.Err(); err != nil {
		return nil, fmt.Errorf("list access rules: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateCanvasName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE canvases SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("update canvas: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddElement(ctx context.Context, req AddElementRequest) (*Element, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if req.FrameID != "" {
		frameCanvas, err := frameCanvasID(ctx, tx, req.FrameID)
		if err != nil {
			return nil, err
		}
		if frameCanvas != req.CanvasID {
			return nil, &CrossCanvasError{
				Op:            "add element",
				FrameID:       req.FrameID,
				ElementCanvas: req.CanvasID,
				FrameCanvas:   frameCanvas,
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

	attrs, err := json.Marshal(attributesOrEmpty(el.Attributes))
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO canvas_elements (id, canvas_id, type, name, content, created_by, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		el.ID, el.CanvasID, el.Type, el.Name, el.Content, el.CreatedBy, string(attrs), formatTime(el.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("create element: %w", err)
	}

	if req.FrameID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO canvas_element_frame_links (element_id, frame_id) VALUES (?, ?)`,
			el.ID, req.FrameID,
		); err != nil {
			return nil, fmt.Errorf("link element to frame: %w", err)
		}
		el.FrameIDs = []string{req.FrameID}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *SQLiteStore) GetElement(ctx context.Context, id string) (*Element, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, canvas_id, type, name, content, created_by, attributes, created_at
		FROM canvas_elements WHERE id = ?`, id)

	el, err := scanElement(row)
	if err != nil {
		return nil, err
	}
	if el.FrameIDs, err = s.elementFrameIDs(ctx, el.ID); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *SQLiteStore) GetElements(ctx context.Context, q ElementQuery) ([]*Element, error) {
	query := `
		SELECT e.id, e.canvas_id, e.type, e.name, e.content, e.created_by, e.attributes, e.created_at
		FROM canvas_elements e`
	args := []any{}

	if q.FrameID != "" {
		query += ` JOIN canvas_element_frame_links l ON l.element_id = e.id AND l.frame_id = ?`
		args = append(args, q.FrameID)
	}

	query += ` WHERE e.canvas_id = ?`
	args = append(args, q.CanvasID)

	if q.Type != "" {
		query += ` AND e.type = ?`
		args = append(args, q.Type)
	}
	if q.Since != nil {
		query += ` AND e.created_at >= ?`
		args = append(args, formatTime(q.Since.UTC()))
	}

	query += ` ORDER BY e.created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	defer rows.Close()

	var elements []*Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}

	for _, el := range elements {
		if el.FrameIDs, err = s.elementFrameIDs(ctx, el.ID); err != nil {
			return nil, err
		}
	}
	return elements, nil
}

func (s *SQLiteStore) UpdateElement(ctx context.Context, id string, upd ElementUpdate) (*Element, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, canvas_id, type, name, content, created_by, attributes, created_at
		FROM canvas_elements WHERE id = ?`, id)
	el, err := scanElement(row)
	if err != nil {
		return nil, err
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

	attrs, err := json.Marshal(attributesOrEmpty(el.Attributes))
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE canvas_elements SET type = ?, name = ?, content = ?, attributes = ? WHERE id = ?`,
		el.Type, el.Name, el.Content, string(attrs), el.ID,
	); err != nil {
		return nil, fmt.Errorf("update element: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if el.FrameIDs, err = s.elementFrameIDs(ctx, el.ID); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *SQLiteStore) CreateFrame(ctx context.Context, canvasID, parentID, name string, meta map[string]any) (*Frame, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if parentID != "" {
		parentCanvas, err := frameCanvasID(ctx, tx, parentID)
		if err != nil {
			return nil, err
		}
		if parentCanvas != canvasID {
			return nil, &CrossCanvasError{
				Op:            "create frame",
				FrameID:       parentID,
				ElementCanvas: canvasID,
				FrameCanvas:   parentCanvas,
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

	metaJSON, err := json.Marshal(attributesOrEmpty(f.Meta))
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO canvas_frames (id, canvas_id, parent_id, name, meta) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.CanvasID, nullString(f.ParentID), f.Name, string(metaJSON),
	); err != nil {
		return nil, fmt.Errorf("create frame: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) GetFrame(ctx context.Context, id string) (*Frame, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, canvas_id, parent_id, name, meta FROM canvas_frames WHERE id = ?`, id)
	return scanFrame(row)
}

func (s *SQLiteStore) UpdateFrame(ctx context.Context, id string, upd FrameUpdate) (*Frame, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, canvas_id, parent_id, name, meta FROM canvas_frames WHERE id = ?`, id)
	f, err := scanFrame(row)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		f.Name = *upd.Name
	}
	if upd.Meta != nil {
		f.Meta = upd.Meta
	}

	metaJSON, err := json.Marshal(attributesOrEmpty(f.Meta))
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE canvas_frames SET name = ?, meta = ? WHERE id = ?`,
		f.Name, string(metaJSON), f.ID,
	); err != nil {
		return nil, fmt.Errorf("update frame: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) DeleteFrame(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM canvas_element_frame_links WHERE frame_id = ?`, id); err != nil {
		return fmt.Errorf("delete frame links: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM canvas_frames WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete frame: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListFrames(ctx context.Context, canvasID string) ([]*Frame, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, canvas_id, parent_id, name, meta FROM canvas_frames WHERE canvas_id = ? ORDER BY name`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []*Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	return frames, nil
}

func (s *SQLiteStore) AddElementToFrame(ctx context.Context, elementID, frameID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	elementCanvas, err := elementCanvasID(ctx, tx, elementID)
	if err != nil {
		return false, err
	}
	frameCanvas, err := frameCanvasID(ctx, tx, frameID)
	if err != nil {
		return false, err
	}
	if elementCanvas != frameCanvas {
		return false, &CrossCanvasError{
			Op:            "add element to frame",
			ElementID:     elementID,
			FrameID:       frameID,
			ElementCanvas: elementCanvas,
			FrameCanvas:   frameCanvas,
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO canvas_element_frame_links (element_id, frame_id) VALUES (?, ?)`,
		elementID, frameID)
	if err != nil {
		return false, fmt.Errorf("link element to frame: %w", err)
	}
	rows, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStore) RemoveElementFromFrame(ctx context.Context, elementID, frameID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM canvas_element_frame_links WHERE element_id = ? AND frame_id = ?`,
		elementID, frameID)
	if err != nil {
		return fmt.Errorf("unlink element from frame: %w", err)
	}
	return nil
}

func (s *SQLiteStore) elementFrameIDs(ctx context.Context, elementID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT frame_id FROM canvas_element_frame_links WHERE element_id = ?`, elementID)
	if err != nil {
		return nil, fmt.Errorf("list element frames: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan frame link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanElement(row scannable) (*Element, error) {
	var el Element
	var attrs, createdAt string
	if err := row.Scan(&el.ID, &el.CanvasID, &el.Type, &el.Name, &el.Content, &el.CreatedBy, &attrs, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan element: %w", err)
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &el.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	el.CreatedAt = parseTime(createdAt)
	return &el, nil
}

func scanFrame(row scannable) (*Frame, error) {
	var f Frame
	var parentID sql.NullString
	var meta string
	if err := row.Scan(&f.ID, &f.CanvasID, &parentID, &f.Name, &meta); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan frame: %w", err)
	}
	f.ParentID = parentID.String
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &f.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return &f, nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func elementCanvasID(ctx context.Context, q execer, elementID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT canvas_id FROM canvas_elements WHERE id = ?`, elementID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve element canvas: %w", err)
	}
	return id, nil
}

func frameCanvasID(ctx context.Context, q execer, frameID string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT canvas_id FROM canvas_frames WHERE id = ?`, frameID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve frame canvas: %w", err)
	}
	return id, nil
}

func attributesOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

// timeLayout is RFC 3339 with fixed-width nanoseconds so that stored
// timestamps order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
