// Package knowledge implements the per-chat knowledge base: an embedded
// vector index over ingested documents, strictly partitioned by chat so a
// search can never surface another chat's material.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// Document is one stored knowledge fragment.
type Document struct {
	ID        string
	Text      string
	Source    string
	Tags      []string
	CreatedAt time.Time
}

// Result is a search hit with its cosine similarity.
type Result struct {
	Document
	Score float32
}

// Config configures an Index.
type Config struct {
	// PersistPath enables on-disk persistence when set; otherwise the
	// index lives in memory.
	PersistPath string

	// Compress gzips the persisted files.
	Compress bool

	// Embedding computes document and query vectors. Required.
	Embedding chromem.EmbeddingFunc
}

// Index is a chat-partitioned vector store. One chromem collection per
// chat keeps the partitions hard: a query is only ever run against the
// caller's collection.
type Index struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
	now   func() time.Time

	mu sync.RWMutex
	// docs mirrors the documents added in this process, in insertion
	// order per chat. Similarity search covers the full persisted
	// corpus; plain listing covers what this process has seen.
	docs map[string][]Document
}

// NewIndex creates an index from the given configuration.
func NewIndex(cfg Config) (*Index, error) {
	if cfg.Embedding == nil {
		return nil, errors.New("knowledge: embedding function is required")
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("knowledge: opening persistent index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Index{
		db:    db,
		embed: cfg.Embedding,
		now:   time.Now,
		docs:  make(map[string][]Document),
	}, nil
}

func collectionName(chatID string) string {
	return "chat-" + chatID
}

func (i *Index) collection(chatID string) (*chromem.Collection, error) {
	col, err := i.db.GetOrCreateCollection(collectionName(chatID), map[string]string{"chat_id": chatID}, i.embed)
	if err != nil {
		return nil, fmt.Errorf("knowledge: collection for chat %s: %w", chatID, err)
	}
	return col, nil
}

// Add stores a document in the chat's partition. An empty ID gets a
// random one; an existing ID overwrites the previous document.
func (i *Index) Add(ctx context.Context, chatID string, doc Document) (Document, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return Document{}, errors.New("knowledge: document text must not be empty")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = i.now().UTC()
	}

	col, err := i.collection(chatID)
	if err != nil {
		return Document{}, err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:      doc.ID,
		Content: doc.Text,
		Metadata: map[string]string{
			"source":     doc.Source,
			"tags":       strings.Join(doc.Tags, ","),
			"created_at": doc.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return Document{}, fmt.Errorf("knowledge: adding document: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	list := i.docs[chatID]
	for n, existing := range list {
		if existing.ID == doc.ID {
			list[n] = doc
			return doc, nil
		}
	}
	i.docs[chatID] = append(list, doc)
	return doc, nil
}

// Search runs a similarity query against the chat's partition and returns
// up to limit hits, best first.
func (i *Index) Search(ctx context.Context, chatID, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("knowledge: query must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}

	col, err := i.collection(chatID)
	if err != nil {
		return nil, err
	}
	if n := col.Count(); n == 0 {
		return nil, nil
	} else if limit > n {
		limit = n
	}

	hits, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Document: documentFromHit(hit),
			Score:    hit.Similarity,
		})
	}
	return results, nil
}

func documentFromHit(hit chromem.Result) Document {
	doc := Document{
		ID:     hit.ID,
		Text:   hit.Content,
		Source: hit.Metadata["source"],
	}
	if tags := hit.Metadata["tags"]; tags != "" {
		doc.Tags = strings.Split(tags, ",")
	}
	if ts, err := time.Parse(time.RFC3339, hit.Metadata["created_at"]); err == nil {
		doc.CreatedAt = ts
	}
	return doc
}

// Documents lists the chat's documents in insertion order, optionally
// keeping only those carrying at least one of the given tags.
func (i *Index) Documents(ctx context.Context, chatID string, tags []string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []Document
	for _, doc := range i.docs[chatID] {
		if len(tags) > 0 && !hasAnyTag(doc, tags) {
			continue
		}
		out = append(out, doc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func hasAnyTag(doc Document, tags []string) bool {
	for _, want := range tags {
		for _, have := range doc.Tags {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
