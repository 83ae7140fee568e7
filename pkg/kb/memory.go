package kb

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Document is a stored piece of knowledge.
type Document struct {
	ID       string
	Title    string
	Content  string
	Tags     []string
	Metadata map[string]string
}

// MemorySource holds documents in memory.
type MemorySource struct {
	mu   sync.RWMutex
	id   string
	docs []Document
}

// MemoryOption configures a MemorySource.
type MemoryOption func(*MemorySource)

// WithDocuments seeds the source with documents.
func WithDocuments(docs ...Document) MemoryOption {
	return func(m *MemorySource) {
		for _, doc := range docs {
			m.add(doc)
		}
	}
}

// NewMemorySource creates a memory source with the given identifier.
func NewMemorySource(id string, opts ...MemoryOption) *MemorySource {
	m := &MemorySource{id: id}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the source identifier.
func (m *MemorySource) ID() string {
	return m.id
}

// Available always returns true for a memory source.
func (m *MemorySource) Available() bool {
	return true
}

// Add stores a document, assigning an ID when none is set.
func (m *MemorySource) Add(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(doc)
}

func (m *MemorySource) add(doc Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	m.docs = append(m.docs, doc)
}

// Count returns the number of stored documents.
func (m *MemorySource) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Query scores every document against the query keywords.
func (m *MemorySource) Query(ctx context.Context, query string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keywords := extractKeywords(query)

	var hits []Hit
	for _, doc := range m.docs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		haystack := strings.ToLower(doc.Title + "\n" + strings.Join(doc.Tags, " ") + "\n" + doc.Content)
		score := scoreRelevance(haystack, keywords)
		if score <= 0 {
			continue
		}

		meta := map[string]string{"title": doc.Title}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		hits = append(hits, Hit{
			Content:  doc.Content,
			SourceID: m.id,
			Ref:      doc.ID,
			Score:    score,
			Metadata: meta,
		})
	}
	return hits, nil
}
