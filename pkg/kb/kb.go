// Package kb provides keyword-ranked retrieval over registered knowledge
// sources. Specialist handlers query it through the kb.search tool.
package kb

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultTopK is the number of hits returned when the request does not set one.
const DefaultTopK = 3

// Hit is one piece of retrieved content.
type Hit struct {
	Content  string            `json:"content"`
	SourceID string            `json:"source_id"`
	Ref      string            `json:"ref"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source is a queryable knowledge source.
type Source interface {
	// ID returns the source identifier.
	ID() string

	// Query returns hits matching the query, unranked.
	Query(ctx context.Context, query string) ([]Hit, error)

	// Available reports whether the source can currently be queried.
	Available() bool
}

// SearchRequest describes one retrieval call.
type SearchRequest struct {
	Query      string
	Collection string // empty searches all collections
	TopK       int    // 0 uses DefaultTopK
	MinScore   float64
}

// Store groups sources into named collections and ranks their results.
type Store struct {
	mu      sync.RWMutex
	sources map[string][]Source
	logger  zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		sources: make(map[string][]Source),
		logger:  logger.With().Str("component", "kb").Logger(),
	}
}

// Register adds a source to a collection.
func (s *Store) Register(collection string, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[collection] = append(s.sources[collection], src)
}

// Collections returns the registered collection names, sorted.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search queries the requested collection and returns ranked hits.
// Unavailable or failing sources are skipped; only context cancellation
// aborts the search.
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	var hits []Hit
	for _, src := range s.candidates(req.Collection) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !src.Available() {
			continue
		}

		found, err := src.Query(ctx, req.Query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("source", src.ID()).Msg("source query failed, skipping")
			continue
		}
		for _, h := range found {
			if h.Score >= req.MinScore && h.Score > 0 {
				hits = append(hits, h)
			}
		}
	}

	rankHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) candidates(collection string) []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if collection != "" {
		out := make([]Source, len(s.sources[collection]))
		copy(out, s.sources[collection])
		return out
	}

	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Source
	for _, name := range names {
		out = append(out, s.sources[name]...)
	}
	return out
}

// rankHits orders hits by score descending, breaking ties by source ID
// then ref so results are deterministic.
func rankHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].SourceID != hits[j].SourceID {
			return hits[i].SourceID < hits[j].SourceID
		}
		return hits[i].Ref < hits[j].Ref
	})
}
