package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

type failingSource struct{ id string }

func (f *failingSource) ID() string      { return f.id }
func (f *failingSource) Available() bool { return true }
func (f *failingSource) Query(ctx context.Context, query string) ([]Hit, error) {
	return nil, errors.New("source down")
}

func TestMemorySourceQuery(t *testing.T) {
	src := NewMemorySource("policies", WithDocuments(
		Document{ID: "d1", Title: "Annual Leave Policy", Content: "employees accrue annual leave monthly", Tags: []string{"leave"}},
		Document{ID: "d2", Title: "Printer Setup", Content: "add the office printer from settings", Tags: []string{"printer"}},
	))

	hits, err := src.Query(context.Background(), "how much annual leave do I get")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Ref != "d1" {
		t.Errorf("hit ref = %s, want d1", hits[0].Ref)
	}
	if hits[0].SourceID != "policies" {
		t.Errorf("source id = %s, want policies", hits[0].SourceID)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", hits[0].Score)
	}
}

func TestMemorySourceAssignsIDs(t *testing.T) {
	src := NewMemorySource("notes")
	src.Add(Document{Content: "quarterly review schedule"})
	if src.Count() != 1 {
		t.Fatalf("count = %d, want 1", src.Count())
	}

	hits, err := src.Query(context.Background(), "review schedule")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].Ref == "" {
		t.Fatalf("expected one hit with generated ref, got %+v", hits)
	}
}

func TestStoreSearchRanksAndTruncates(t *testing.T) {
	store := NewStore(zerolog.Nop())
	store.Register("policies", NewMemorySource("policies", WithDocuments(
		Document{ID: "a", Content: "leave policy leave accrual leave balance"},
		Document{ID: "b", Content: "leave policy only"},
		Document{ID: "c", Content: "nothing relevant here"},
	)))

	hits, err := store.Search(context.Background(), SearchRequest{
		Query: "leave policy accrual balance",
		TopK:  2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Ref != "a" {
		t.Errorf("top hit = %s, want a", hits[0].Ref)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not ranked: %v < %v", hits[0].Score, hits[1].Score)
	}
}

func TestStoreSearchMinScore(t *testing.T) {
	store := NewStore(zerolog.Nop())
	store.Register("policies", NewMemorySource("policies", WithDocuments(
		Document{ID: "a", Content: "leave policy accrual balance carryover"},
		Document{ID: "b", Content: "leave"},
	)))

	hits, err := store.Search(context.Background(), SearchRequest{
		Query:    "leave policy accrual balance",
		MinScore: 0.5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.Score < 0.5 {
			t.Errorf("hit %s below min score: %v", h.Ref, h.Score)
		}
	}
}

func TestStoreSearchSkipsFailingSource(t *testing.T) {
	store := NewStore(zerolog.Nop())
	store.Register("policies", &failingSource{id: "broken"})
	store.Register("policies", NewMemorySource("healthy", WithDocuments(
		Document{ID: "a", Content: "vpn setup guide"},
	)))

	hits, err := store.Search(context.Background(), SearchRequest{Query: "vpn setup", Collection: "policies"})
	if err != nil {
		t.Fatalf("search should absorb source failure: %v", err)
	}
	if len(hits) != 1 || hits[0].SourceID != "healthy" {
		t.Fatalf("expected hit from healthy source, got %+v", hits)
	}
}

func TestStoreSearchAllCollections(t *testing.T) {
	store := NewStore(zerolog.Nop())
	store.Register("benefits", NewMemorySource("benefits", WithDocuments(
		Document{ID: "b1", Content: "insurance coverage details"},
	)))
	store.Register("it", NewMemorySource("it", WithDocuments(
		Document{ID: "i1", Content: "insurance card printing from the portal"},
	)))

	hits, err := store.Search(context.Background(), SearchRequest{Query: "insurance"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 across collections", len(hits))
	}

	got := store.Collections()
	want := []string{"benefits", "it"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("collections = %v, want %v", got, want)
	}
}

func TestStoreSearchCancelledContext(t *testing.T) {
	store := NewStore(zerolog.Nop())
	store.Register("policies", NewMemorySource("policies", WithDocuments(
		Document{ID: "a", Content: "leave policy"},
	)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Search(ctx, SearchRequest{Query: "leave"}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFilesystemSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vpn.md"), []byte("# VPN\nInstall the vpn client and enroll your device."), 0644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.bin"), []byte("vpn vpn vpn"), 0644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	src := NewFilesystemSource("docs", dir)
	if !src.Available() {
		t.Fatal("source should be available")
	}

	hits, err := src.Query(context.Background(), "vpn client install")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Ref != "vpn.md" {
		t.Errorf("ref = %s, want vpn.md", hits[0].Ref)
	}

	missing := NewFilesystemSource("docs", filepath.Join(dir, "absent"))
	if missing.Available() {
		t.Error("missing directory should be unavailable")
	}
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("What is the annual leave policy?")
	want := []string{"annual", "leave", "policy"}
	if len(got) != len(want) {
		t.Fatalf("keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keywords = %v, want %v", got, want)
		}
	}
}

func TestDefaultCorpus(t *testing.T) {
	store := NewDefaultStore(zerolog.Nop())

	collections := store.Collections()
	want := []string{"benefits", "it", "payroll", "policies"}
	if len(collections) != len(want) {
		t.Fatalf("collections = %v, want %v", collections, want)
	}

	hits, err := store.Search(context.Background(), SearchRequest{
		Query:      "what does my insurance coverage include",
		Collection: "benefits",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected insurance coverage hit")
	}
	if hits[0].Ref != "ben-ins-001" {
		t.Errorf("top hit = %s, want ben-ins-001", hits[0].Ref)
	}
}
