package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

type fakeVectorStore struct {
	candidates []domain.Candidate
	searchErr  error
	lastLimit  int
	lastFilter domain.SearchFilter

	sections map[string]*domain.Chunk
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, limit int, filter domain.SearchFilter) ([]domain.Candidate, error) {
	f.lastLimit = limit
	f.lastFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit < len(f.candidates) {
		return append([]domain.Candidate(nil), f.candidates[:limit]...), nil
	}
	return append([]domain.Candidate(nil), f.candidates...), nil
}

func (f *fakeVectorStore) FetchSection(_ context.Context, courseCode, sectionTitle string) (*domain.Chunk, error) {
	if f.sections == nil {
		return nil, nil
	}
	return f.sections[domain.NormalizeCode(courseCode)+"|"+sectionTitle], nil
}

func (f *fakeVectorStore) Healthz(context.Context) error { return nil }

func makeCandidate(id, course, section string, score float64) domain.Candidate {
	return domain.Candidate{
		Chunk: domain.Chunk{
			ID:           id,
			CourseCode:   course,
			CourseTitle:  course + " title",
			SectionTitle: section,
			Text:         "text for " + id,
		},
		RetrievalScore: score,
	}
}

func TestRetrieveReturnsSubsetOfPool(t *testing.T) {
	pool := []domain.Candidate{
		makeCandidate("c1", "4056ADVDB", "Course Contents", 0.91),
		makeCandidate("c2", "4056ADVDB", "Prerequisites", 0.85),
		makeCandidate("c3", "4056ADVDB", "Assessment method and criteria", 0.80),
		makeCandidate("c4", "4049COMPNET", "Course Contents", 0.75),
	}
	store := &fakeVectorStore{candidates: pool}
	retriever := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, store, RetrieverConfig{}, nil)

	selected, err := retriever.Retrieve(context.Background(), "databases", domain.SearchFilter{}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(selected))
	}

	ids := make(map[string]struct{}, len(pool))
	for _, candidate := range pool {
		ids[candidate.Chunk.ID] = struct{}{}
	}
	for _, candidate := range selected {
		if _, ok := ids[candidate.Chunk.ID]; !ok {
			t.Fatalf("selected candidate %q is not from the pool", candidate.Chunk.ID)
		}
	}
	if store.lastLimit != 12 {
		t.Fatalf("expected pool request of k*multiplier=12, got %d", store.lastLimit)
	}
}

func TestRetrieveEmptyPoolIsNotAnError(t *testing.T) {
	retriever := NewRetriever(&fakeEmbedder{vector: []float32{1}}, &fakeVectorStore{}, RetrieverConfig{}, nil)

	selected, err := retriever.Retrieve(context.Background(), "anything", domain.SearchFilter{}, 5)
	if err != nil {
		t.Fatalf("empty pool must not error, got %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected empty result, got %d", len(selected))
	}
}

func TestRetrievePropagatesSearchError(t *testing.T) {
	store := &fakeVectorStore{searchErr: errors.New("connection refused")}
	retriever := NewRetriever(&fakeEmbedder{vector: []float32{1}}, store, RetrieverConfig{}, nil)

	if _, err := retriever.Retrieve(context.Background(), "anything", domain.SearchFilter{}, 5); err == nil {
		t.Fatalf("expected search error to propagate")
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	pool := []domain.Candidate{
		makeCandidate("c1", "4056ADVDB", "Course Contents", 0.9),
		makeCandidate("c2", "4056ADVDB", "Prerequisites", 0.9),
		makeCandidate("c3", "4049COMPNET", "Course Contents", 0.8),
		makeCandidate("c4", "4031OPSYS", "Learning Outcomes", 0.7),
	}
	retriever := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, &fakeVectorStore{candidates: pool}, RetrieverConfig{}, nil)

	first, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := retriever.Retrieve(context.Background(), "q", domain.SearchFilter{}, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("selection changed between identical runs:\n%v\n%v", first, again)
		}
	}
}

func TestMMRPrefersDistinctSections(t *testing.T) {
	pool := []domain.Candidate{
		makeCandidate("c1", "4056ADVDB", "Course Contents", 0.95),
		makeCandidate("c2", "4056ADVDB", "Course Contents", 0.94),
		makeCandidate("c3", "4056ADVDB", "Course Contents", 0.93),
		makeCandidate("c4", "4056ADVDB", "Prerequisites", 0.60),
	}
	sortCandidates(pool)

	selected := mmrSelect(pool, 2, 0.7)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(selected))
	}

	sections := map[string]struct{}{}
	for _, candidate := range selected {
		sections[candidate.Chunk.SectionKey()] = struct{}{}
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 distinct sections when available, got %v", sections)
	}
}

func TestRetrieveForwardsFilter(t *testing.T) {
	store := &fakeVectorStore{candidates: []domain.Candidate{
		makeCandidate("c1", "4056ADVDB", "Course Contents", 0.9),
	}}
	retriever := NewRetriever(&fakeEmbedder{vector: []float32{1}}, store, RetrieverConfig{}, nil)

	filter := domain.SearchFilter{CourseCode: "4056ADVDB"}
	if _, err := retriever.Retrieve(context.Background(), "q", filter, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastFilter.CourseCode != "4056ADVDB" {
		t.Fatalf("filter not forwarded to store, got %+v", store.lastFilter)
	}
}
