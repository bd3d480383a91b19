package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

type fakeRerankClient struct {
	scores       []domain.RerankScore
	err          error
	lastPassages []string
}

func (f *fakeRerankClient) Rerank(_ context.Context, _ string, passages []string) ([]domain.RerankScore, error) {
	f.lastPassages = passages
	return f.scores, f.err
}

func rerankCandidates() []domain.Candidate {
	return []domain.Candidate{
		makeCandidate("c1", "4056ADVDB", "Course Contents", 0.9),
		makeCandidate("c2", "4056ADVDB", "Prerequisites", 0.8),
		makeCandidate("c3", "4049COMPNET", "Course Contents", 0.7),
	}
}

func TestRerankReordersByScore(t *testing.T) {
	client := &fakeRerankClient{scores: []domain.RerankScore{
		{Index: 0, Score: -1.2},
		{Index: 1, Score: 3.4},
		{Index: 2, Score: 0.5},
	}}
	reranker := NewCrossRerank(client, nil)

	out, degraded := reranker.Rerank(context.Background(), "q", rerankCandidates())
	if degraded {
		t.Fatalf("successful rerank must not be degraded")
	}
	if out[0].Chunk.ID != "c2" || out[1].Chunk.ID != "c3" || out[2].Chunk.ID != "c1" {
		t.Fatalf("unexpected order: %s %s %s", out[0].Chunk.ID, out[1].Chunk.ID, out[2].Chunk.ID)
	}
}

func TestRerankPreservesMembership(t *testing.T) {
	client := &fakeRerankClient{scores: []domain.RerankScore{
		{Index: 0, Score: 1}, {Index: 1, Score: 2}, {Index: 2, Score: 3},
	}}
	reranker := NewCrossRerank(client, nil)

	in := rerankCandidates()
	out, _ := reranker.Rerank(context.Background(), "q", in)
	if len(out) != len(in) {
		t.Fatalf("rerank changed result count: %d vs %d", len(out), len(in))
	}

	want := map[string]struct{}{}
	for _, candidate := range in {
		want[candidate.Chunk.ID] = struct{}{}
	}
	for _, chunk := range out {
		if _, ok := want[chunk.Chunk.ID]; !ok {
			t.Fatalf("rerank introduced chunk %q", chunk.Chunk.ID)
		}
		delete(want, chunk.Chunk.ID)
	}
	if len(want) != 0 {
		t.Fatalf("rerank dropped chunks: %v", want)
	}
}

func TestRerankDegradesOnClientError(t *testing.T) {
	client := &fakeRerankClient{err: errors.New("rerank service down")}
	reranker := NewCrossRerank(client, nil)

	in := rerankCandidates()
	out, degraded := reranker.Rerank(context.Background(), "q", in)
	if !degraded {
		t.Fatalf("client error must degrade rerank")
	}
	for i := range in {
		if out[i].Chunk.ID != in[i].Chunk.ID {
			t.Fatalf("degraded rerank must keep retrieval order")
		}
	}
}

func TestRerankDegradesWithoutClient(t *testing.T) {
	reranker := NewCrossRerank(nil, nil)

	out, degraded := reranker.Rerank(context.Background(), "q", rerankCandidates())
	if !degraded {
		t.Fatalf("missing client must degrade rerank")
	}
	if len(out) != 3 {
		t.Fatalf("expected passthrough of all candidates, got %d", len(out))
	}
}

func TestRerankDegradesOnBadIndices(t *testing.T) {
	client := &fakeRerankClient{scores: []domain.RerankScore{
		{Index: 7, Score: 1.0},
	}}
	reranker := NewCrossRerank(client, nil)

	_, degraded := reranker.Rerank(context.Background(), "q", rerankCandidates())
	if !degraded {
		t.Fatalf("out-of-range score index must degrade rerank")
	}
}

func TestRerankTieBreakIsDeterministic(t *testing.T) {
	client := &fakeRerankClient{scores: []domain.RerankScore{
		{Index: 0, Score: 1}, {Index: 1, Score: 1}, {Index: 2, Score: 1},
	}}
	reranker := NewCrossRerank(client, nil)

	out, _ := reranker.Rerank(context.Background(), "q", rerankCandidates())
	// Equal rerank scores fall back to retrieval score, then chunk ID.
	if out[0].Chunk.ID != "c1" || out[1].Chunk.ID != "c2" || out[2].Chunk.ID != "c3" {
		t.Fatalf("unexpected tie-break order: %s %s %s", out[0].Chunk.ID, out[1].Chunk.ID, out[2].Chunk.ID)
	}
}

func TestRerankPassagesCarryMetadataHeader(t *testing.T) {
	client := &fakeRerankClient{scores: []domain.RerankScore{
		{Index: 0, Score: 1}, {Index: 1, Score: 2}, {Index: 2, Score: 3},
	}}
	reranker := NewCrossRerank(client, nil)

	reranker.Rerank(context.Background(), "q", rerankCandidates())
	if len(client.lastPassages) != 3 {
		t.Fatalf("expected 3 passages, got %d", len(client.lastPassages))
	}
	if !strings.HasPrefix(client.lastPassages[0], "[4056ADVDB]") {
		t.Fatalf("passage must start with the course code header, got %q", client.lastPassages[0])
	}
}
