package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

// CrossRerank rescores candidates with the cross-encoder service. The output
// is a pure reordering of the input set. When the cross-encoder is
// unavailable the input order is kept and the degraded flag is raised for
// the confidence calculator; the pipeline never fails here.
type CrossRerank struct {
	client ports.Reranker
	logger *slog.Logger
}

func NewCrossRerank(client ports.Reranker, logger *slog.Logger) *CrossRerank {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrossRerank{client: client, logger: logger}
}

func (r *CrossRerank) Rerank(ctx context.Context, query string, candidates []domain.Candidate) ([]domain.RerankedChunk, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	out := make([]domain.RerankedChunk, len(candidates))
	for i, candidate := range candidates {
		out[i] = domain.RerankedChunk{
			Chunk:          candidate.Chunk,
			RetrievalScore: candidate.RetrievalScore,
		}
	}

	if r.client == nil {
		return out, true
	}

	passages := make([]string, len(candidates))
	for i, candidate := range candidates {
		passages[i] = rerankText(candidate.Chunk)
	}

	scores, err := r.client.Rerank(ctx, query, passages)
	if err != nil {
		r.logger.Warn("rerank_degraded", "error", err, "candidates", len(candidates))
		return out, true
	}

	scored := make(map[int]float64, len(scores))
	for _, score := range scores {
		if score.Index < 0 || score.Index >= len(candidates) {
			r.logger.Warn("rerank_degraded", "error", fmt.Errorf("score index %d out of range", score.Index))
			return out, true
		}
		scored[score.Index] = score.Score
	}
	if len(scored) != len(candidates) {
		r.logger.Warn("rerank_degraded", "error", fmt.Errorf("got %d scores for %d candidates", len(scored), len(candidates)))
		return out, true
	}

	for i := range out {
		out[i].RerankScore = scored[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RerankScore != out[j].RerankScore {
			return out[i].RerankScore > out[j].RerankScore
		}
		if out[i].RetrievalScore != out[j].RetrievalScore {
			return out[i].RetrievalScore > out[j].RetrievalScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out, false
}

// rerankText enriches the passage with a metadata header so the
// cross-encoder sees course and section identity, not just the body.
func rerankText(chunk domain.Chunk) string {
	return fmt.Sprintf("[%s] %s - %s | lecturers=%s | file=%s\n%s",
		chunk.CourseCode,
		chunk.CourseTitle,
		chunk.SectionTitle,
		strings.Join(chunk.Lecturers, ", "),
		chunk.Filename,
		chunk.Text,
	)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
