package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

type RetrieverConfig struct {
	// PoolMultiplier sizes the similarity-search pool relative to K before
	// MMR re-selection narrows it down.
	PoolMultiplier int
	Lambda         float64
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	out := c
	if out.PoolMultiplier < 2 {
		out.PoolMultiplier = 4
	}
	if out.Lambda <= 0 || out.Lambda > 1 {
		out.Lambda = 0.7
	}
	return out
}

// Retriever embeds the query, runs similarity search and applies
// maximal-marginal-relevance re-selection so near-duplicate chunks do not
// crowd the candidate set.
type Retriever struct {
	embedder ports.Embedder
	store    ports.VectorStore
	cfg      RetrieverConfig
	logger   *slog.Logger
}

func NewRetriever(embedder ports.Embedder, store ports.VectorStore, cfg RetrieverConfig, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		cfg:      cfg.normalize(),
		logger:   logger,
	}
}

// Retrieve returns at most k candidates. An empty result is a valid outcome,
// not an error. The output is always a subset of the similarity-search pool
// and its ordering is deterministic for deterministic embeddings.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter domain.SearchFilter, k int) ([]domain.Candidate, error) {
	if k <= 0 {
		k = 12
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	pool, err := r.store.Search(ctx, queryVector, k*r.cfg.PoolMultiplier, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	sortCandidates(pool)
	selected := mmrSelect(pool, k, r.cfg.Lambda)
	r.logger.Debug("retrieval_complete",
		"pool", len(pool),
		"selected", len(selected),
		"filtered", !filter.Empty(),
	)
	return selected, nil
}

func sortCandidates(pool []domain.Candidate) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].RetrievalScore != pool[j].RetrievalScore {
			return pool[i].RetrievalScore > pool[j].RetrievalScore
		}
		return pool[i].Chunk.ID < pool[j].Chunk.ID
	})
}

// mmrSelect iteratively picks the candidate maximizing
// lambda*relevance - (1-lambda)*maxSimilarity(candidate, selected).
// Chunks from an already-selected source section are deferred until no
// unseen section can fill the remaining slots.
func mmrSelect(pool []domain.Candidate, k int, lambda float64) []domain.Candidate {
	if len(pool) <= 1 {
		return pool
	}
	if k > len(pool) {
		k = len(pool)
	}

	remaining := make([]domain.Candidate, len(pool))
	copy(remaining, pool)

	selected := make([]domain.Candidate, 0, k)
	usedSections := make(map[string]struct{}, k)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		bestFresh := false

		for i, candidate := range remaining {
			redundancy := 0.0
			for _, chosen := range selected {
				if sim := candidateSimilarity(candidate, chosen); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*candidate.RetrievalScore - (1-lambda)*redundancy
			_, sectionSeen := usedSections[candidate.Chunk.SectionKey()]
			fresh := !sectionSeen

			// Prefer unseen sections; within the same freshness class take
			// the higher MMR score. Strict inequality keeps the pick
			// deterministic under the pre-sorted pool order.
			switch {
			case fresh && !bestFresh:
				bestIdx, bestScore, bestFresh = i, score, true
			case fresh == bestFresh && score > bestScore:
				bestIdx, bestScore = i, score
			}
		}

		if bestIdx < 0 {
			break
		}
		pick := remaining[bestIdx]
		selected = append(selected, pick)
		usedSections[pick.Chunk.SectionKey()] = struct{}{}
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// candidateSimilarity prefers embedding cosine similarity and falls back to
// token overlap when the store did not return vectors.
func candidateSimilarity(a, b domain.Candidate) float64 {
	if len(a.Vector) > 0 && len(a.Vector) == len(b.Vector) {
		return cosine(a.Vector, b.Vector)
	}
	return tokenJaccard(a.Chunk.Text, b.Chunk.Text)
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenJaccard(a, b string) float64 {
	setA := toTokenSet(a)
	setB := toTokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
