package ports

import (
	"context"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

// Embedder builds the query vector for similarity search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore performs semantic search and targeted section lookups over the
// pre-indexed corpus. Read-only from the pipeline's point of view.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.Candidate, error)
	FetchSection(ctx context.Context, courseCode, sectionTitle string) (*domain.Chunk, error)
	Healthz(ctx context.Context) error
}

// Reranker scores (query, passage) pairs with a cross-encoder model.
// Scores index into the passages slice; order of results is not guaranteed.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]domain.RerankScore, error)
}

// Generator is the external text-generation service. Calls carry a strict
// client-side timeout and must not be assumed idempotent.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
	Healthz(ctx context.Context) error
}

// CatalogSource loads the closed course vocabulary from ingested metadata.
type CatalogSource interface {
	LoadCourses(ctx context.Context) ([]domain.CourseMeta, error)
}

// CatalogProvider hands out the current immutable catalog snapshot.
type CatalogProvider interface {
	Snapshot() *domain.Catalog
}

// CorpusEvents signals that the ingestion pipeline changed the corpus.
type CorpusEvents interface {
	SubscribeCorpusUpdated(ctx context.Context, handler func(context.Context) error) error
}
