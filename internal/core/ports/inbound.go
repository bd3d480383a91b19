package ports

import (
	"context"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

// QueryService is the inbound contract for the retrieval pipeline.
type QueryService interface {
	Ask(ctx context.Context, query string) (*domain.RAGResponse, error)
}

// StatsReader exposes aggregate pipeline counters.
type StatsReader interface {
	Stats() domain.AgentStats
}

// CatalogReader is the read model backing /catalog.
type CatalogReader interface {
	Snapshot() *domain.Catalog
}

// HealthChecker reports liveness of pipeline dependencies.
type HealthChecker interface {
	Health(ctx context.Context) domain.HealthReport
}
