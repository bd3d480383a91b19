package usecase

import (
	"context"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

// HealthService probes the pipeline's hard dependencies for /health.
type HealthService struct {
	catalogs  ports.CatalogProvider
	store     ports.VectorStore
	generator ports.Generator
}

func NewHealthService(catalogs ports.CatalogProvider, store ports.VectorStore, generator ports.Generator) *HealthService {
	return &HealthService{catalogs: catalogs, store: store, generator: generator}
}

func (h *HealthService) Health(ctx context.Context) domain.HealthReport {
	report := domain.HealthReport{}

	if catalog := h.catalogs.Snapshot(); catalog != nil && catalog.Stats().Courses > 0 {
		report.Catalog = true
	}
	if h.store != nil && h.store.Healthz(ctx) == nil {
		report.VectorStore = true
	}
	if h.generator != nil && h.generator.Healthz(ctx) == nil {
		report.Generator = true
	}

	if report.Healthy() {
		report.Status = "ok"
	} else {
		report.Status = "degraded"
	}
	return report
}
