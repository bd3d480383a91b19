package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

// Provider holds the current catalog snapshot behind an atomic pointer so
// queries read a consistent vocabulary while reloads swap it underneath.
type Provider struct {
	source  ports.CatalogSource
	logger  *slog.Logger
	current atomic.Pointer[domain.Catalog]
}

func NewProvider(source ports.CatalogSource, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{source: source, logger: logger}
	p.current.Store(domain.NewCatalog(nil))
	return p
}

// Load replaces the snapshot from the catalog source. The previous snapshot
// stays in place on failure.
func (p *Provider) Load(ctx context.Context) error {
	courses, err := p.source.LoadCourses(ctx)
	if err != nil {
		return fmt.Errorf("load courses: %w", err)
	}

	snapshot := domain.NewCatalog(courses)
	p.current.Store(snapshot)
	stats := snapshot.Stats()
	p.logger.Info("catalog_loaded", "courses", stats.Courses, "lecturers", stats.Lecturers)
	return nil
}

func (p *Provider) Snapshot() *domain.Catalog {
	return p.current.Load()
}
