package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

type ExpanderConfig struct {
	TokenBudget int
	// MinCompareTokens is the slice reserved per compared course so one side
	// cannot crowd out the other.
	MinCompareTokens int
	MaxExpansions    int
}

func (c ExpanderConfig) normalize() ExpanderConfig {
	out := c
	if out.TokenBudget <= 0 {
		out.TokenBudget = 2800
	}
	if out.MinCompareTokens <= 0 || out.MinCompareTokens > out.TokenBudget/2 {
		out.MinCompareTokens = out.TokenBudget / 4
	}
	if out.MaxExpansions <= 0 {
		out.MaxExpansions = 3
	}
	return out
}

var crossRefRe = regexp.MustCompile(`(?i)\bsee\s+(?:the\s+)?([A-Z][A-Za-z ]{2,40})\b`)

// Expander assembles the token-budgeted context window from reranked chunks,
// pulling in sibling sections for truncated or cross-referential chunks and
// partitioning the budget per course for comparison queries.
type Expander struct {
	store  ports.VectorStore
	cfg    ExpanderConfig
	logger *slog.Logger
}

func NewExpander(store ports.VectorStore, cfg ExpanderConfig, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{store: store, cfg: cfg.normalize(), logger: logger}
}

func (e *Expander) Expand(
	ctx context.Context,
	intent domain.Intent,
	entities domain.ResolvedEntities,
	query string,
	reranked []domain.RerankedChunk,
) domain.ContextWindow {
	window := domain.ContextWindow{Budget: e.cfg.TokenBudget}
	if len(reranked) == 0 {
		return window
	}

	if intent == domain.IntentComparison && entities.Resolved(domain.RoleCompareTargets) {
		return e.expandComparison(ctx, entities[domain.RoleCompareTargets].Values, query, reranked)
	}
	return e.expandLinear(ctx, query, reranked)
}

// sectionRef names one course section to fetch during expansion.
type sectionRef struct {
	course  string
	section string
}

// expandLinear greedily fills the budget in rerank order, then spends what
// remains on referenced or inferred sibling sections.
func (e *Expander) expandLinear(ctx context.Context, query string, reranked []domain.RerankedChunk) domain.ContextWindow {
	window := domain.ContextWindow{Budget: e.cfg.TokenBudget}
	sections := make(map[string]struct{})
	present := make(map[string]struct{})
	var continuations []sectionRef

	for _, chunk := range reranked {
		cost := domain.EstimateTokens(chunk.Chunk.Text)
		if window.TokenCount+cost > window.Budget {
			continue
		}
		window.Entries = append(window.Entries, domain.ContextEntry{
			Chunk:          chunk.Chunk,
			RerankScore:    chunk.RerankScore,
			RetrievalScore: chunk.RetrievalScore,
		})
		window.TokenCount += cost
		sections[chunk.Chunk.SectionKey()] = struct{}{}
		present[chunk.Chunk.ID] = struct{}{}

		// Continuations belong to the chunk's own course, not the window focus.
		if chunk.Chunk.Truncated {
			continuations = appendUniqueRef(continuations,
				sectionRef{course: chunk.Chunk.CourseCode, section: chunk.Chunk.SectionTitle})
		}
		if ref := crossReferencedSection(chunk.Chunk.Text); ref != "" {
			continuations = appendUniqueRef(continuations,
				sectionRef{course: chunk.Chunk.CourseCode, section: ref})
		}
	}

	if window.Empty() {
		return window
	}

	focus := window.Entries[0].Chunk.CourseCode
	targets := inferTargetSections(query)
	if len(targets) == 0 {
		targets = defaultExpansionSections()
	}

	added := 0
	fetch := func(ref sectionRef, evenIfPresent bool) {
		if added >= e.cfg.MaxExpansions || ref.course == "" {
			return
		}
		key := strings.ToLower(ref.course + "|" + ref.section)
		if _, dup := sections[key]; dup && !evenIfPresent {
			return
		}
		chunk := e.fetchSection(ctx, ref.course, ref.section)
		if chunk == nil {
			return
		}
		if _, dup := present[chunk.ID]; dup {
			return
		}
		cost := domain.EstimateTokens(chunk.Text)
		if window.TokenCount+cost > window.Budget {
			return
		}
		window.Entries = append(window.Entries, domain.ContextEntry{Chunk: *chunk, Expanded: true})
		window.TokenCount += cost
		sections[key] = struct{}{}
		present[chunk.ID] = struct{}{}
		added++
	}

	// Truncated and cross-referenced sections are fetched even when part of
	// the section is already in the window: the point is the missing rest.
	for _, ref := range continuations {
		fetch(ref, true)
	}
	for _, section := range targets {
		fetch(sectionRef{course: focus, section: section}, false)
	}

	if added > 0 {
		e.logger.Debug("context_expanded", "added", added, "focus", focus)
	}
	return window
}

// expandComparison partitions the budget across the compared courses in the
// original compare-target order, reserving a minimum slice per side. Within
// a side, rerank order is preserved.
func (e *Expander) expandComparison(
	ctx context.Context,
	targets []string,
	query string,
	reranked []domain.RerankedChunk,
) domain.ContextWindow {
	window := domain.ContextWindow{Budget: e.cfg.TokenBudget}
	if len(targets) == 0 {
		return window
	}

	perSide := window.Budget / len(targets)
	if perSide < e.cfg.MinCompareTokens {
		perSide = e.cfg.MinCompareTokens
	}

	bySide := make(map[string][]domain.RerankedChunk, len(targets))
	for _, chunk := range reranked {
		code := domain.NormalizeCode(chunk.Chunk.CourseCode)
		bySide[code] = append(bySide[code], chunk)
	}

	axes := inferTargetSections(query)
	if len(axes) == 0 {
		axes = defaultExpansionSections()
	}

	for _, target := range targets {
		used := 0
		sections := make(map[string]struct{})
		for _, chunk := range bySide[domain.NormalizeCode(target)] {
			cost := domain.EstimateTokens(chunk.Chunk.Text)
			if used+cost > perSide || window.TokenCount+cost > window.Budget {
				continue
			}
			window.Entries = append(window.Entries, domain.ContextEntry{
				Chunk:          chunk.Chunk,
				RerankScore:    chunk.RerankScore,
				RetrievalScore: chunk.RetrievalScore,
			})
			used += cost
			window.TokenCount += cost
			sections[strings.ToLower(chunk.Chunk.SectionTitle)] = struct{}{}
		}

		// Guarantee the side's minimum slice even when retrieval favored
		// the other course: fetch its comparison axes directly.
		for _, axis := range axes {
			if used >= e.cfg.MinCompareTokens {
				break
			}
			if _, dup := sections[strings.ToLower(axis)]; dup {
				continue
			}
			chunk := e.fetchSection(ctx, target, axis)
			if chunk == nil {
				continue
			}
			cost := domain.EstimateTokens(chunk.Text)
			if window.TokenCount+cost > window.Budget {
				break
			}
			window.Entries = append(window.Entries, domain.ContextEntry{Chunk: *chunk, Expanded: true})
			used += cost
			window.TokenCount += cost
			sections[strings.ToLower(axis)] = struct{}{}
		}
	}
	return window
}

func (e *Expander) fetchSection(ctx context.Context, courseCode, sectionTitle string) *domain.Chunk {
	if e.store == nil {
		return nil
	}
	chunk, err := e.store.FetchSection(ctx, courseCode, sectionTitle)
	if err != nil {
		e.logger.Warn("section_fetch_failed", "course", courseCode, "section", sectionTitle, "error", err)
		return nil
	}
	return chunk
}

func crossReferencedSection(text string) string {
	match := crossRefRe.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

func appendUniqueRef(list []sectionRef, ref sectionRef) []sectionRef {
	if ref.section == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing.course, ref.course) && strings.EqualFold(existing.section, ref.section) {
			return list
		}
	}
	return append(list, ref)
}
