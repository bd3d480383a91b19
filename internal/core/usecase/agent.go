package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

type AgentConfig struct {
	TopK                  int
	LecturerTopK          int
	MaxQueryLength        int
	AnswerMaxTokens       int
	GenerationConcurrency int
}

func (c AgentConfig) normalize() AgentConfig {
	out := c
	if out.TopK <= 0 {
		out.TopK = 12
	}
	if out.LecturerTopK <= 0 {
		out.LecturerTopK = 40
	}
	if out.MaxQueryLength <= 0 {
		out.MaxQueryLength = 1000
	}
	if out.AnswerMaxTokens <= 0 {
		out.AnswerMaxTokens = 512
	}
	if out.GenerationConcurrency <= 0 {
		out.GenerationConcurrency = 2
	}
	return out
}

// QueryObserver receives per-query pipeline outcomes for metrics export.
type QueryObserver interface {
	ObserveQuery(mode string, confidence float64, duration time.Duration, docCount int, degraded, fallback bool)
}

// retrievalPlan is the per-intent branch of the pipeline. Each variant
// carries only the data its branch needs.
type retrievalPlan interface {
	mode() domain.GenerationMode
	filter() domain.SearchFilter
}

type standardPlan struct {
	courseCode string
	fallback   bool
}

func (p standardPlan) mode() domain.GenerationMode {
	if p.fallback {
		return domain.ModeUnfilteredFallback
	}
	return domain.ModeStandard
}

func (p standardPlan) filter() domain.SearchFilter {
	return domain.SearchFilter{CourseCode: p.courseCode}
}

type lecturerPlan struct {
	courseCode string
	lecturer   string
}

func (lecturerPlan) mode() domain.GenerationMode { return domain.ModeLecturer }

func (p lecturerPlan) filter() domain.SearchFilter {
	return domain.SearchFilter{CourseCode: p.courseCode}
}

type comparisonPlan struct {
	targets []string
}

func (comparisonPlan) mode() domain.GenerationMode { return domain.ModeComparison }

func (p comparisonPlan) filter() domain.SearchFilter {
	return domain.SearchFilter{CourseCodes: p.targets}
}

// Agent orchestrates the retrieval pipeline as a state machine over one
// RetrievalState per query. It is the only component that decides on
// fallback to unfiltered retrieval.
type Agent struct {
	catalogs   ports.CatalogProvider
	resolver   *Resolver
	retriever  *Retriever
	reranker   *CrossRerank
	expander   *Expander
	confidence *ConfidenceCalculator
	generator  ports.Generator
	cfg        AgentConfig
	logger     *slog.Logger
	observer   QueryObserver

	// genSlots bounds concurrent generation calls to the external service's
	// capacity; the generation call is the long pole of the pipeline.
	genSlots chan struct{}

	mu            sync.Mutex
	totalQueries  int64
	successful    int64
	sumConfidence float64
	sumSeconds    float64
	modeUsage     map[string]int64
}

func NewAgent(
	catalogs ports.CatalogProvider,
	resolver *Resolver,
	retriever *Retriever,
	reranker *CrossRerank,
	expander *Expander,
	confidence *ConfidenceCalculator,
	generator ports.Generator,
	cfg AgentConfig,
	logger *slog.Logger,
	observer QueryObserver,
) *Agent {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		catalogs:   catalogs,
		resolver:   resolver,
		retriever:  retriever,
		reranker:   reranker,
		expander:   expander,
		confidence: confidence,
		generator:  generator,
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
		genSlots:   make(chan struct{}, cfg.GenerationConcurrency),
		modeUsage:  make(map[string]int64),
	}
}

// Ask drives one query through INIT → … → DONE. Unrecoverable errors leave
// the state FAILED and surface to the caller; recoverable degradations
// (rerank outage, unresolved entities, empty retrieval) lower confidence
// instead of failing the request.
func (a *Agent) Ask(ctx context.Context, query string) (*domain.RAGResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "validate query", fmt.Errorf("empty query"))
	}
	if len(query) > a.cfg.MaxQueryLength {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "validate query",
			fmt.Errorf("query length %d exceeds %d", len(query), a.cfg.MaxQueryLength))
	}

	a.mu.Lock()
	a.totalQueries++
	a.mu.Unlock()

	state := domain.NewRetrievalState(query)
	catalog := a.catalogs.Snapshot()

	if err := a.advance(ctx, state, domain.StateClassified); err != nil {
		return nil, err
	}
	state.Intent, state.Hints = ClassifyQuery(query, catalog)

	if err := a.advance(ctx, state, domain.StateResolved); err != nil {
		return nil, err
	}
	state.Entities = a.resolver.Resolve(ctx, state.Intent, query, state.Hints, catalog)

	plan := a.buildPlan(state)
	state.Mode = plan.mode()

	if err := a.advance(ctx, state, domain.StateRetrieved); err != nil {
		return nil, err
	}
	if err := a.retrieve(ctx, state, plan); err != nil {
		state.Stage = domain.StateFailed
		return nil, err
	}

	if err := a.advance(ctx, state, domain.StateReranked); err != nil {
		return nil, err
	}
	state.Reranked, state.RerankDegraded = a.reranker.Rerank(ctx, query, state.Candidates)

	if err := a.advance(ctx, state, domain.StateExpanded); err != nil {
		return nil, err
	}
	state.Window = a.expander.Expand(ctx, state.Intent, state.Entities, query, state.Reranked)

	if err := a.advance(ctx, state, domain.StateGenerated); err != nil {
		return nil, err
	}
	if err := a.generate(ctx, state, plan); err != nil {
		state.Stage = domain.StateFailed
		return nil, err
	}

	if err := a.advance(ctx, state, domain.StateScored); err != nil {
		return nil, err
	}
	state.Confidence = a.confidence.Calculate(ctx, state)

	state.Stage = domain.StateDone
	response := a.buildResponse(state)
	a.recordSuccess(state, response)
	return response, nil
}

// advance moves the state machine, honoring caller cancellation before the
// next stage starts. In-flight external calls already issued are allowed to
// finish and are simply discarded.
func (a *Agent) advance(ctx context.Context, state *domain.RetrievalState, next domain.PipelineStage) error {
	if err := ctx.Err(); err != nil {
		state.Stage = domain.StateFailed
		return err
	}
	state.Stage = next
	return nil
}

func (a *Agent) buildPlan(state *domain.RetrievalState) retrievalPlan {
	entities := state.Entities
	switch state.Intent {
	case domain.IntentComparison:
		if entities.Resolved(domain.RoleCompareTargets) {
			return comparisonPlan{targets: entities[domain.RoleCompareTargets].Values}
		}
		a.logger.Info("fallback_unfiltered", "reason", "compare targets unresolved")
		return standardPlan{fallback: true}

	case domain.IntentLecturer:
		code := entities[domain.RoleCourseCode]
		lecturer := entities[domain.RoleLecturer]
		if code.Resolved() || lecturer.Resolved() {
			return lecturerPlan{courseCode: code.Value(), lecturer: lecturer.Value()}
		}
		a.logger.Info("fallback_unfiltered", "reason", "lecturer entities unresolved")
		return standardPlan{fallback: true}

	default:
		return standardPlan{courseCode: entities[domain.RoleCourseCode].Value()}
	}
}

func (a *Agent) retrieve(ctx context.Context, state *domain.RetrievalState, plan retrievalPlan) error {
	k := a.cfg.TopK
	if _, ok := plan.(lecturerPlan); ok {
		k = a.cfg.LecturerTopK
	}

	candidates, err := a.retriever.Retrieve(ctx, state.Query.Text, plan.filter(), k)
	if err != nil {
		return err
	}

	// A filtered search that finds nothing gets one unfiltered retry before
	// the pipeline settles for an empty context.
	if len(candidates) == 0 && !plan.filter().Empty() {
		a.logger.Info("fallback_unfiltered", "reason", "filtered retrieval empty")
		candidates, err = a.retriever.Retrieve(ctx, state.Query.Text, domain.SearchFilter{}, a.cfg.TopK)
		if err != nil {
			return err
		}
		state.Mode = domain.ModeUnfilteredFallback
	}

	if lp, ok := plan.(lecturerPlan); ok && lp.lecturer != "" {
		if filtered := filterByLecturer(candidates, lp.lecturer); len(filtered) > 0 {
			candidates = filtered
		}
	}

	state.Candidates = candidates
	return nil
}

func filterByLecturer(candidates []domain.Candidate, lecturer string) []domain.Candidate {
	needle := strings.ToLower(lecturer)
	out := make([]domain.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		joined := strings.ToLower(strings.Join(candidate.Chunk.Lecturers, " "))
		if strings.Contains(joined, needle) {
			out = append(out, candidate)
		}
	}
	return out
}

func (a *Agent) generate(ctx context.Context, state *domain.RetrievalState, plan retrievalPlan) error {
	if state.Window.Empty() {
		state.Answer = noInformationAnswer
		return nil
	}

	select {
	case a.genSlots <- struct{}{}:
	case <-ctx.Done():
		state.Stage = domain.StateFailed
		return ctx.Err()
	}
	defer func() { <-a.genSlots }()

	var prompt string
	switch p := plan.(type) {
	case comparisonPlan:
		prompt = buildComparisonPrompt(state.Query.Text, p.targets, state.Window)
	case lecturerPlan:
		prompt = buildLecturerPrompt(state.Query.Text, state.Window)
	default:
		prompt = buildAnswerPrompt(state.Query.Text, state.Window)
	}

	answer, err := a.generator.Generate(ctx, prompt, a.cfg.AnswerMaxTokens)
	if err != nil {
		return err
	}
	state.Answer = answer
	return nil
}

func (a *Agent) buildResponse(state *domain.RetrievalState) *domain.RAGResponse {
	elapsed := time.Since(state.Query.ReceivedAt)
	return &domain.RAGResponse{
		Answer:         state.Answer,
		Confidence:     state.Confidence.Aggregate,
		Sources:        state.Window.Sources(),
		GenerationMode: string(state.Mode),
		ProcessingTime: elapsed.Seconds(),
		Metadata: domain.ResponseMetadata{
			Extracted: state.Entities.Extracted(),
			DocCount:  len(state.Window.Entries),
			Mode:      string(state.Mode),
		},
	}
}

func (a *Agent) recordSuccess(state *domain.RetrievalState, response *domain.RAGResponse) {
	fallback := state.Mode == domain.ModeUnfilteredFallback

	a.mu.Lock()
	a.successful++
	a.sumConfidence += response.Confidence
	a.sumSeconds += response.ProcessingTime
	a.modeUsage[response.GenerationMode]++
	a.mu.Unlock()

	a.logger.Info("query_processed",
		"intent", string(state.Intent),
		"mode", response.GenerationMode,
		"confidence", response.Confidence,
		"sources", len(response.Sources),
		"rerank_degraded", state.RerankDegraded,
		"duration_s", response.ProcessingTime,
	)

	if a.observer != nil {
		a.observer.ObserveQuery(
			response.GenerationMode,
			response.Confidence,
			time.Since(state.Query.ReceivedAt),
			response.Metadata.DocCount,
			state.RerankDegraded,
			fallback,
		)
	}
}

func (a *Agent) Stats() domain.AgentStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := domain.AgentStats{
		TotalQueries:      a.totalQueries,
		SuccessfulQueries: a.successful,
		ModeUsage:         make(map[string]int64, len(a.modeUsage)),
	}
	if a.successful > 0 {
		stats.AverageConfidence = a.sumConfidence / float64(a.successful)
		stats.AverageTimeSeconds = a.sumSeconds / float64(a.successful)
	}
	for mode, count := range a.modeUsage {
		stats.ModeUsage[mode] = count
	}
	return stats
}
