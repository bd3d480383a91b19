package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

func stateWithWindow(intent domain.Intent, entries ...domain.ContextEntry) *domain.RetrievalState {
	state := domain.NewRetrievalState("test query")
	state.Intent = intent
	state.Window = domain.ContextWindow{Entries: entries, Budget: 2800}
	for _, entry := range entries {
		state.Window.TokenCount += domain.EstimateTokens(entry.Chunk.Text)
	}
	return state
}

func contextEntry(id string, retrievalScore, rerankScore float64) domain.ContextEntry {
	return domain.ContextEntry{
		Chunk:          domain.Chunk{ID: id, CourseCode: "4056ADVDB", SectionTitle: "Course Contents", Text: "some text"},
		RetrievalScore: retrievalScore,
		RerankScore:    rerankScore,
	}
}

func TestConfidenceZeroOnlyForEmptyWindow(t *testing.T) {
	calc := NewConfidenceCalculator(nil, ConfidenceConfig{}, nil)

	empty := domain.NewRetrievalState("q")
	metrics := calc.Calculate(context.Background(), empty)
	if metrics.Aggregate != 0 {
		t.Fatalf("empty window must score exactly 0, got %f", metrics.Aggregate)
	}

	// Even terrible signals stay strictly positive when context exists.
	weak := stateWithWindow(domain.IntentLecturer, contextEntry("c1", 0.0, -10))
	weak.Reranked = []domain.RerankedChunk{{Chunk: weak.Window.Entries[0].Chunk, RerankScore: -10}}
	metrics = calc.Calculate(context.Background(), weak)
	if metrics.Aggregate <= 0 {
		t.Fatalf("non-empty window must score above 0, got %f", metrics.Aggregate)
	}
}

func TestConfidenceStaysInRange(t *testing.T) {
	calc := NewConfidenceCalculator(nil, ConfidenceConfig{}, nil)

	strong := stateWithWindow(domain.IntentStandard, contextEntry("c1", 0.99, 12))
	strong.Reranked = []domain.RerankedChunk{{Chunk: strong.Window.Entries[0].Chunk, RerankScore: 12}}
	metrics := calc.Calculate(context.Background(), strong)
	if metrics.Aggregate < 0 || metrics.Aggregate > 1 {
		t.Fatalf("aggregate out of range: %f", metrics.Aggregate)
	}
}

func TestConfidenceNeutralRerankWhenDegraded(t *testing.T) {
	calc := NewConfidenceCalculator(nil, ConfidenceConfig{}, nil)

	state := stateWithWindow(domain.IntentStandard, contextEntry("c1", 0.8, 0))
	state.RerankDegraded = true
	metrics := calc.Calculate(context.Background(), state)

	if !metrics.Rerank.Computed {
		t.Fatalf("degraded rerank still contributes a component")
	}
	if metrics.Rerank.Score != neutralRerankScore {
		t.Fatalf("degraded rerank must be neutral %f, got %f", neutralRerankScore, metrics.Rerank.Score)
	}
}

func TestConfidenceRetrievalSaturates(t *testing.T) {
	calc := NewConfidenceCalculator(nil, ConfidenceConfig{}, nil)

	component := calc.retrievalComponent(domain.ContextWindow{Entries: []domain.ContextEntry{
		contextEntry("c1", 0.97, 0),
	}})
	if component.Score != 1 {
		t.Fatalf("scores above the ceiling must saturate to 1, got %f", component.Score)
	}
}

func TestConfidenceResolutionUsesWeakestRequiredEntity(t *testing.T) {
	calc := NewConfidenceCalculator(nil, ConfidenceConfig{}, nil)

	entities := domain.ResolvedEntities{
		domain.RoleCourseCode: {
			Role: domain.RoleCourseCode, Values: []string{"4056ADVDB"},
			Stage: domain.StageExact, Confidence: 1.0,
		},
		domain.RoleLecturer: {
			Role: domain.RoleLecturer, Values: []string{"Maria Rossi"},
			Stage: domain.StageFuzzy, Confidence: 0.81,
		},
	}
	component := calc.resolutionComponent(domain.IntentLecturer, entities)
	if component.Score != 0.81 {
		t.Fatalf("expected the weakest required confidence, got %f", component.Score)
	}

	// Standard intent requires nothing, so resolution is a full signal.
	component = calc.resolutionComponent(domain.IntentStandard, nil)
	if component.Score != 1.0 {
		t.Fatalf("no required entities must score 1.0, got %f", component.Score)
	}
}

func TestConfidenceWeightsRenormalize(t *testing.T) {
	metrics := domain.ConfidenceMetrics{
		Retrieval:  domain.Component{Score: 0.6, Computed: true},
		Rerank:     domain.Component{Score: 0.6, Computed: true},
		Resolution: domain.Component{Score: 0.6, Computed: true},
		// Generation absent: weights must renormalize, not count it as 0.
	}
	got := aggregate(intentWeights[domain.IntentStandard], metrics)
	if got < 0.599 || got > 0.601 {
		t.Fatalf("renormalized aggregate of equal components must equal them, got %f", got)
	}
}

func TestConfidenceSelfEvalOnlyInBand(t *testing.T) {
	gen := &fakeGenerator{jsonResponse: `{"confidence_score": 0.5, "reasoning": "plausible"}`}
	calc := NewConfidenceCalculator(gen, ConfidenceConfig{}, nil)

	// High-signal state lands above the band: no self-evaluation call.
	strong := stateWithWindow(domain.IntentStandard, contextEntry("c1", 0.85, 8))
	strong.Reranked = []domain.RerankedChunk{{Chunk: strong.Window.Entries[0].Chunk, RerankScore: 8}}
	calc.Calculate(context.Background(), strong)
	if gen.jsonCalls != 0 {
		t.Fatalf("self-eval must not run above the band, got %d calls", gen.jsonCalls)
	}

	// Mid-signal state inside the band triggers exactly one evaluation.
	mid := stateWithWindow(domain.IntentStandard, contextEntry("c1", 0.40, 0))
	mid.Reranked = []domain.RerankedChunk{{Chunk: mid.Window.Entries[0].Chunk, RerankScore: 0}}
	metrics := calc.Calculate(context.Background(), mid)
	if gen.jsonCalls != 1 {
		t.Fatalf("self-eval must run once inside the band, got %d calls", gen.jsonCalls)
	}
	if !metrics.Generation.Computed {
		t.Fatalf("self-eval result must become the generation component")
	}
	if metrics.Reasoning != "plausible" {
		t.Fatalf("reasoning must surface, got %q", metrics.Reasoning)
	}
}

func TestConfidenceSelfEvalFailureIsExcluded(t *testing.T) {
	gen := &fakeGenerator{jsonErr: errors.New("model busy")}
	calc := NewConfidenceCalculator(gen, ConfidenceConfig{}, nil)

	mid := stateWithWindow(domain.IntentStandard, contextEntry("c1", 0.40, 0))
	mid.Reranked = []domain.RerankedChunk{{Chunk: mid.Window.Entries[0].Chunk, RerankScore: 0}}
	metrics := calc.Calculate(context.Background(), mid)

	if metrics.Generation.Computed {
		t.Fatalf("failed self-eval must be excluded, not zeroed")
	}
	if metrics.Aggregate <= 0 || metrics.Aggregate > 1 {
		t.Fatalf("aggregate must remain valid without the generation signal: %f", metrics.Aggregate)
	}
}
