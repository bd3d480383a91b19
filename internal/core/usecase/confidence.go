package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

type confidenceWeights struct {
	retrieval  float64
	rerank     float64
	resolution float64
	generation float64
}

var intentWeights = map[domain.Intent]confidenceWeights{
	domain.IntentStandard:   {retrieval: 0.30, rerank: 0.30, resolution: 0.20, generation: 0.20},
	domain.IntentLecturer:   {retrieval: 0.25, rerank: 0.20, resolution: 0.35, generation: 0.20},
	domain.IntentComparison: {retrieval: 0.25, rerank: 0.25, resolution: 0.30, generation: 0.20},
}

const (
	// retrievalCeiling saturates the retrieval transform: similarity scores
	// at or above it all count as a strong signal.
	retrievalCeiling = 0.85

	neutralRerankScore = 0.5

	// Self-evaluation runs only when the cheap signals land in this band.
	evalBandLow  = 0.35
	evalBandHigh = 0.75

	// nonZeroFloor keeps confidence strictly positive whenever context was
	// retrieved; exact zero is reserved for the empty-context path.
	nonZeroFloor = 0.01
)

type ConfidenceConfig struct {
	EvalMaxTokens int
}

// ConfidenceCalculator fuses retrieval, rerank and resolution signals into
// one confidence value, optionally adding an LLM self-evaluation when the
// cheap signals disagree. Missing signals are excluded and the weights
// renormalized, never defaulted to zero.
type ConfidenceCalculator struct {
	generator ports.Generator
	cfg       ConfidenceConfig
	logger    *slog.Logger
}

func NewConfidenceCalculator(generator ports.Generator, cfg ConfidenceConfig, logger *slog.Logger) *ConfidenceCalculator {
	if cfg.EvalMaxTokens <= 0 {
		cfg.EvalMaxTokens = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfidenceCalculator{generator: generator, cfg: cfg, logger: logger}
}

func (c *ConfidenceCalculator) Calculate(ctx context.Context, state *domain.RetrievalState) domain.ConfidenceMetrics {
	if state.Window.Empty() {
		return domain.ConfidenceMetrics{
			RerankDegraded: state.RerankDegraded,
			Aggregate:      0,
			Reasoning:      "no context retrieved",
		}
	}

	metrics := domain.ConfidenceMetrics{
		Retrieval:      c.retrievalComponent(state.Window),
		Rerank:         c.rerankComponent(state),
		Resolution:     c.resolutionComponent(state.Intent, state.Entities),
		RerankDegraded: state.RerankDegraded,
	}

	weights := intentWeights[state.Intent]
	if weights == (confidenceWeights{}) {
		weights = intentWeights[domain.IntentStandard]
	}

	base := aggregate(weights, metrics)
	if base >= evalBandLow && base <= evalBandHigh {
		metrics.Generation, metrics.Reasoning = c.generationComponent(ctx, state)
	}

	metrics.Aggregate = aggregate(weights, metrics)
	if metrics.Aggregate < nonZeroFloor {
		metrics.Aggregate = nonZeroFloor
	}
	if metrics.Aggregate > 1 {
		metrics.Aggregate = 1
	}
	return metrics
}

// retrievalComponent is a saturating transform of the best retrieval score
// present in the context window.
func (c *ConfidenceCalculator) retrievalComponent(window domain.ContextWindow) domain.Component {
	best := 0.0
	for _, entry := range window.Entries {
		if entry.RetrievalScore > best {
			best = entry.RetrievalScore
		}
	}
	score := best / retrievalCeiling
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return domain.Component{Score: score, Computed: true}
}

// rerankComponent squashes the best cross-encoder score through a sigmoid.
// A degraded rerank contributes the fixed neutral value instead of a false
// high or low signal.
func (c *ConfidenceCalculator) rerankComponent(state *domain.RetrievalState) domain.Component {
	if state.RerankDegraded {
		return domain.Component{Score: neutralRerankScore, Computed: true}
	}
	best := math.Inf(-1)
	for _, entry := range state.Reranked {
		if entry.RerankScore > best {
			best = entry.RerankScore
		}
	}
	if math.IsInf(best, -1) {
		return domain.Component{Score: neutralRerankScore, Computed: true}
	}
	return domain.Component{Score: 1 / (1 + math.Exp(-best)), Computed: true}
}

// resolutionComponent is the weakest resolution confidence across the
// intent's required entities; 1.0 when the intent required none.
func (c *ConfidenceCalculator) resolutionComponent(intent domain.Intent, entities domain.ResolvedEntities) domain.Component {
	required := requiredRoles(intent)
	if len(required) == 0 {
		return domain.Component{Score: 1.0, Computed: true}
	}

	minScore := 1.0
	anyResolved := false
	for _, role := range required {
		entity := entities[role]
		if !entity.Resolved() {
			continue
		}
		anyResolved = true
		if entity.Confidence < minScore {
			minScore = entity.Confidence
		}
	}
	if !anyResolved {
		return domain.Component{Score: 0, Computed: true}
	}
	return domain.Component{Score: minScore, Computed: true}
}

type selfEvalPayload struct {
	ConfidenceScore float64 `json:"confidence_score"`
	Reasoning       string  `json:"reasoning"`
}

func (c *ConfidenceCalculator) generationComponent(ctx context.Context, state *domain.RetrievalState) (domain.Component, string) {
	if c.generator == nil {
		return domain.Component{}, ""
	}

	prompt := buildSelfEvalPrompt(state.Query.Text, state.Answer, len(state.Window.Entries))
	raw, err := c.generator.GenerateJSON(ctx, prompt, c.cfg.EvalMaxTokens)
	if err != nil {
		c.logger.Warn("self_evaluation_failed", "error", err)
		return domain.Component{}, ""
	}

	var payload selfEvalPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		c.logger.Warn("self_evaluation_failed", "error", err)
		return domain.Component{}, ""
	}

	score := payload.ConfidenceScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return domain.Component{Score: score, Computed: true}, payload.Reasoning
}

// aggregate renormalizes the fixed weights over whichever components were
// actually computed, so a skipped signal never silently counts as zero.
func aggregate(weights confidenceWeights, metrics domain.ConfidenceMetrics) float64 {
	type weighted struct {
		component domain.Component
		weight    float64
	}
	parts := []weighted{
		{metrics.Retrieval, weights.retrieval},
		{metrics.Rerank, weights.rerank},
		{metrics.Resolution, weights.resolution},
		{metrics.Generation, weights.generation},
	}

	var sum, total float64
	for _, part := range parts {
		if !part.component.Computed {
			continue
		}
		sum += part.weight * part.component.Score
		total += part.weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
