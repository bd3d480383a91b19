package domain

import "time"

type Intent string

const (
	IntentStandard   Intent = "standard"
	IntentLecturer   Intent = "lecturer"
	IntentComparison Intent = "comparison"
)

type GenerationMode string

const (
	ModeStandard           GenerationMode = "standard"
	ModeLecturer           GenerationMode = "lecturer"
	ModeComparison         GenerationMode = "comparison"
	ModeUnfilteredFallback GenerationMode = "unfiltered_fallback"
)

// Query is the immutable per-request input.
type Query struct {
	Text       string
	ReceivedAt time.Time
}

// SurfaceHints are the coarse tokens the classifier pulls out of the raw
// query before any catalog resolution happens.
type SurfaceHints struct {
	CourseCodes     []string
	TitleCandidates []string
	LecturerName    string
	CompareMentions []string
	ComparisonCue   bool
}

type ResolutionStage string

const (
	StageExact      ResolutionStage = "exact"
	StageFuzzy      ResolutionStage = "fuzzy"
	StageGenerative ResolutionStage = "generative"
	StageUnresolved ResolutionStage = "unresolved"
)

type EntityRole string

const (
	RoleCourseCode     EntityRole = "course_code"
	RoleLecturer       EntityRole = "lecturer"
	RoleCompareTargets EntityRole = "compare_targets"
)

// ResolvedEntity carries the canonical value(s) for one entity role, tagged
// with the cascade stage that produced it and a resolution confidence.
type ResolvedEntity struct {
	Role       EntityRole
	Values     []string
	Stage      ResolutionStage
	Confidence float64
	Ambiguous  bool
}

func (e ResolvedEntity) Resolved() bool {
	return e.Stage != StageUnresolved && e.Stage != "" && len(e.Values) > 0
}

func (e ResolvedEntity) Value() string {
	if len(e.Values) == 0 {
		return ""
	}
	return e.Values[0]
}

// ResolvedEntities maps entity roles to their resolution outcome. An empty
// map is valid and means unfiltered retrieval.
type ResolvedEntities map[EntityRole]ResolvedEntity

func (re ResolvedEntities) Resolved(role EntityRole) bool {
	return re[role].Resolved()
}

// Extracted renders the mapping for response metadata.
func (re ResolvedEntities) Extracted() map[string]any {
	out := make(map[string]any, len(re))
	for role, entity := range re {
		entry := map[string]any{
			"stage":      string(entity.Stage),
			"confidence": entity.Confidence,
		}
		if entity.Ambiguous {
			entry["ambiguous"] = true
		}
		switch {
		case !entity.Resolved():
			entry["value"] = "unresolved"
		case role == RoleCompareTargets:
			entry["value"] = entity.Values
		default:
			entry["value"] = entity.Value()
		}
		out[string(role)] = entry
	}
	return out
}

// PipelineStage is the orchestrator state-machine position for one query.
type PipelineStage string

const (
	StateInit       PipelineStage = "INIT"
	StateClassified PipelineStage = "CLASSIFIED"
	StateResolved   PipelineStage = "RESOLVED"
	StateRetrieved  PipelineStage = "RETRIEVED"
	StateReranked   PipelineStage = "RERANKED"
	StateExpanded   PipelineStage = "EXPANDED"
	StateGenerated  PipelineStage = "GENERATED"
	StateScored     PipelineStage = "SCORED"
	StateDone       PipelineStage = "DONE"
	StateFailed     PipelineStage = "FAILED"
)

// RetrievalState is the single mutable object threaded through the pipeline
// for one query. It is owned by exactly one in-flight query.
type RetrievalState struct {
	Query          Query
	Stage          PipelineStage
	Intent         Intent
	Hints          SurfaceHints
	Entities       ResolvedEntities
	Candidates     []Candidate
	Reranked       []RerankedChunk
	RerankDegraded bool
	Window         ContextWindow
	Answer         string
	Mode           GenerationMode
	Confidence     ConfidenceMetrics
}

func NewRetrievalState(text string) *RetrievalState {
	return &RetrievalState{
		Query: Query{Text: text, ReceivedAt: time.Now()},
		Stage: StateInit,
		Mode:  ModeStandard,
	}
}

// AgentStats are the aggregate counters exposed on /stats.
type AgentStats struct {
	TotalQueries       int64            `json:"total_queries"`
	SuccessfulQueries  int64            `json:"successful_queries"`
	AverageConfidence  float64          `json:"average_confidence"`
	AverageTimeSeconds float64          `json:"average_time_seconds"`
	ModeUsage          map[string]int64 `json:"mode_usage"`
}

// HealthReport describes liveness of the pipeline's dependencies.
type HealthReport struct {
	Status      string `json:"status"`
	Catalog     bool   `json:"catalog_loaded"`
	VectorStore bool   `json:"vector_store"`
	Generator   bool   `json:"generation_service"`
}

func (h HealthReport) Healthy() bool {
	return h.Catalog && h.VectorStore && h.Generator
}
