package domain

import "strings"

// SearchFilter narrows vector search by resolved entities. Zero value means
// unfiltered retrieval.
type SearchFilter struct {
	CourseCode  string
	CourseCodes []string
}

func (f SearchFilter) Empty() bool {
	return f.CourseCode == "" && len(f.CourseCodes) == 0
}

// Chunk is a unit of retrievable text owned by the vector store. Chunks are
// immutable once ingested; the pipeline only ranks and filters them.
type Chunk struct {
	ID           string
	DocumentID   string
	CourseCode   string
	CourseTitle  string
	SectionTitle string
	Lecturers    []string
	Filename     string
	ChunkIndex   int
	Truncated    bool
	Text         string
}

// Source renders the chunk's stable source identifier.
func (c Chunk) Source() string {
	if c.CourseCode == "" {
		return c.SectionTitle
	}
	if c.SectionTitle == "" {
		return c.CourseCode
	}
	return c.CourseCode + ":" + c.SectionTitle
}

// SectionKey identifies a source section for diversity checks.
func (c Chunk) SectionKey() string {
	return strings.ToLower(c.CourseCode + "|" + c.SectionTitle)
}

// Candidate is a (chunk, retrieval score) pair from the vector store.
// Vector is the chunk embedding, used by MMR re-selection.
type Candidate struct {
	Chunk          Chunk
	RetrievalScore float64
	Vector         []float32
}

// RerankedChunk keeps both scores so confidence can use either signal.
type RerankedChunk struct {
	Chunk          Chunk
	RerankScore    float64
	RetrievalScore float64
}

// RerankScore is one cross-encoder score, indexed into the candidate slice
// handed to the reranker.
type RerankScore struct {
	Index int
	Score float64
}

// ContextEntry is one passage admitted into the context window. Expanded
// marks sibling sections pulled in after reranking.
type ContextEntry struct {
	Chunk          Chunk
	RerankScore    float64
	RetrievalScore float64
	Expanded       bool
}

// ContextWindow is the token-budgeted, ordered passage set handed to the
// generator.
type ContextWindow struct {
	Entries    []ContextEntry
	TokenCount int
	Budget     int
}

func (w ContextWindow) Empty() bool {
	return len(w.Entries) == 0
}

// Sources lists distinct source identifiers in window order.
func (w ContextWindow) Sources() []string {
	seen := make(map[string]struct{}, len(w.Entries))
	out := make([]string, 0, len(w.Entries))
	for _, entry := range w.Entries {
		source := entry.Chunk.Source()
		if source == "" {
			continue
		}
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		out = append(out, source)
	}
	return out
}

// EstimateTokens is the budget heuristic used across the pipeline: roughly
// four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Component is one confidence signal. Computed distinguishes a real zero
// from "this signal was never produced".
type Component struct {
	Score    float64
	Computed bool
}

// ConfidenceMetrics is the structured confidence breakdown. Recomputing is
// always a full replacement.
type ConfidenceMetrics struct {
	Retrieval      Component
	Rerank         Component
	Resolution     Component
	Generation     Component
	RerankDegraded bool
	Aggregate      float64
	Reasoning      string
}

// ResponseMetadata is the metadata sub-object of a RAGResponse.
type ResponseMetadata struct {
	Extracted map[string]any `json:"extracted"`
	DocCount  int            `json:"doc_count"`
	Mode      string         `json:"mode"`
}

// RAGResponse is the externally visible, immutable result of one query.
type RAGResponse struct {
	Answer         string           `json:"answer"`
	Confidence     float64          `json:"confidence"`
	Sources        []string         `json:"sources"`
	GenerationMode string           `json:"generation_mode"`
	ProcessingTime float64          `json:"processing_time"`
	Metadata       ResponseMetadata `json:"metadata"`
}
