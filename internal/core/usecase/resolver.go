package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/core/ports"
)

type ResolverConfig struct {
	FuzzyFloor       float64
	FuzzyMargin      float64
	ExtractMaxTokens int
}

func (c ResolverConfig) normalize() ResolverConfig {
	out := c
	if out.FuzzyFloor <= 0 || out.FuzzyFloor > 1 {
		out.FuzzyFloor = 0.78
	}
	if out.FuzzyMargin <= 0 {
		out.FuzzyMargin = 0.05
	}
	if out.ExtractMaxTokens <= 0 {
		out.ExtractMaxTokens = 128
	}
	return out
}

// roleRequest is what one cascade stage sees for one entity role.
type roleRequest struct {
	role    domain.EntityRole
	query   string
	hints   domain.SurfaceHints
	catalog *domain.Catalog
}

// resolverStrategy is one stage of the resolution cascade. ok=false means
// the stage failed for this role and the cascade moves on.
type resolverStrategy interface {
	stage() domain.ResolutionStage
	attempt(ctx context.Context, req roleRequest) (domain.ResolvedEntity, bool, error)
}

// Resolver maps surface hints to canonical catalog identifiers through an
// ordered strategy cascade, short-circuiting on the first success per role.
// The generative stage runs only for roles the intent requires.
type Resolver struct {
	cheap      []resolverStrategy
	generative resolverStrategy
	logger     *slog.Logger
}

func NewResolver(generator ports.Generator, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		cheap: []resolverStrategy{
			exactStrategy{},
			fuzzyStrategy{floor: cfg.FuzzyFloor, margin: cfg.FuzzyMargin},
		},
		logger: logger,
	}
	if generator != nil {
		r.generative = &generativeStrategy{
			generator: generator,
			maxTokens: cfg.ExtractMaxTokens,
			logger:    logger,
		}
	}
	return r
}

func requiredRoles(intent domain.Intent) []domain.EntityRole {
	switch intent {
	case domain.IntentLecturer:
		return []domain.EntityRole{domain.RoleCourseCode, domain.RoleLecturer}
	case domain.IntentComparison:
		return []domain.EntityRole{domain.RoleCompareTargets}
	default:
		return nil
	}
}

func roleRequired(intent domain.Intent, role domain.EntityRole) bool {
	for _, required := range requiredRoles(intent) {
		if required == role {
			return true
		}
	}
	return false
}

// Resolve runs the cascade for every role relevant to the intent. Failed
// roles come back with an explicit unresolved marker, never an empty string.
func (r *Resolver) Resolve(
	ctx context.Context,
	intent domain.Intent,
	query string,
	hints domain.SurfaceHints,
	catalog *domain.Catalog,
) domain.ResolvedEntities {
	roles := []domain.EntityRole{domain.RoleCourseCode}
	if intent == domain.IntentLecturer || hints.LecturerName != "" {
		roles = append(roles, domain.RoleLecturer)
	}
	if intent == domain.IntentComparison {
		roles = append(roles, domain.RoleCompareTargets)
	}

	entities := make(domain.ResolvedEntities, len(roles))
	for _, role := range roles {
		entities[role] = r.resolveRole(ctx, roleRequest{
			role:    role,
			query:   query,
			hints:   hints,
			catalog: catalog,
		}, intent)
	}
	return entities
}

func (r *Resolver) resolveRole(ctx context.Context, req roleRequest, intent domain.Intent) domain.ResolvedEntity {
	strategies := r.cheap
	if r.generative != nil && roleRequired(intent, req.role) {
		strategies = append(append([]resolverStrategy(nil), r.cheap...), r.generative)
	}

	ambiguous := false
	for _, strategy := range strategies {
		entity, ok, err := strategy.attempt(ctx, req)
		if err != nil {
			r.logger.Warn("resolution_stage_error",
				"role", string(req.role),
				"stage", string(strategy.stage()),
				"error", err,
			)
			continue
		}
		if entity.Ambiguous {
			ambiguous = true
		}
		if ok {
			r.logger.Info("entity_resolved",
				"role", string(req.role),
				"stage", string(entity.Stage),
				"confidence", entity.Confidence,
			)
			return entity
		}
	}

	return domain.ResolvedEntity{
		Role:      req.role,
		Stage:     domain.StageUnresolved,
		Ambiguous: ambiguous,
	}
}

type exactStrategy struct{}

func (exactStrategy) stage() domain.ResolutionStage { return domain.StageExact }

func (exactStrategy) attempt(_ context.Context, req roleRequest) (domain.ResolvedEntity, bool, error) {
	switch req.role {
	case domain.RoleCourseCode:
		for _, code := range req.hints.CourseCodes {
			if req.catalog.ExistsCode(code) {
				return exactEntity(req.role, domain.NormalizeCode(code)), true, nil
			}
		}
		for _, title := range req.hints.TitleCandidates {
			if code, ok := req.catalog.ExactTitle(title); ok {
				return exactEntity(req.role, code), true, nil
			}
		}
		if code, ok := titleInQuery(req.query, req.catalog); ok {
			return exactEntity(req.role, code), true, nil
		}

	case domain.RoleLecturer:
		if name, ok := req.catalog.CanonicalLecturer(req.hints.LecturerName); ok {
			return exactEntity(req.role, name), true, nil
		}

	case domain.RoleCompareTargets:
		targets := exactCompareTargets(req.hints.CompareMentions, req.catalog)
		if len(targets) >= 2 {
			return domain.ResolvedEntity{
				Role:       req.role,
				Values:     targets,
				Stage:      domain.StageExact,
				Confidence: 1.0,
			}, true, nil
		}
	}
	return domain.ResolvedEntity{}, false, nil
}

// titleInQuery scans the query for a known course title appearing verbatim,
// which catches phrasings the surface patterns miss ("Who teaches Data
// Mining?"). The longest matching title wins so a more specific title is
// never shadowed by a substring of it.
func titleInQuery(query string, catalog *domain.Catalog) (string, bool) {
	lower := strings.ToLower(query)
	best := ""
	for _, title := range catalog.Titles() {
		if len(title) < 3 || len(title) <= len(best) {
			continue
		}
		if strings.Contains(lower, strings.ToLower(title)) {
			best = title
		}
	}
	if best == "" {
		return "", false
	}
	return catalog.ExactTitle(best)
}

func exactEntity(role domain.EntityRole, value string) domain.ResolvedEntity {
	return domain.ResolvedEntity{
		Role:       role,
		Values:     []string{value},
		Stage:      domain.StageExact,
		Confidence: 1.0,
	}
}

func exactCompareTargets(mentions []string, catalog *domain.Catalog) []string {
	seen := make(map[string]struct{}, len(mentions))
	targets := make([]string, 0, len(mentions))
	add := func(code string) {
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		targets = append(targets, code)
	}
	for _, mention := range mentions {
		if catalog.ExistsCode(mention) {
			add(domain.NormalizeCode(mention))
			continue
		}
		if code, ok := catalog.ExactTitle(mention); ok {
			add(code)
		}
	}
	return targets
}

type fuzzyStrategy struct {
	floor  float64
	margin float64
}

func (fuzzyStrategy) stage() domain.ResolutionStage { return domain.StageFuzzy }

func (s fuzzyStrategy) attempt(_ context.Context, req roleRequest) (domain.ResolvedEntity, bool, error) {
	switch req.role {
	case domain.RoleCourseCode:
		ambiguous := false
		for _, title := range req.hints.TitleCandidates {
			match, ok := req.catalog.FuzzyTitleToCode(title, s.floor, s.margin)
			if !ok {
				continue
			}
			if match.Ambiguous {
				ambiguous = true
				continue
			}
			return fuzzyEntity(req.role, match.Value, match.Score), true, nil
		}
		return domain.ResolvedEntity{Role: req.role, Ambiguous: ambiguous}, false, nil

	case domain.RoleLecturer:
		if req.hints.LecturerName == "" {
			return domain.ResolvedEntity{}, false, nil
		}
		match, ok := req.catalog.FuzzyLecturer(req.hints.LecturerName, s.floor, s.margin)
		if !ok {
			return domain.ResolvedEntity{}, false, nil
		}
		if match.Ambiguous {
			return domain.ResolvedEntity{Role: req.role, Ambiguous: true}, false, nil
		}
		return fuzzyEntity(req.role, match.Value, match.Score), true, nil

	case domain.RoleCompareTargets:
		targets, minScore, ambiguous := s.fuzzyCompareTargets(req)
		if len(targets) >= 2 {
			return domain.ResolvedEntity{
				Role:       req.role,
				Values:     targets,
				Stage:      domain.StageFuzzy,
				Confidence: minScore,
			}, true, nil
		}
		return domain.ResolvedEntity{Role: req.role, Ambiguous: ambiguous}, false, nil
	}
	return domain.ResolvedEntity{}, false, nil
}

func fuzzyEntity(role domain.EntityRole, value string, score float64) domain.ResolvedEntity {
	return domain.ResolvedEntity{
		Role:       role,
		Values:     []string{value},
		Stage:      domain.StageFuzzy,
		Confidence: score,
	}
}

// fuzzyCompareTargets resolves comparison mentions through exact lookups
// first, then fuzzy title matching, then a substring scan of known titles.
// The entity confidence is the weakest accepted match.
func (s fuzzyStrategy) fuzzyCompareTargets(req roleRequest) ([]string, float64, bool) {
	seen := make(map[string]struct{})
	targets := make([]string, 0, len(req.hints.CompareMentions))
	minScore := 1.0
	ambiguous := false

	add := func(code string, score float64) {
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		targets = append(targets, code)
		if score < minScore {
			minScore = score
		}
	}

	for _, mention := range req.hints.CompareMentions {
		if req.catalog.ExistsCode(mention) {
			add(domain.NormalizeCode(mention), 1.0)
			continue
		}
		if code, ok := req.catalog.ExactTitle(mention); ok {
			add(code, 1.0)
			continue
		}
		match, ok := req.catalog.FuzzyTitleToCode(mention, s.floor, s.margin)
		if !ok {
			continue
		}
		if match.Ambiguous {
			ambiguous = true
			continue
		}
		add(match.Value, match.Score)
	}

	if len(targets) < 2 {
		lower := strings.ToLower(req.query)
		for _, title := range req.catalog.Titles() {
			if strings.Contains(lower, strings.ToLower(title)) {
				if code, ok := req.catalog.ExactTitle(title); ok {
					add(code, 1.0)
				}
			}
		}
	}
	return targets, minScore, ambiguous
}

// generativeStrategy asks the text-generation service to extract the entity.
// Output is accepted only when it names an exact catalog entry, so the
// fallback cannot hallucinate new entities into the system.
type generativeStrategy struct {
	generator ports.Generator
	maxTokens int
	logger    *slog.Logger
}

const generativeConfidence = 0.6

func (*generativeStrategy) stage() domain.ResolutionStage { return domain.StageGenerative }

type extractionPayload struct {
	CourseCode     string   `json:"course_code"`
	CourseTitle    string   `json:"course_title"`
	Lecturer       string   `json:"lecturer"`
	CompareTargets []string `json:"compare_targets"`
}

func (s *generativeStrategy) attempt(ctx context.Context, req roleRequest) (domain.ResolvedEntity, bool, error) {
	raw, err := s.generator.GenerateJSON(ctx, buildExtractionPrompt(req.query, req.role, req.catalog), s.maxTokens)
	if err != nil {
		return domain.ResolvedEntity{}, false, err
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.ResolvedEntity{}, false, err
	}

	switch req.role {
	case domain.RoleCourseCode:
		if code := domain.NormalizeCode(payload.CourseCode); code != "" && req.catalog.ExistsCode(code) {
			return generativeEntity(req.role, code), true, nil
		}
		if code, ok := req.catalog.ExactTitle(payload.CourseTitle); ok {
			return generativeEntity(req.role, code), true, nil
		}

	case domain.RoleLecturer:
		if name, ok := req.catalog.CanonicalLecturer(payload.Lecturer); ok {
			return generativeEntity(req.role, name), true, nil
		}

	case domain.RoleCompareTargets:
		targets := exactCompareTargets(payload.CompareTargets, req.catalog)
		if len(targets) >= 2 {
			return domain.ResolvedEntity{
				Role:       req.role,
				Values:     targets,
				Stage:      domain.StageGenerative,
				Confidence: generativeConfidence,
			}, true, nil
		}
	}

	s.logger.Info("generative_extraction_rejected", "role", string(req.role))
	return domain.ResolvedEntity{}, false, nil
}

func generativeEntity(role domain.EntityRole, value string) domain.ResolvedEntity {
	return domain.ResolvedEntity{
		Role:       role,
		Values:     []string{value},
		Stage:      domain.StageGenerative,
		Confidence: generativeConfidence,
	}
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
