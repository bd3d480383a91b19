package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

// Query classification is rule-first. Patterns mirror the course-code shape
// used by the ingested corpus (e.g. 2001WETGDT) and common phrasings for
// lecturer and comparison questions. The catalog is consulted only to
// validate course-like tokens, never to decide intent on its own.

var (
	courseCodeRe = regexp.MustCompile(`\b\d{4}[A-Z]{3,}[A-Z0-9]*\b`)
	lecturerRe   = regexp.MustCompile(`(?i)(?:taught\s+by|courses\s+taught\s+by|by)\s+([A-Z][A-Za-z .'\-]+)`)
	quotedRe     = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)
	betweenRe    = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+?)(?:[?.!]|$)`)
	vsRe         = regexp.MustCompile(`(?i)\bvs\.?\b`)
	conjSplitRe  = regexp.MustCompile(`(?i)\b(?:and|vs\.?|versus)\b|,`)
	fillerRe     = regexp.MustCompile(`(?i)^(compare|between|vs|and|versus|courses?)$`)
	articleRe    = regexp.MustCompile(`(?i)\b(the|a|an)\b`)
	trailPunctRe = regexp.MustCompile(`[?.!]+$`)

	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)course\s+([A-Za-z][\w\s&\-:]+)`),
		regexp.MustCompile(`(?i)([A-Za-z][\w\s&\-:]+)\s+course`),
		regexp.MustCompile(`(?i)for\s+(?:the\s+)?([A-Za-z][\w\s&\-:]+)\s+course`),
		regexp.MustCompile(`(?i)about\s+(?:the\s+)?([A-Za-z][\w\s&\-:]+)`),
	}
)

var lecturerKeywords = []string{"taught by", "who teaches", "which courses", "courses taught"}

var comparisonKeywords = []string{
	"compare", "comparison", "difference between", "differences between", "versus",
}

// ClassifyQuery assigns an intent and extracts surface hints. Pure function
// of the query text and the catalog vocabulary. Intent precedence is
// COMPARISON > LECTURER > STANDARD when signals conflict.
func ClassifyQuery(text string, catalog *domain.Catalog) (domain.Intent, domain.SurfaceHints) {
	hints := domain.SurfaceHints{
		CourseCodes:     extractCourseCodes(text),
		TitleCandidates: extractTitleCandidates(text),
		LecturerName:    extractLecturerName(text),
	}
	hints.ComparisonCue = hasComparisonCue(text)
	hints.CompareMentions = extractCompareMentions(text)

	if isComparisonQuery(text, hints, catalog) {
		return domain.IntentComparison, hints
	}
	if isLecturerQuery(text) {
		return domain.IntentLecturer, hints
	}
	return domain.IntentStandard, hints
}

func isLecturerQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range lecturerKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func hasComparisonCue(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range comparisonKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return vsRe.MatchString(text)
}

// isComparisonQuery holds when an explicit comparison keyword is present, or
// when "and" joins two distinct course identifiers the catalog knows about.
func isComparisonQuery(text string, hints domain.SurfaceHints, catalog *domain.Catalog) bool {
	if hints.ComparisonCue && len(hints.CompareMentions) >= 2 {
		return true
	}
	if hints.ComparisonCue && betweenRe.MatchString(text) {
		return true
	}
	if catalog == nil {
		return false
	}
	if !strings.Contains(strings.ToLower(text), " and ") {
		return false
	}
	known := 0
	seen := make(map[string]struct{})
	for _, code := range hints.CourseCodes {
		if catalog.ExistsCode(code) {
			if _, dup := seen[domain.NormalizeCode(code)]; !dup {
				seen[domain.NormalizeCode(code)] = struct{}{}
				known++
			}
		}
	}
	for _, mention := range hints.CompareMentions {
		if code, ok := catalog.ExactTitle(mention); ok {
			if _, dup := seen[code]; !dup {
				seen[code] = struct{}{}
				known++
			}
		}
	}
	return known >= 2
}

func extractCourseCodes(text string) []string {
	matches := courseCodeRe.FindAllString(strings.ToUpper(text), -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		code := domain.NormalizeCode(match)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func extractTitleCandidates(text string) []string {
	var out []string

	for _, match := range quotedRe.FindAllStringSubmatch(text, -1) {
		candidate := match[1]
		if candidate == "" {
			candidate = match[2]
		}
		if candidate = strings.TrimSpace(candidate); len(candidate) >= 2 {
			out = append(out, candidate)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, pattern := range titlePatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		candidate := articleRe.ReplaceAllString(match[1], "")
		candidate = strings.TrimSpace(trailPunctRe.ReplaceAllString(candidate, ""))
		candidate = strings.Join(strings.Fields(candidate), " ")
		if len(candidate) > 2 {
			out = append(out, candidate)
			break
		}
	}
	return out
}

func extractLecturerName(text string) string {
	match := lecturerRe.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(trailPunctRe.ReplaceAllString(match[1], ""))
}

// extractCompareMentions pulls course-like mentions for comparison queries:
// quoted titles, raw codes, "between X and Y" sides, then a conjunction
// split as a last resort. Order is preserved, duplicates dropped.
func extractCompareMentions(text string) []string {
	var mentions []string

	for _, match := range quotedRe.FindAllStringSubmatch(text, -1) {
		candidate := match[1]
		if candidate == "" {
			candidate = match[2]
		}
		if candidate = strings.TrimSpace(candidate); len(candidate) >= 2 {
			mentions = append(mentions, candidate)
		}
	}

	mentions = append(mentions, extractCourseCodes(text)...)

	if match := betweenRe.FindStringSubmatch(text); match != nil {
		for _, side := range match[1:3] {
			side = strings.TrimSpace(trailPunctRe.ReplaceAllString(side, ""))
			if side != "" {
				mentions = append(mentions, side)
			}
		}
	}

	if len(mentions) < 2 {
		for _, part := range conjSplitRe.Split(text, -1) {
			part = strings.Trim(part, " ?!.\"'-–—·")
			if len(part) < 3 || fillerRe.MatchString(part) {
				continue
			}
			mentions = append(mentions, part)
		}
	}

	seen := make(map[string]struct{}, len(mentions))
	out := make([]string, 0, len(mentions))
	for _, mention := range mentions {
		key := strings.ToLower(mention)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, mention)
	}
	return out
}
