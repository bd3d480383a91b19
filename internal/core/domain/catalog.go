package domain

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// CourseMeta is one catalog row produced by the ingestion pipeline.
type CourseMeta struct {
	Code      string
	Title     string
	Lecturers []string
	Filename  string
}

// Catalog is the closed vocabulary of known course codes, titles and
// lecturer names. Built once from ingested metadata, immutable afterwards.
type Catalog struct {
	codeToTitle    map[string]string
	titleToCode    map[string]string
	codeToLects    map[string][]string
	codeToFilename map[string]string
	titles         []string
	lecturers      []string
}

func NewCatalog(courses []CourseMeta) *Catalog {
	c := &Catalog{
		codeToTitle:    make(map[string]string, len(courses)),
		titleToCode:    make(map[string]string, len(courses)),
		codeToLects:    make(map[string][]string, len(courses)),
		codeToFilename: make(map[string]string, len(courses)),
	}

	lecturerSet := make(map[string]string)
	for _, course := range courses {
		code := NormalizeCode(course.Code)
		title := strings.TrimSpace(course.Title)
		if code == "" {
			continue
		}
		if _, ok := c.codeToTitle[code]; !ok {
			c.codeToTitle[code] = title
		}
		if title != "" {
			if _, ok := c.titleToCode[strings.ToLower(title)]; !ok {
				c.titleToCode[strings.ToLower(title)] = code
				c.titles = append(c.titles, title)
			}
		}
		if course.Filename != "" {
			c.codeToFilename[code] = course.Filename
		}
		for _, lecturer := range course.Lecturers {
			lecturer = strings.TrimSpace(lecturer)
			if lecturer == "" {
				continue
			}
			lecturerSet[strings.ToLower(lecturer)] = lecturer
			c.codeToLects[code] = append(c.codeToLects[code], lecturer)
		}
	}

	for _, lecturer := range lecturerSet {
		c.lecturers = append(c.lecturers, lecturer)
	}
	sort.Strings(c.titles)
	sort.Strings(c.lecturers)
	return c
}

// NormalizeCode canonicalizes a course-code token for catalog lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

func (c *Catalog) ExistsCode(code string) bool {
	_, ok := c.codeToTitle[NormalizeCode(code)]
	return ok
}

func (c *Catalog) TitleOf(code string) string {
	return c.codeToTitle[NormalizeCode(code)]
}

// ExactTitle maps a title to its course code, case/whitespace-insensitive.
func (c *Catalog) ExactTitle(title string) (string, bool) {
	code, ok := c.titleToCode[strings.ToLower(strings.TrimSpace(title))]
	return code, ok
}

// CanonicalLecturer maps a name to its catalog spelling, case-insensitive.
func (c *Catalog) CanonicalLecturer(name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", false
	}
	for _, lecturer := range c.lecturers {
		if strings.ToLower(lecturer) == needle {
			return lecturer, true
		}
	}
	return "", false
}

// LecturersOf returns lecturer names recorded for a course code.
func (c *Catalog) LecturersOf(code string) []string {
	return c.codeToLects[NormalizeCode(code)]
}

func (c *Catalog) Codes() []string {
	codes := make([]string, 0, len(c.codeToTitle))
	for code := range c.codeToTitle {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (c *Catalog) Titles() []string {
	return append([]string(nil), c.titles...)
}

func (c *Catalog) Lecturers() []string {
	return append([]string(nil), c.lecturers...)
}

// FuzzyMatch is the outcome of a fuzzy catalog lookup. Ambiguous is set when
// a second candidate scored within the caller's margin of the best one.
type FuzzyMatch struct {
	Value     string
	Score     float64
	Ambiguous bool
}

// FuzzyTitleToCode finds the catalog title closest to the candidate and
// returns its course code. A match below floor is rejected; a runner-up
// within margin marks the match ambiguous instead of silently picking one.
func (c *Catalog) FuzzyTitleToCode(candidate string, floor, margin float64) (FuzzyMatch, bool) {
	best, ok := fuzzyBest(candidate, c.titles, floor, margin)
	if !ok {
		return FuzzyMatch{}, false
	}
	code, found := c.ExactTitle(best.Value)
	if !found {
		return FuzzyMatch{}, false
	}
	best.Value = code
	return best, true
}

// FuzzyLecturer finds the closest known lecturer name.
func (c *Catalog) FuzzyLecturer(candidate string, floor, margin float64) (FuzzyMatch, bool) {
	return fuzzyBest(candidate, c.lecturers, floor, margin)
}

func fuzzyBest(candidate string, entries []string, floor, margin float64) (FuzzyMatch, bool) {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" || len(entries) == 0 {
		return FuzzyMatch{}, false
	}

	var (
		best       string
		bestScore  float64
		runnerUp   float64
		haveRunner bool
	)
	for _, entry := range entries {
		score := Similarity(candidate, strings.ToLower(entry))
		switch {
		case score > bestScore:
			if best != "" {
				runnerUp = bestScore
				haveRunner = true
			}
			best, bestScore = entry, score
		case best != "" && score > runnerUp:
			runnerUp = score
			haveRunner = true
		}
	}

	if best == "" || bestScore < floor {
		return FuzzyMatch{}, false
	}
	match := FuzzyMatch{Value: best, Score: bestScore}
	if haveRunner && bestScore-runnerUp < margin && runnerUp >= floor {
		match.Ambiguous = true
	}
	return match, true
}

// Similarity is a normalized edit-distance ratio in [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

type CatalogStats struct {
	Courses   int `json:"courses"`
	Titles    int `json:"titles"`
	Lecturers int `json:"lecturers"`
}

func (c *Catalog) Stats() CatalogStats {
	return CatalogStats{
		Courses:   len(c.codeToTitle),
		Titles:    len(c.titles),
		Lecturers: len(c.lecturers),
	}
}
