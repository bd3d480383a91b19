package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

const noInformationAnswer = "I could not find information about this in the course catalog."

const maxVocabularyEntries = 60

// buildExtractionPrompt asks the generation service to pull one entity role
// out of the query. The catalog vocabulary is included so the model can only
// echo known values; the resolver still verifies the output against the
// catalog before accepting it.
func buildExtractionPrompt(query string, role domain.EntityRole, catalog *domain.Catalog) string {
	var vocab strings.Builder
	codes := catalog.Codes()
	for i, code := range codes {
		if i >= maxVocabularyEntries {
			break
		}
		fmt.Fprintf(&vocab, "%s = %s\n", code, catalog.TitleOf(code))
	}

	var target string
	switch role {
	case domain.RoleLecturer:
		target = `the lecturer name as "lecturer"`
	case domain.RoleCompareTargets:
		target = `the compared course codes, in the order mentioned, as "compare_targets" (array)`
	default:
		target = `the course code as "course_code" and its title as "course_title"`
	}

	return fmt.Sprintf(`You extract entities from questions about university courses.
Known courses:
%s
Question: %s

Return a strict JSON object containing %s.
Use only values from the known courses. Use empty values when unsure. No markdown, no extra keys.`,
		vocab.String(), query, target)
}

func buildAnswerPrompt(query string, window domain.ContextWindow) string {
	return fmt.Sprintf(`Based on the following course information, answer the question.
Be specific and cite course codes and details when possible.
If the context is insufficient, say so directly.

Context:
%s
Question: %s

Answer:`, renderContext(window), query)
}

func buildLecturerPrompt(query string, window domain.ContextWindow) string {
	return fmt.Sprintf(`Answer the question about who teaches which course, using only the
course information below. Name lecturers exactly as they appear in the context.

Context:
%s
Question: %s

Answer:`, renderContext(window), query)
}

func buildComparisonPrompt(query string, targets []string, window domain.ContextWindow) string {
	return fmt.Sprintf(`Compare the courses %s using only the information below.
Address each course in the order listed, then summarize the differences.

Context:
%s
Question: %s

Answer:`, strings.Join(targets, " and "), renderContext(window), query)
}

// buildSelfEvalPrompt asks the model whether its own answer is supported by
// the provided context. Inputs are truncated; this is a cheap sanity signal,
// not a second generation pass.
func buildSelfEvalPrompt(query, answer string, docCount int) string {
	return fmt.Sprintf(`Evaluate whether the answer is supported by the retrieved context.

Query: %s
Answer: %s
Context: %d passages were provided.

Return a strict JSON object: {"confidence_score": <number 0..1>, "reasoning": "<one sentence>"}.
No markdown, no extra keys.`, truncate(query, 200), truncate(answer, 400), docCount)
}

func renderContext(window domain.ContextWindow) string {
	var b strings.Builder
	for i, entry := range window.Entries {
		chunk := entry.Chunk
		fmt.Fprintf(&b, "[%d] %s - %s (%s)\n%s\n\n",
			i+1, chunk.CourseCode, chunk.CourseTitle, chunk.SectionTitle, chunk.Text)
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
