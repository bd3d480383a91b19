package usecase

import (
	"testing"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

func classifierCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.CourseMeta{
		{Code: "4056ADVDB", Title: "Advanced Databases", Lecturers: []string{"Maria Rossi"}},
		{Code: "4049COMPNET", Title: "Computer Networks", Lecturers: []string{"John Smith"}},
		{Code: "4031OPSYS", Title: "Operating Systems", Lecturers: []string{"Alan Jones"}},
	})
}

func TestClassifyStandardQuery(t *testing.T) {
	intent, hints := ClassifyQuery("What are the prerequisites for 4056ADVDB?", classifierCatalog())
	if intent != domain.IntentStandard {
		t.Fatalf("expected standard intent, got %s", intent)
	}
	if len(hints.CourseCodes) != 1 || hints.CourseCodes[0] != "4056ADVDB" {
		t.Fatalf("expected course code hint, got %v", hints.CourseCodes)
	}
}

func TestClassifyLecturerQuery(t *testing.T) {
	intent, hints := ClassifyQuery("Which courses are taught by Maria Rossi?", classifierCatalog())
	if intent != domain.IntentLecturer {
		t.Fatalf("expected lecturer intent, got %s", intent)
	}
	if hints.LecturerName != "Maria Rossi" {
		t.Fatalf("expected lecturer name hint, got %q", hints.LecturerName)
	}
}

func TestClassifyComparisonByKeyword(t *testing.T) {
	intent, hints := ClassifyQuery("Compare 4056ADVDB and 4049COMPNET", classifierCatalog())
	if intent != domain.IntentComparison {
		t.Fatalf("expected comparison intent, got %s", intent)
	}
	if len(hints.CompareMentions) < 2 {
		t.Fatalf("expected two compare mentions, got %v", hints.CompareMentions)
	}
}

func TestClassifyComparisonByQuotedTitles(t *testing.T) {
	intent, hints := ClassifyQuery(
		"What is the difference between 'Advanced Databases' and 'Computer Networks'?",
		classifierCatalog(),
	)
	if intent != domain.IntentComparison {
		t.Fatalf("expected comparison intent, got %s", intent)
	}
	if hints.CompareMentions[0] != "Advanced Databases" || hints.CompareMentions[1] != "Computer Networks" {
		t.Fatalf("compare mentions must preserve query order, got %v", hints.CompareMentions)
	}
}

func TestClassifyComparisonByVs(t *testing.T) {
	intent, _ := ClassifyQuery("4056ADVDB vs 4049COMPNET", classifierCatalog())
	if intent != domain.IntentComparison {
		t.Fatalf("expected comparison intent, got %s", intent)
	}
}

func TestClassifyComparisonByConnectiveAndKnownCodes(t *testing.T) {
	// No comparison keyword at all; two catalog-known codes joined by "and"
	// are still a comparison question.
	intent, _ := ClassifyQuery("Tell me about 4056ADVDB and 4049COMPNET", classifierCatalog())
	if intent != domain.IntentComparison {
		t.Fatalf("expected comparison intent, got %s", intent)
	}
}

func TestComparisonTakesPrecedenceOverLecturer(t *testing.T) {
	intent, _ := ClassifyQuery(
		"Compare 4056ADVDB and 4049COMPNET taught by Maria Rossi",
		classifierCatalog(),
	)
	if intent != domain.IntentComparison {
		t.Fatalf("comparison must win over lecturer cues, got %s", intent)
	}
}

func TestSingleCodeWithConnectiveStaysStandard(t *testing.T) {
	intent, _ := ClassifyQuery("Tell me about 4056ADVDB and its exam", classifierCatalog())
	if intent != domain.IntentStandard {
		t.Fatalf("one known code must not trigger comparison, got %s", intent)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	catalog := classifierCatalog()
	query := "What is the difference between 'Advanced Databases' and 'Computer Networks'?"

	firstIntent, firstHints := ClassifyQuery(query, catalog)
	for i := 0; i < 5; i++ {
		intent, hints := ClassifyQuery(query, catalog)
		if intent != firstIntent {
			t.Fatalf("intent changed between runs: %s vs %s", firstIntent, intent)
		}
		if len(hints.CompareMentions) != len(firstHints.CompareMentions) {
			t.Fatalf("hints changed between runs: %v vs %v", firstHints.CompareMentions, hints.CompareMentions)
		}
	}
}

func TestExtractCourseCodesDeduplicates(t *testing.T) {
	codes := extractCourseCodes("4056ADVDB or 4056advdb, plus 4049COMPNET")
	if len(codes) != 2 {
		t.Fatalf("expected 2 unique codes, got %v", codes)
	}
	if codes[0] != "4056ADVDB" || codes[1] != "4049COMPNET" {
		t.Fatalf("codes must keep first-mention order, got %v", codes)
	}
}
