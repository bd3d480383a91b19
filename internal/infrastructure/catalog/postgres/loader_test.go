package postgres

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestLoadCoursesScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"course_code", "course_title", "lecturers", "file_name"}).
		AddRow("4056ADVDB", "Advanced Databases", `["Maria Rossi","Jan Novak"]`, "4056advdb.pdf").
		AddRow("4049COMPNET", "Computer Networks", "Petra Kovacs, Li Wei", "4049compnet.pdf").
		AddRow("4031OPSYS", "Operating Systems", nil, nil)
	mock.ExpectQuery("SELECT course_code, course_title, lecturers, file_name").WillReturnRows(rows)

	loader := NewCourseLoader(db)
	courses, err := loader.LoadCourses(context.Background())
	if err != nil {
		t.Fatalf("LoadCourses() error = %v", err)
	}
	if len(courses) != 3 {
		t.Fatalf("expected 3 courses, got %d", len(courses))
	}

	if courses[0].Code != "4056ADVDB" || len(courses[0].Lecturers) != 2 {
		t.Fatalf("json lecturers not parsed: %+v", courses[0])
	}
	if len(courses[1].Lecturers) != 2 || courses[1].Lecturers[0] != "Petra Kovacs" {
		t.Fatalf("comma lecturers not parsed: %+v", courses[1])
	}
	if courses[2].Lecturers != nil || courses[2].Filename != "" {
		t.Fatalf("null columns must stay empty: %+v", courses[2])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadCoursesQueryErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT course_code").WillReturnError(errors.New("connection reset"))

	loader := NewCourseLoader(db)
	if _, err := loader.LoadCourses(context.Background()); err == nil {
		t.Fatalf("expected query error to propagate")
	}
}

func TestParseLecturersFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"  ", 0},
		{`["A","B"]`, 2},
		{`[" A ", ""]`, 1},
		{"A, B, C", 3},
		{"Solo", 1},
	}
	for _, tc := range cases {
		if got := parseLecturers(tc.raw); len(got) != tc.want {
			t.Fatalf("parseLecturers(%q) = %v, want %d names", tc.raw, got, tc.want)
		}
	}
}
