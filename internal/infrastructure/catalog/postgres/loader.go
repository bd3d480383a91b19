package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

// CourseLoader reads the course vocabulary the ingestion pipeline maintains.
// The retrieval service only ever selects from this table.
type CourseLoader struct {
	db *sql.DB
}

func NewCourseLoader(db *sql.DB) *CourseLoader {
	return &CourseLoader{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (l *CourseLoader) LoadCourses(ctx context.Context) ([]domain.CourseMeta, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT course_code, course_title, lecturers, file_name
FROM course_catalog
ORDER BY course_code`)
	if err != nil {
		return nil, fmt.Errorf("query course catalog: %w", err)
	}
	defer rows.Close()

	var courses []domain.CourseMeta
	for rows.Next() {
		var (
			course       domain.CourseMeta
			lecturersRaw sql.NullString
			filename     sql.NullString
		)
		if err := rows.Scan(&course.Code, &course.Title, &lecturersRaw, &filename); err != nil {
			return nil, fmt.Errorf("scan course row: %w", err)
		}
		course.Lecturers = parseLecturers(lecturersRaw.String)
		course.Filename = filename.String
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course rows: %w", err)
	}
	return courses, nil
}

// parseLecturers accepts both storage formats found in ingested data: a JSON
// array or a comma-separated list.
func parseLecturers(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err == nil {
			out := make([]string, 0, len(names))
			for _, name := range names {
				if trimmed := strings.TrimSpace(name); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			return out
		}
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
