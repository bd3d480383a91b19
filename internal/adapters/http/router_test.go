package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

type fakeService struct {
	response *domain.RAGResponse
	err      error
	lastAsk  string
}

func (f *fakeService) Ask(_ context.Context, query string) (*domain.RAGResponse, error) {
	f.lastAsk = query
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type fakeStats struct{ stats domain.AgentStats }

func (f *fakeStats) Stats() domain.AgentStats { return f.stats }

type fakeCatalogReader struct{ catalog *domain.Catalog }

func (f *fakeCatalogReader) Snapshot() *domain.Catalog { return f.catalog }

type fakeHealth struct{ report domain.HealthReport }

func (f *fakeHealth) Health(context.Context) domain.HealthReport { return f.report }

func newTestRouter(service *fakeService, health domain.HealthReport, middlewares ...func(http.Handler) http.Handler) *Router {
	catalog := domain.NewCatalog([]domain.CourseMeta{
		{Code: "4056ADVDB", Title: "Advanced Databases", Lecturers: []string{"Maria Rossi"}},
	})
	return NewRouter(
		service,
		&fakeStats{stats: domain.AgentStats{TotalQueries: 7, ModeUsage: map[string]int64{"standard": 7}}},
		&fakeCatalogReader{catalog: catalog},
		&fakeHealth{report: health},
		nil,
		nil,
		middlewares...,
	)
}

func healthyReport() domain.HealthReport {
	return domain.HealthReport{Status: "ok", Catalog: true, VectorStore: true, Generator: true}
}

func TestPostQueryReturnsResponse(t *testing.T) {
	service := &fakeService{response: &domain.RAGResponse{
		Answer:         "The exam is written.",
		Confidence:     0.78,
		Sources:        []string{"4056ADVDB:Assessment"},
		GenerationMode: "standard",
	}}
	handler := newTestRouter(service, healthyReport()).Handler()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/query",
		strings.NewReader(`{"query":"how is the advanced databases exam graded"}`))
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response domain.RAGResponse
	if err := json.NewDecoder(recorder.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Answer != "The exam is written." || response.GenerationMode != "standard" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if service.lastAsk != "how is the advanced databases exam graded" {
		t.Fatalf("query not forwarded: %q", service.lastAsk)
	}
}

func TestPostQueryRejectsBadPayloads(t *testing.T) {
	handler := newTestRouter(&fakeService{}, healthyReport()).Handler()

	for _, body := range []string{`not json`, `{"query":"   "}`, `{}`} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
		handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, recorder.Code)
		}
	}
}

func TestPostQueryMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidQuery, "validate", errors.New("too long")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrGenerationTimeout, "generate", errors.New("deadline")), http.StatusGatewayTimeout},
		{domain.WrapError(domain.ErrGenerationFailed, "generate", errors.New("boom")), http.StatusBadGateway},
		{domain.WrapError(domain.ErrVectorStoreUnavailable, "search", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestRouter(&fakeService{err: tc.err}, healthyReport()).Handler()
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"q"}`))
		handler.ServeHTTP(recorder, request)
		if recorder.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, recorder.Code)
		}
	}
}

func TestQueryRejectsNonPost(t *testing.T) {
	handler := newTestRouter(&fakeService{}, healthyReport()).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/query", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
}

func TestHealthStatusCodes(t *testing.T) {
	handler := newTestRouter(&fakeService{}, healthyReport()).Handler()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("healthy report must yield 200, got %d", recorder.Code)
	}

	degraded := domain.HealthReport{Status: "degraded", Catalog: true, VectorStore: false, Generator: true}
	handler = newTestRouter(&fakeService{}, degraded).Handler()
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded report must yield 503, got %d", recorder.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	handler := newTestRouter(&fakeService{}, healthyReport()).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var stats domain.AgentStats
	if err := json.NewDecoder(recorder.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalQueries != 7 {
		t.Fatalf("stats not served: %+v", stats)
	}
}

func TestCatalogEndpointListsCourses(t *testing.T) {
	handler := newTestRouter(&fakeService{}, healthyReport()).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var payload struct {
		Courses []struct {
			Code      string   `json:"code"`
			Title     string   `json:"title"`
			Lecturers []string `json:"lecturers"`
		} `json:"courses"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(payload.Courses) != 1 || payload.Courses[0].Code != "4056ADVDB" {
		t.Fatalf("catalog not served: %+v", payload)
	}
}

func TestRequestIDMiddlewareEchoesAndGenerates(t *testing.T) {
	handler := newTestRouter(&fakeService{}, healthyReport(), RequestIDMiddleware).Handler()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set(requestIDHeader, "req-123")
	handler.ServeHTTP(recorder, request)
	if got := recorder.Header().Get(requestIDHeader); got != "req-123" {
		t.Fatalf("caller request id must be echoed, got %q", got)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Header().Get(requestIDHeader) == "" {
		t.Fatalf("missing request id must be generated")
	}
}

func TestRateLimitMiddlewareSheds(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.0001), 1)
	handler := newTestRouter(&fakeService{}, healthyReport(), RateLimitMiddleware(limiter)).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("first request must pass, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exhausted, expected 429, got %d", recorder.Code)
	}
}
