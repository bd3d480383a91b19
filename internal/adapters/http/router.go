package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/academic-rag/internal/core/ports"
)

type Router struct {
	service ports.QueryService
	stats   ports.StatsReader
	catalog ports.CatalogReader
	health  ports.HealthChecker
	logger  *slog.Logger

	metricsHandler http.Handler
	middlewares    []func(http.Handler) http.Handler
}

func NewRouter(
	service ports.QueryService,
	stats ports.StatsReader,
	catalog ports.CatalogReader,
	health ports.HealthChecker,
	logger *slog.Logger,
	metricsHandler http.Handler,
	middlewares ...func(http.Handler) http.Handler,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		service:        service,
		stats:          stats,
		catalog:        catalog,
		health:         health,
		logger:         logger,
		metricsHandler: metricsHandler,
		middlewares:    middlewares,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", rt.postQuery)
	mux.HandleFunc("/health", rt.getHealth)
	mux.HandleFunc("/stats", rt.getStats)
	mux.HandleFunc("/catalog", rt.getCatalog)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}

	var handler http.Handler = mux
	for i := len(rt.middlewares) - 1; i >= 0; i-- {
		handler = rt.middlewares[i](handler)
	}
	return handler
}

func (rt *Router) postQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	response, err := rt.service.Ask(r.Context(), req.Query)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= 500 {
			rt.logger.Error("query_failed",
				"request_id", requestIDFromContext(r.Context()),
				"status", status,
				"error", err,
			)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (rt *Router) getHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	report := rt.health.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (rt *Router) getStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rt.stats.Stats())
}

func (rt *Router) getCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	catalog := rt.catalog.Snapshot()

	type courseEntry struct {
		Code      string   `json:"code"`
		Title     string   `json:"title"`
		Lecturers []string `json:"lecturers,omitempty"`
	}
	codes := catalog.Codes()
	courses := make([]courseEntry, 0, len(codes))
	for _, code := range codes {
		courses = append(courses, courseEntry{
			Code:      code,
			Title:     catalog.TitleOf(code),
			Lecturers: catalog.LecturersOf(code),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"courses": courses,
		"stats":   catalog.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write_json_response", "error", err)
	}
}
