package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/academic-rag/internal/core/domain"
)

// Client reads the pre-indexed course-sheet collection over Qdrant's REST
// API. The retrieval service never writes points; ingestion owns the
// collection lifecycle.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.Candidate, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if q := buildFilter(filter); q != nil {
		reqBody["filter"] = q
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &searchResp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.Candidate{
			Chunk:          chunkFromPayload(r.Payload),
			RetrievalScore: r.Score,
			Vector:         r.Vector,
		})
	}
	return out, nil
}

// FetchSection looks up one specific section of one course by payload match.
func (c *Client) FetchSection(ctx context.Context, courseCode, sectionTitle string) (*domain.Chunk, error) {
	reqBody := map[string]any{
		"limit":        1,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "course_code", "match": map[string]any{"value": domain.NormalizeCode(courseCode)}},
				{"key": "section_title", "match": map[string]any{"value": sectionTitle}},
			},
		},
	}

	var scrollResp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &scrollResp, "scroll"); err != nil {
		return nil, err
	}
	if len(scrollResp.Result.Points) == 0 {
		return nil, nil
	}
	chunk := chunkFromPayload(scrollResp.Result.Points[0].Payload)
	return &chunk, nil
}

func (c *Client) Healthz(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return fmt.Errorf("create readyz request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrVectorStoreUnavailable, "healthz", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.WrapError(domain.ErrVectorStoreUnavailable, "healthz",
			fmt.Errorf("qdrant readyz status: %s", resp.Status))
	}
	return nil
}

func buildFilter(filter domain.SearchFilter) map[string]any {
	switch {
	case len(filter.CourseCodes) > 0:
		codes := make([]string, 0, len(filter.CourseCodes))
		for _, code := range filter.CourseCodes {
			codes = append(codes, domain.NormalizeCode(code))
		}
		return map[string]any{
			"must": []map[string]any{
				{"key": "course_code", "match": map[string]any{"any": codes}},
			},
		}
	case filter.CourseCode != "":
		return map[string]any{
			"must": []map[string]any{
				{"key": "course_code", "match": map[string]any{"value": domain.NormalizeCode(filter.CourseCode)}},
			},
		}
	default:
		return nil
	}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrVectorStoreUnavailable, operation,
			fmt.Errorf("qdrant %s request: %w", operation, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.WrapError(domain.ErrVectorStoreUnavailable, operation,
			fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, strings.TrimSpace(string(msg))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func chunkFromPayload(payload map[string]any) domain.Chunk {
	return domain.Chunk{
		ID:           payloadString(payload, "chunk_id"),
		DocumentID:   payloadString(payload, "doc_id"),
		CourseCode:   payloadString(payload, "course_code"),
		CourseTitle:  payloadString(payload, "course_title"),
		SectionTitle: payloadString(payload, "section_title"),
		Lecturers:    payloadStrings(payload, "lecturers"),
		Filename:     payloadString(payload, "file_name"),
		ChunkIndex:   payloadInt(payload, "chunk_index"),
		Truncated:    payloadBool(payload, "truncated"),
		Text:         payloadString(payload, "text"),
	}
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadStrings(payload map[string]any, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	switch typed := v.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if typed == "" {
			return nil
		}
		parts := strings.Split(typed, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return nil
	}
}

func payloadInt(payload map[string]any, key string) int {
	switch typed := payload[key].(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	default:
		return 0
	}
}

func payloadBool(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}
