package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/academic-rag/internal/core/domain"
	"github.com/kirillkom/academic-rag/internal/infrastructure/resilience"
)

// Client talks to one Ollama instance for both embeddings and generation.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	timeout    time.Duration
	httpClient *http.Client
	exec       *resilience.Executor
}

type Option func(*Client)

func WithGenerationTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func New(baseURL, genModel, embedModel string, exec *resilience.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		timeout:    60 * time.Second,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		exec:       exec,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embedder adapts the client to the pipeline's query-embedding port.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.do(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed query", err)
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Generator adapts the client to the pipeline's text-generation port. Every
// call gets its own deadline so one slow generation cannot hold a pipeline
// slot indefinitely.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return g.client.generate(ctx, prompt, maxTokens, false)
}

func (g *Generator) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return g.client.generate(ctx, prompt, maxTokens, true)
}

func (g *Generator) Healthz(ctx context.Context) error {
	return g.client.getJSON(ctx, "/api/tags", &struct{}{}, "healthz")
}

func (c *Client) generate(ctx context.Context, prompt string, maxTokens int, jsonFormat bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
	}
	if maxTokens > 0 {
		request["options"] = map[string]any{"num_predict": maxTokens}
	}
	if jsonFormat {
		request["format"] = "json"
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.do(ctx, "generate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", request, &response, "generate")
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.WrapError(domain.ErrGenerationTimeout, "generate", err)
		}
		return "", domain.WrapError(domain.ErrGenerationFailed, "generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.exec == nil {
		return fn(ctx)
	}
	return c.exec.Do(ctx, "ollama."+operation, classifyOllamaError, fn)
}
