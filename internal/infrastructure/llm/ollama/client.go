package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

const (
	defaultEmbedTimeout      = 60 * time.Second
	defaultCompletionTimeout = 320 * time.Second
)

type Options struct {
	BaseURL           string
	GenerateModel     string
	EmbedModel        string
	EmbedTimeout      time.Duration
	CompletionTimeout time.Duration
	Executor          *resilience.Executor
}

type Client struct {
	baseURL           string
	genModel          string
	embedModel        string
	embedTimeout      time.Duration
	completionTimeout time.Duration
	httpClient        *http.Client
	executor          *resilience.Executor
}

func New(opts Options) *Client {
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = defaultEmbedTimeout
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = defaultCompletionTimeout
	}
	if opts.Executor == nil {
		opts.Executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:           strings.TrimRight(opts.BaseURL, "/"),
		genModel:          opts.GenerateModel,
		embedModel:        opts.EmbedModel,
		embedTimeout:      opts.EmbedTimeout,
		completionTimeout: opts.CompletionTimeout,
		// Per-call deadlines come from the context.
		httpClient: &http.Client{},
		executor:   opts.Executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

// Embed returns one vector per input in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.client.embedTimeout)
	defer cancel()

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "/api/embed", e.client.embedModel, request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type Completer struct {
	client *Client
}

func NewCompleter(client *Client) *Completer {
	return &Completer{client: client}
}

func (c *Completer) Model() string {
	return c.client.genModel
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.client.completionTimeout)
	defer cancel()

	request := map[string]any{
		"model":  c.client.genModel,
		"prompt": prompt,
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.client.call(ctx, "/api/generate", c.client.genModel, request, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) call(ctx context.Context, path, model string, payload any, out any, operation string) error {
	err := c.executor.Execute(ctx, "ollama."+operation, func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, model, payload, out, operation)
	}, classifyOllamaError)
	return classifyForCore("ollama "+operation, err)
}
