package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/infrastructure/resilience"
)

func newTestClient(url string) *Client {
	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	}, resilience.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	return New(Options{BaseURL: url, GenerateModel: "llama3", EmbedModel: "nomic-embed-text", Executor: exec})
}

func TestCompleterSendsPromptAndTrimsResponse(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  Revenue rose 8%.  "}`))
	}))
	defer server.Close()

	completer := NewCompleter(newTestClient(server.URL))
	got, err := completer.Complete(context.Background(), "question?")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "Revenue rose 8%." {
		t.Fatalf("unexpected completion: %q", got)
	}
	if captured["prompt"] != "question?" || captured["model"] != "llama3" || captured["stream"] != false {
		t.Fatalf("unexpected request payload: %v", captured)
	}
	if completer.Model() != "llama3" {
		t.Fatalf("unexpected model: %s", completer.Model())
	}
}

func TestEmbedReturnsVectorsInInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		out := make([][]float32, len(payload.Input))
		for i := range payload.Input {
			out[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	vecs, err := embedder.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid input type", http.StatusBadRequest)
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "invalid input type") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("400 must not be classified as temporary: %v", err)
	}
}

func TestMissingModelIsConfigurationError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic-embed-text\" not found, try pulling it first"}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).EmbedQuery(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("missing model must not be temporary: %v", err)
	}
	if !strings.Contains(err.Error(), `model "nomic-embed-text" unavailable`) {
		t.Fatalf("expected model name in error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("missing model must not be retried, got %d calls", calls.Load())
	}

	_, err = NewCompleter(newTestClient(server.URL)).Complete(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrConfiguration) || !strings.Contains(err.Error(), `"llama3"`) {
		t.Fatalf("expected ErrConfiguration naming the generate model, got %v", err)
	}
}

func TestEmbedTimeoutIsTemporary(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)
	client.embedTimeout = 20 * time.Millisecond
	_, err := NewEmbedder(client).EmbedQuery(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestRetryableStatusIsRetriedAndMarkedTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).EmbedQuery(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected HTTPStatusError in chain, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}
