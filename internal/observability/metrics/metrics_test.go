package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHTTPServerMetricsRecordsRAGAndIngest(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordAnswer("api", "degraded", 3, 1, 2*time.Second)
	m.RecordSearch("api", true, 2, 0, 50*time.Millisecond)
	m.RecordIngest("api", "pdf", 42, nil)
	m.RecordIngest("api", "pdf", 0, errors.New("boom"))
	m.AuditPublishObserver("api")("dropped")

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`paa_rag_answers_total{service="api",status="degraded"} 1`,
		`paa_rag_search_requests_total{service="api",text_retrieved="true"} 1`,
		`paa_rag_text_unavailable_total{endpoint="answer",service="api"} 1`,
		`paa_ingest_documents_total{doc_type="pdf",service="api",status="error"} 1`,
		`paa_ingest_chunks_total{doc_type="pdf",service="api"} 42`,
		`paa_audit_publish_total{outcome="dropped",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestHTTPServerMetricsMiddlewareNormalizesPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/groups/7/documents/AAPL_10K.pdf", nil))

	body := scrape(t, m.Handler())
	want := `paa_http_requests_total{method="DELETE",path="/v1/groups/{group_id}/documents/{document_name}",service="api",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("metrics output missing %q", want)
	}
}

func TestWorkerMetricsRecordObserver(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.RecordObserver("worker")("duplicate", 10*time.Millisecond)

	body := scrape(t, m.Handler())
	if !strings.Contains(body, `paa_worker_audit_events_total{result="duplicate",service="worker"} 1`) {
		t.Fatalf("worker metrics missing duplicate counter")
	}
}
