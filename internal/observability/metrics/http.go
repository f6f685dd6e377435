package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	ragAnswersTotal    *prometheus.CounterVec
	ragSearchTotal     *prometheus.CounterVec
	ragRetrievedChunks *prometheus.HistogramVec
	ragTextMissTotal   *prometheus.CounterVec
	ragDuration        *prometheus.HistogramVec
	ingestDocuments    *prometheus.CounterVec
	ingestChunks       *prometheus.CounterVec
	auditPublishTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ragAnswersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total answers by status (answered, no_context, degraded).",
		},
		[]string{"service", "status"},
	)
	ragSearchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "search_requests_total",
			Help:      "Total successful similarity searches.",
		},
		[]string{"service", "text_retrieved"},
	)
	ragRetrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
		},
		[]string{"service", "endpoint"},
	)
	ragTextMissTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "text_unavailable_total",
			Help:      "Total retrieved chunks whose text could not be rehydrated.",
		},
		[]string{"service", "endpoint"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paa",
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "RAG execution duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 320},
		},
		[]string{"service", "endpoint"},
	)
	ingestDocuments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total documents indexed by status.",
		},
		[]string{"service", "doc_type", "status"},
	)
	ingestChunks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total chunks written to the vector index.",
		},
		[]string{"service", "doc_type"},
	)
	auditPublishTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paa",
			Subsystem: "audit",
			Name:      "publish_total",
			Help:      "Audit events by publish outcome (published, failed, dropped).",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		ragAnswersTotal,
		ragSearchTotal,
		ragRetrievedChunks,
		ragTextMissTotal,
		ragDuration,
		ingestDocuments,
		ingestChunks,
		auditPublishTotal,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		ragAnswersTotal:    ragAnswersTotal,
		ragSearchTotal:     ragSearchTotal,
		ragRetrievedChunks: ragRetrievedChunks,
		ragTextMissTotal:   ragTextMissTotal,
		ragDuration:        ragDuration,
		ingestDocuments:    ingestDocuments,
		ingestChunks:       ingestChunks,
		auditPublishTotal:  auditPublishTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps group ids and document names out of label values.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/groups/") {
		return path
	}
	parts := strings.Split(strings.TrimPrefix(path, "/v1/groups/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "documents":
		return "/v1/groups/{group_id}/documents"
	case len(parts) == 2 && parts[1] == "stats":
		return "/v1/groups/{group_id}/stats"
	case len(parts) >= 3 && parts[1] == "documents":
		return "/v1/groups/{group_id}/documents/{document_name}"
	default:
		return "/v1/groups/other"
	}
}

func (m *HTTPServerMetrics) RecordAnswer(service, status string, sourceCount, textMissing int, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.ragAnswersTotal.WithLabelValues(service, status).Inc()
	m.observeRetrieval(service, "answer", sourceCount, textMissing, duration)
}

func (m *HTTPServerMetrics) RecordSearch(service string, textRetrieved bool, resultCount, textMissing int, duration time.Duration) {
	m.ragSearchTotal.WithLabelValues(service, strconv.FormatBool(textRetrieved)).Inc()
	m.observeRetrieval(service, "query", resultCount, textMissing, duration)
}

func (m *HTTPServerMetrics) observeRetrieval(service, endpoint string, count, textMissing int, duration time.Duration) {
	m.ragRetrievedChunks.WithLabelValues(service, endpoint).Observe(float64(count))
	m.ragDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	if textMissing > 0 {
		m.ragTextMissTotal.WithLabelValues(service, endpoint).Add(float64(textMissing))
	}
}

func (m *HTTPServerMetrics) RecordIngest(service, docType string, chunks int, err error) {
	if docType == "" {
		docType = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ingestDocuments.WithLabelValues(service, docType, status).Inc()
	if chunks > 0 {
		m.ingestChunks.WithLabelValues(service, docType).Add(float64(chunks))
	}
}

// AuditPublishObserver returns a hook for the audit emitter.
func (m *HTTPServerMetrics) AuditPublishObserver(service string) func(outcome string) {
	return func(outcome string) {
		m.auditPublishTotal.WithLabelValues(service, outcome).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
