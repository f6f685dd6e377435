package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/filings-assistant/internal/config"
	"github.com/kirillkom/filings-assistant/internal/core/domain"
	"github.com/kirillkom/filings-assistant/internal/core/ports"
	"github.com/kirillkom/filings-assistant/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxJSONBodySize = 1 << 20
	multipartMemory = 32 << 20
)

type Router struct {
	cfg     config.Config
	indexer ports.DocumentIndexer
	query   ports.DocumentQueryService
	stats   ports.StatsReader
	metrics *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	indexer ports.DocumentIndexer,
	query ports.DocumentQueryService,
	stats ports.StatsReader,
) *Router {
	return &Router{
		cfg:     cfg,
		indexer: indexer,
		query:   query,
		stats:   stats,
	}
}

// WithMetrics enables request and RAG metrics plus the /metrics endpoint.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.indexDocument)
	mux.HandleFunc("GET /v1/groups/{group_id}/documents", rt.listDocuments)
	mux.HandleFunc("DELETE /v1/groups/{group_id}/documents/{document_name}", rt.deleteDocument)
	mux.HandleFunc("GET /v1/groups/{group_id}/stats", rt.groupStats)
	mux.HandleFunc("GET /v1/stats", rt.allStats)
	mux.HandleFunc("POST /v1/query", rt.search)
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("POST /v1/retrieve-text", rt.retrieveText)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if validator, err := newRequestValidator(); err != nil {
		slog.Error("openapi_validator_disabled", "error", err)
	} else {
		handler = validator.middleware(handler)
	}
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) indexDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.UploadMaxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "document exceeds upload limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form with field 'file' is required"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	groupID, err := parseGroupID(r.FormValue("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(r.FormValue("document_name"))
	if name == "" {
		name = filepath.Base(header.Filename)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read uploaded file"})
		return
	}

	result, err := rt.indexer.Index(r.Context(), domain.IndexRequest{
		GroupID:      groupID,
		DocumentName: name,
		Data:         data,
		ReportDate:   strings.TrimSpace(r.FormValue("report_date")),
		ReportKind:   strings.TrimSpace(r.FormValue("report_type")),
	})
	if rt.metrics != nil {
		chunks := 0
		if result != nil {
			chunks = result.ChunksStored
		}
		rt.metrics.RecordIngest(serviceName, docTypeLabel(name), chunks, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r.PathValue("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := rt.indexer.List(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id":  groupID,
		"documents": docs,
		"total":     len(docs),
	})
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r.PathValue("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := r.PathValue("document_name")
	purge := false
	if raw := r.URL.Query().Get("purge_archive"); raw != "" {
		purge, err = strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "purge_archive must be a boolean"})
			return
		}
	}

	removed, err := rt.indexer.Delete(r.Context(), groupID, name, purge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id":       groupID,
		"document_name":  name,
		"deleted_chunks": removed,
		"archive_purged": purge,
	})
}

func (rt *Router) groupStats(w http.ResponseWriter, r *http.Request) {
	groupID, err := parseGroupID(r.PathValue("group_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.writeStats(w, r, &groupID)
}

func (rt *Router) allStats(w http.ResponseWriter, r *http.Request) {
	rt.writeStats(w, r, nil)
}

func (rt *Router) writeStats(w http.ResponseWriter, r *http.Request, groupID *int64) {
	stats, err := rt.stats.Stats(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type searchRequest struct {
	Query        string `json:"query"`
	GroupID      *int64 `json:"group_id"`
	DocumentName string `json:"document_name"`
	TopK         int    `json:"top_k"`
	RetrieveText bool   `json:"retrieve_text"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	started := time.Now()
	result, err := rt.query.Search(r.Context(), domain.QueryRequest{
		Query:        req.Query,
		GroupID:      req.GroupID,
		DocumentName: req.DocumentName,
		TopK:         rt.topK(req.TopK),
		RetrieveText: req.RetrieveText,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		missing := 0
		if req.RetrieveText {
			for _, hit := range result.Results {
				if !hit.TextAvailable {
					missing++
				}
			}
		}
		rt.metrics.RecordSearch(serviceName, req.RetrieveText, result.ResultsCount, missing, time.Since(started))
	}
	if result.Results == nil {
		result.Results = []domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, result)
}

type answerRequest struct {
	Query        string `json:"query"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	GroupID      *int64 `json:"group_id"`
	DocumentName string `json:"document_name"`
	TopK         int    `json:"top_k"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	started := time.Now()
	answer, err := rt.query.Answer(r.Context(), domain.AnswerRequest{
		Query:         req.Query,
		RequesterID:   req.UserID,
		RequesterName: req.UserName,
		GroupID:       req.GroupID,
		DocumentName:  req.DocumentName,
		TopK:          rt.topK(req.TopK),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		missing := 0
		for _, src := range answer.Sources {
			if !src.TextAvailable {
				missing++
			}
		}
		rt.metrics.RecordAnswer(serviceName, string(answer.Status), len(answer.Sources), missing, time.Since(started))
	}
	if answer.Sources == nil {
		answer.Sources = []domain.Source{}
	}
	writeJSON(w, http.StatusOK, answer)
}

type retrieveTextRequest struct {
	GroupID      int64  `json:"group_id"`
	DocumentName string `json:"document_name"`
	Page         int    `json:"page"`
}

func (rt *Router) retrieveText(w http.ResponseWriter, r *http.Request) {
	var req retrieveTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.GroupID <= 0 || strings.TrimSpace(req.DocumentName) == "" || req.Page < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group_id, document_name and page are required"})
		return
	}

	text, ok := rt.query.RetrieveText(r.Context(), req.GroupID, req.DocumentName, req.Page)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "text not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id":      req.GroupID,
		"document_name": req.DocumentName,
		"page":          req.Page,
		"text":          text,
	})
}

func (rt *Router) topK(requested int) int {
	if requested == 0 && rt.cfg.RAGTopK > 0 {
		return rt.cfg.RAGTopK
	}
	return requested
}

func parseGroupID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse group_id", fmt.Errorf("group_id must be a positive integer, got %q", raw))
	}
	return id, nil
}

func docTypeLabel(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
