package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/logger"
)

// bodyOverhead leaves room for JSON escaping and metadata around content.
const bodyOverhead = 64 << 10

type versionInfo struct {
	Version   int64             `json:"version"`
	Deleted   bool              `json:"deleted"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type versionsResponse struct {
	DocumentID string        `json:"document_id"`
	Versions   []versionInfo `json:"versions"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, int64(2*s.cfg.Ingest.MaxContentBytes+bodyOverhead))

	var req ingestion.IngestRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err))
		return
	}

	resp, err := s.deps.Ingester.Ingest(ctx, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	query := q.Get("q")
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.countSearch("invalid", start, 0)
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		s.countSearch("invalid", start, 0)
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if s.cfg.Search.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Search.Timeout)
		defer cancel()
	}
	result, err := s.deps.Searcher.Search(ctx, query, limit, offset)
	if err != nil {
		kind := "error"
		if errors.Is(err, apperrors.ErrInvalidQuery) || errors.Is(err, apperrors.ErrInvalidInput) {
			kind = "invalid"
		}
		s.countSearch(kind, start, 0)
		s.writeError(w, r, err)
		return
	}

	kind := "hit"
	if result.Total == 0 {
		kind = "zero_result"
	}
	s.countSearch(kind, start, result.Total)
	logger.FromContext(ctx).Debug("search completed",
		"query", query,
		"total", result.Total,
		"returned", len(result.Results),
		"generation", result.Generation,
		"latency", time.Since(start),
	)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	version, err := intParam(r.URL.Query().Get("version"), "version")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.deps.Documents.Get(id, int64(version))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	history, err := s.deps.Documents.History(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := versionsResponse{DocumentID: id, Versions: make([]versionInfo, len(history))}
	for i, d := range history {
		resp.Versions[i] = summarize(d)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.deps.Ingester.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !deleted {
		s.writeError(w, r, apperrors.NotFound(id, 0))
		return
	}
	s.writeJSON(w, http.StatusOK, ingestion.DeleteResponse{DocumentID: id, Deleted: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) countSearch(kind string, start time.Time, total int) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(kind).Inc()
	m.SearchLatency.Observe(time.Since(start).Seconds())
	if kind == "hit" || kind == "zero_result" {
		m.SearchResultsCount.Observe(float64(total))
	}
}

func summarize(d store.Document) versionInfo {
	return versionInfo{Version: d.Version, Deleted: d.Deleted, Metadata: d.Metadata, CreatedAt: d.CreatedAt}
}

// intParam parses an optional non-negative integer query parameter; an
// absent parameter is zero.
func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err onto a status code. Server-side failures are logged
// and reported without internal detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := map[string]any{"error": err.Error()}

	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		body = map[string]any{"error": "validation failed", "fields": verr.Fields}
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		body = map[string]any{"error": publicMessage(status, err)}
	}
	s.writeJSON(w, status, body)
}

func publicMessage(status int, err error) string {
	switch {
	case errors.Is(err, apperrors.ErrTimeout):
		return "request timed out"
	case errors.Is(err, apperrors.ErrStorageFailure):
		return "storage unavailable, retry later"
	case errors.Is(err, apperrors.ErrClosed):
		return "service is shutting down"
	default:
		return fmt.Sprintf("internal error (%d)", status)
	}
}
