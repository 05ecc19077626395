package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
)

type testServer struct {
	handler http.Handler
	store   *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Ingest.MaxContentBytes = 1024
	st := store.New(store.NewMemoryBackend())
	idx := index.New()
	tok := tokenizer.New(tokenizer.Options{})
	m := metrics.New(prometheus.NewRegistry())
	checker := health.NewChecker(0)
	checker.Register("store", health.Ping(true, func(context.Context) error { return nil }))

	srv := New(cfg, Deps{
		Ingester:  pipeline.New(st, idx, tok, nil, cfg.Ingest, m),
		Searcher:  executor.New(idx, parser.New(tok), cfg.Search),
		Documents: st,
		Metrics:   m,
		Health:    checker,
	})
	return &testServer{handler: srv.Handler(), store: st}
}

func (ts *testServer) do(t *testing.T, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func resultIDs(body map[string]any) []string {
	var ids []string
	for _, r := range body["results"].([]any) {
		ids = append(ids, r.(map[string]any)["document_id"].(string))
	}
	return ids
}

func TestIngestSearchScenario(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/ingest", `{"id":"d1","content":"the quick fox"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "d1", body["document_id"])
	assert.Equal(t, 1.0, body["version"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = ts.do(t, http.MethodPost, "/ingest", `{"id":"d2","content":"the lazy dog"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/search?q=fox", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"d1"}, resultIDs(body))
	assert.Equal(t, 1.0, body["total"])

	_, body = ts.do(t, http.MethodGet, "/search?q=the", "")
	assert.Equal(t, []string{"d1", "d2"}, resultIDs(body))

	_, body = ts.do(t, http.MethodGet, "/search?q=the&limit=1&offset=1", "")
	assert.Equal(t, []string{"d2"}, resultIDs(body))
	assert.Equal(t, 2.0, body["total"])

	_, body = ts.do(t, http.MethodGet, "/search?q=fox+OR+missing", "")
	assert.Equal(t, []string{"d1"}, resultIDs(body))
	_, body = ts.do(t, http.MethodGet, "/search?q=fox+AND+missing", "")
	assert.Empty(t, body["results"])
}

func TestSearchEmptyQuery(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/search?q=", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, body["total"])
	assert.Empty(t, body["results"])
}

func TestSearchBadRequests(t *testing.T) {
	ts := newTestServer(t)
	for _, target := range []string{
		"/search?q=(fox",
		"/search?q=%22open",
		"/search?q=fox+AND",
		"/search?q=fox&limit=abc",
		"/search?q=fox&offset=-1",
	} {
		resp, body := ts.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, target)
		assert.NotEmpty(t, body["error"], target)
	}
}

func TestIngestValidationAndDuplicates(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/ingest", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation failed", body["error"])
	assert.Contains(t, body["fields"], "content")

	resp, _ = ts.do(t, http.MethodPost, "/ingest", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/ingest", `{"content":"x","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := `{"content":"` + strings.Repeat("a", 4*1024+bodyOverhead) + `"}`
	resp, _ = ts.do(t, http.MethodPost, "/ingest", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/ingest", `{"id":"n1","content":"one","create_only":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = ts.do(t, http.MethodPost, "/ingest", `{"id":"n1","content":"two","create_only":true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already exists")
}

func TestDocumentVersionsAndDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/ingest", `{"id":"d1","content":"first draft","metadata":{"tag":"a"}}`)
	ts.do(t, http.MethodPost, "/ingest", `{"id":"d1","content":"second draft"}`)

	resp, body := ts.do(t, http.MethodGet, "/documents/d1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "second draft", body["content"])
	assert.Equal(t, 2.0, body["version"])

	_, body = ts.do(t, http.MethodGet, "/documents/d1?version=1", "")
	assert.Equal(t, "first draft", body["content"])

	resp, _ = ts.do(t, http.MethodGet, "/documents/d1?version=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodDelete, "/documents/d1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["deleted"])

	resp, _ = ts.do(t, http.MethodGet, "/documents/d1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/documents/d1?version=2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = ts.do(t, http.MethodGet, "/search?q=draft", "")
	assert.Empty(t, body["results"])

	resp, body = ts.do(t, http.MethodGet, "/documents/d1/versions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	versions := body["versions"].([]any)
	require.Len(t, versions, 3)
	assert.Equal(t, true, versions[2].(map[string]any)["deleted"])

	resp, _ = ts.do(t, http.MethodDelete, "/documents/d1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/documents/nope/versions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = ts.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "up", body["status"])

	ts.do(t, http.MethodGet, "/documents/abc", "")
	ts.do(t, http.MethodGet, "/documents/xyz", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `http_requests_total{method="GET",path="/documents/{id}",status="404"} 2`)
	assert.Contains(t, text, `http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestServerErrorsHideDetail(t *testing.T) {
	cfg := config.Default()
	srv := New(cfg, Deps{
		Ingester:  failingIngester{},
		Searcher:  executor.New(index.New(), parser.New(tokenizer.New(tokenizer.Options{})), cfg.Search),
		Documents: store.New(store.NewMemoryBackend()),
	})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"content":"x"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"storage unavailable, retry later"}`, rec.Body.String())
}

type failingIngester struct{}

func (failingIngester) Ingest(context.Context, *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	return nil, storageErr
}

func (failingIngester) Delete(context.Context, string) (bool, error) {
	return false, storageErr
}

var storageErr = fmt.Errorf("segment write: disk full: %w", apperrors.ErrStorageFailure)
