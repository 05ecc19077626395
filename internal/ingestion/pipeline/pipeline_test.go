package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
)

// flakyBackend lets `allow` appends through and then fails the next `fails`
// appends; a negative `fails` fails every one.
type flakyBackend struct {
	*store.MemoryBackend
	mu    sync.Mutex
	allow int
	fails int
}

func (f *flakyBackend) Append(ctx context.Context, rec store.Record) error {
	f.mu.Lock()
	if f.allow > 0 {
		f.allow--
	} else if f.fails != 0 {
		if f.fails > 0 {
			f.fails--
		}
		f.mu.Unlock()
		return errors.New("io timeout")
	}
	f.mu.Unlock()
	return f.MemoryBackend.Append(ctx, rec)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ingestion.ChangeEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e ingestion.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

type fixture struct {
	pipeline *Pipeline
	store    *store.Store
	index    *index.Index
	backend  *flakyBackend
	pub      *recordingPublisher
	metrics  *metrics.Metrics
	search   *executor.Executor
}

func newFixture(t *testing.T, mutate func(*config.IngestConfig)) *fixture {
	t.Helper()
	cfg := config.IngestConfig{
		MaxContentBytes: 1 << 16,
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
		WriteTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	backend := &flakyBackend{MemoryBackend: store.NewMemoryBackend()}
	st := store.New(backend)
	idx := index.New()
	tok := tokenizer.New(tokenizer.Options{})
	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{
		pipeline: New(st, idx, tok, pub, cfg, m),
		store:    st,
		index:    idx,
		backend:  backend,
		pub:      pub,
		metrics:  m,
		search:   executor.New(idx, parser.New(tok), config.SearchConfig{DefaultLimit: 10, MaxResults: 100}),
	}
}

func (f *fixture) ids(t *testing.T, q string) []string {
	t.Helper()
	res, err := f.search.Search(context.Background(), q, 100, 0)
	require.NoError(t, err)
	out := make([]string, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.DocID
	}
	sort.Strings(out)
	return out
}

func TestIngestIsSearchableOnReturn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "the quick fox"})
	require.NoError(t, err)
	assert.Equal(t, "d1", resp.DocumentID)
	assert.Equal(t, int64(1), resp.Version)
	assert.Equal(t, f.index.Generation(), resp.Generation)

	_, err = f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d2", Content: "the lazy dog"})
	require.NoError(t, err)

	assert.Equal(t, []string{"d1"}, f.ids(t, "fox"))
	assert.Equal(t, []string{"d1", "d2"}, f.ids(t, "the"))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.IngestTotal.WithLabelValues("ingest", "ok")))
}

func TestIngestGeneratesID(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{Content: "hello"})
	require.NoError(t, err)
	_, err = uuid.Parse(resp.DocumentID)
	assert.NoError(t, err)
	assert.True(t, f.store.Exists(resp.DocumentID))
}

func TestReingestReplacesPostings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "alpha"})
	require.NoError(t, err)
	resp, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "beta"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Version)

	assert.Empty(t, f.ids(t, "alpha"))
	assert.Equal(t, []string{"d1"}, f.ids(t, "beta"))

	old, err := f.store.Get("d1", 1)
	require.NoError(t, err)
	assert.Equal(t, "alpha", old.Content)
}

func TestCreateOnlyRejectsExistingID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "one", CreateOnly: true})
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "two", CreateOnly: true})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateID)
	assert.Equal(t, 409, apperrors.HTTPStatusCode(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IngestTotal.WithLabelValues("ingest", "duplicate")))

	// a deleted id can be created again
	deleted, err := f.pipeline.Delete(ctx, "d1")
	require.NoError(t, err)
	require.True(t, deleted)
	resp, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "three", CreateOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Version)
}

func TestStrictIDsConfig(t *testing.T) {
	f := newFixture(t, func(c *config.IngestConfig) { c.StrictIDs = true })
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "one"})
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "two"})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateID)
}

func TestMarkdownFrontMatterAndOverride(t *testing.T) {
	f := newFixture(t, nil)
	content := "---\ntitle: From Front Matter\nauthor: ann\n---\n# Heading\n\nSome **bold** words.\n"
	_, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{
		ID:       "md",
		Content:  content,
		Format:   tokenizer.FormatMarkdown,
		Metadata: map[string]string{"title": "Override"},
	})
	require.NoError(t, err)

	doc, err := f.store.Get("md", 0)
	require.NoError(t, err)
	assert.Equal(t, content, doc.Content)
	assert.Equal(t, "Override", doc.Metadata["title"])
	assert.Equal(t, "ann", doc.Metadata["author"])

	assert.Equal(t, []string{"md"}, f.ids(t, "bold"))
	assert.Empty(t, f.ids(t, "author"))
}

func TestFrontMatterMetadataIsValidated(t *testing.T) {
	f := newFixture(t, nil)
	content := "---\ntitle: " + strings.Repeat("a", 5000) + "\n---\nbody text\n"
	_, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{
		ID:      "md",
		Content: content,
		Format:  tokenizer.FormatMarkdown,
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	var verr *validator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "metadata")
	assert.Equal(t, 0, f.backend.Len())
}

func TestValidationFailureStoresNothing(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{ID: "d1", Content: "   "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 0, f.backend.Len())
	assert.Equal(t, uint64(0), f.index.Generation())
}

func TestTransientStorageFailureIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.fails = 2

	resp, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{ID: "d1", Content: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Version)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StorageRetriesTotal))
	assert.Equal(t, []string{"d1"}, f.ids(t, "retry"))
}

func TestPersistentStorageFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t, nil)
	gen := f.index.Generation()
	f.backend.fails = -1

	_, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{ID: "d1", Content: "lost"})
	assert.ErrorIs(t, err, apperrors.ErrStorageFailure)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
	assert.False(t, f.store.Exists("d1"))
	assert.Equal(t, gen, f.index.Generation())
	assert.Empty(t, f.pub.events)

	f.backend.fails = 0
	resp, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{ID: "d1", Content: "found"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Version)
}

func TestIndexFailureAbortsStagedVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "kept"})
	require.NoError(t, err)

	f.index.Close()
	_, err = f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "dropped"})
	assert.ErrorIs(t, err, apperrors.ErrClosed)

	latest, err := f.store.Get("d1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)

	// replay must agree with the in-memory view
	reloaded := store.New(f.backend)
	require.NoError(t, reloaded.Load(ctx))
	replayed, err := reloaded.Get("d1", 0)
	require.NoError(t, err)
	assert.Equal(t, "kept", replayed.Content)
	assert.Equal(t, int64(1), reloaded.LatestVersion("d1"))
}

func TestFailedAbortIsCounted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.index.Close()
	f.backend.allow = 1
	f.backend.fails = -1
	_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "orphan"})
	assert.ErrorIs(t, err, apperrors.ErrClosed)

	// the staged record is durable and could not be cancelled
	assert.Equal(t, int64(1), f.store.LatestVersion("d1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IndexDivergenceTotal))
	assert.Equal(t, 1, f.backend.Len())
}

func TestDeleteHidesFromSearchButKeepsHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{ID: "d1", Content: "quick fox"})
	require.NoError(t, err)

	deleted, err := f.pipeline.Delete(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Empty(t, f.ids(t, "fox"))

	_, err = f.store.Get("d1", 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	old, err := f.store.Get("d1", 1)
	require.NoError(t, err)
	assert.Equal(t, "quick fox", old.Content)

	deleted, err = f.pipeline.Delete(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = f.pipeline.Delete(ctx, "never")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = f.pipeline.Delete(ctx, "a/b")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, ingestion.EventUpserted, f.pub.events[0].Type)
	assert.Equal(t, ingestion.EventDeleted, f.pub.events[1].Type)
	assert.Equal(t, int64(2), f.pub.events[1].Version)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.err = errors.New("kafka unavailable")
	resp, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{ID: "d1", Content: "still stored"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Version)
	assert.True(t, f.store.Exists("d1"))
}

func TestConcurrentIngestSameIDGetsDistinctVersions(t *testing.T) {
	f := newFixture(t, nil)
	const writers = 20
	versions := make(chan int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.pipeline.Ingest(context.Background(), &ingestion.IngestRequest{
				ID:      "shared",
				Content: fmt.Sprintf("writer%d content", i),
			})
			if assert.NoError(t, err) {
				versions <- resp.Version
			}
		}(i)
	}
	wg.Wait()
	close(versions)

	var got []int
	for v := range versions {
		got = append(got, int(v))
	}
	sort.Ints(got)
	want := make([]int, writers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)

	history, err := f.store.History("shared")
	require.NoError(t, err)
	assert.Len(t, history, writers)
	assert.Equal(t, []string{"shared"}, f.ids(t, "content"))

	snap := f.index.Snapshot()
	defer snap.Release()
	entry, ok := snap.Doc("shared")
	require.True(t, ok)
	assert.Equal(t, int64(writers), entry.Version)
}

func TestConcurrentIngestAndSearchSeeWholeDocuments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := f.pipeline.Ingest(ctx, &ingestion.IngestRequest{
				ID:      fmt.Sprintf("doc%02d", i),
				Content: "left right",
			})
			assert.NoError(t, err)
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := f.search.Search(ctx, "left NOT right", 100, 0)
				if !assert.NoError(t, err) {
					return
				}
				assert.Zero(t, res.Total, "a document was visible with only part of its terms")
			}
		}()
	}
	wg.Wait()
	assert.Len(t, f.ids(t, "left right"), 50)
}
