package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

type SearchResult struct {
	Query      string             `json:"query"`
	Results    []ranker.ScoredDoc `json:"results"`
	Total      int                `json:"total"`
	Generation uint64             `json:"generation"`
}

// SnapshotSource hands out reference-counted index snapshots.
type SnapshotSource interface {
	Snapshot() *index.Snapshot
}

// ResultCache memoises results by key. Keys embed the snapshot epoch and
// generation, so a cached entry is only served for the index state it was
// computed from. compute receives a context the cache controls.
type ResultCache interface {
	GetOrCompute(ctx context.Context, key string, compute func(context.Context) (*SearchResult, error)) (*SearchResult, bool, error)
}

type Executor struct {
	source SnapshotSource
	parser *parser.Parser
	cfg    config.SearchConfig
	cache  ResultCache
	logger *slog.Logger
}

func New(source SnapshotSource, p *parser.Parser, cfg config.SearchConfig) *Executor {
	return &Executor{
		source: source,
		parser: p,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// WithCache enables result caching.
func (e *Executor) WithCache(c ResultCache) *Executor {
	e.cache = c
	return e
}

// Search parses query and evaluates it against one snapshot. A limit of zero
// selects the configured default; limits above the configured maximum are
// clamped.
func (e *Executor) Search(ctx context.Context, query string, limit, offset int) (*SearchResult, error) {
	if offset < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must be non-negative, got %d", offset)
	}
	if limit < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be non-negative, got %d", limit)
	}
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxResults > 0 && limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}

	q, err := e.parser.Parse(query)
	if err != nil {
		return nil, err
	}

	snap := e.source.Snapshot()
	defer snap.Release()

	if q.Empty() {
		return &SearchResult{
			Query:      query,
			Results:    []ranker.ScoredDoc{},
			Generation: snap.Generation(),
		}, nil
	}

	if e.cache == nil {
		return e.execute(ctx, snap, q, limit, offset)
	}
	key := cacheKey(snap, q, limit, offset)
	result, _, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*SearchResult, error) {
		return e.execute(ctx, snap, q, limit, offset)
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cancelled(cerr)
		}
		return nil, err
	}
	// the cached copy may have been stored for a differently spelled query
	out := *result
	out.Query = query
	return &out, nil
}

func cacheKey(snap *index.Snapshot, q *parser.Query, limit, offset int) string {
	return fmt.Sprintf("%s|%d|%s|%d|%d", snap.Epoch(), snap.Generation(), q.Canonical(), limit, offset)
}

func (e *Executor) execute(ctx context.Context, snap *index.Snapshot, q *parser.Query, limit, offset int) (*SearchResult, error) {
	start := time.Now()
	ev := &evaluator{snap: snap}
	matches := ev.eval(q.Root)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	live := matches[:0:0]
	for _, id := range matches {
		if snap.IsLive(id) {
			live = append(live, id)
		}
	}

	terms := make(map[string]ranker.TermStats)
	for _, term := range q.PositiveTerms() {
		postings := snap.Lookup(term)
		if len(postings) == 0 {
			continue
		}
		df := 0
		for _, p := range postings {
			if snap.IsLive(p.DocID) {
				df++
			}
		}
		terms[term] = ranker.TermStats{Postings: postings, DocFreq: df}
	}

	ranked := ranker.Rank(live, terms,
		ranker.RankParams{
			TotalDocs:    snap.LiveDocs(),
			AvgDocLength: snap.AvgDocLength(),
		},
		func(docID string) ranker.DocInfo {
			entry, _ := snap.Doc(docID)
			return ranker.DocInfo{DocLength: entry.Length}
		},
	)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	page := ranker.Paginate(ranked, offset, limit)
	e.logger.Debug("query executed",
		"query", q.Raw,
		"plan", q.Canonical(),
		"generation", snap.Generation(),
		"matches", len(ranked),
		"returned", len(page),
		"duration", time.Since(start),
	)
	return &SearchResult{
		Query:      q.Raw,
		Results:    page,
		Total:      len(ranked),
		Generation: snap.Generation(),
	}, nil
}

func cancelled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("search: %w: %w", apperrors.ErrTimeout, err)
	}
	return fmt.Errorf("search cancelled: %w", err)
}
