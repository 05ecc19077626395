// Package indexer owns the document store and the inverted index of one
// process: it opens the configured durable backend, rebuilds the index from
// the latest committed documents, and runs periodic compaction.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store/segment"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store/sqlstore"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/postgres"
)

type Engine struct {
	store   *store.Store
	backend store.Backend
	index   *index.Index
	tok     *tokenizer.Tokenizer
	cfg     config.IndexConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Stats describes the current snapshot and the store.
type Stats struct {
	Generation    uint64 `json:"generation"`
	Documents     int64  `json:"documents"`
	Terms         int    `json:"terms"`
	Tombstones    int    `json:"tombstones"`
	LiveSnapshots int64  `json:"live_snapshots"`
	Stored        int    `json:"stored_documents"`
}

// OpenBackend opens the durable document log selected by cfg.Store.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryBackend(), nil
	case config.BackendFile:
		return segment.Open(cfg.Store.DataDir, cfg.Store.SyncWrites)
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
		}
		return sqlstore.OpenSQLite(ctx, cfg.Store.SQLitePath)
	case config.BackendPostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		log, err := sqlstore.OpenPostgres(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &postgresBackend{Log: log, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// postgresBackend closes the connection pool along with the log.
type postgresBackend struct {
	*sqlstore.Log
	client *postgres.Client
}

func (b *postgresBackend) Close() error {
	return errors.Join(b.Log.Close(), b.client.Close())
}

// Open loads the store from backend and rebuilds the index from the latest
// committed version of every live document. m may be nil.
func Open(ctx context.Context, cfg config.IndexConfig, backend store.Backend, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{
		store:   store.New(backend),
		backend: backend,
		index:   index.New(),
		tok:     tokenizer.New(tokenizer.Options{StopWords: cfg.StopWords}),
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	start := time.Now()
	if err := e.store.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading document store: %w", err)
	}
	n, err := e.rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuilding index: %w", err)
	}
	stats := e.Stats()
	e.logger.Info("index rebuilt",
		"documents", n,
		"terms", stats.Terms,
		"generation", stats.Generation,
		"took", time.Since(start),
	)
	return e, nil
}

func (e *Engine) rebuild(ctx context.Context) (int, error) {
	txn, err := e.index.Begin()
	if err != nil {
		return 0, err
	}
	var (
		n       int
		walkErr error
	)
	e.store.EachLatest(func(doc store.Document) bool {
		if walkErr = ctx.Err(); walkErr != nil {
			return false
		}
		analyzed, err := e.tok.Analyze(doc.Content, doc.Format)
		if err != nil {
			// stored content was validated on ingest; index what we can
			e.logger.Warn("re-analyzing stored document failed, indexing as text",
				"doc_id", doc.ID,
				"version", doc.Version,
				"error", err,
			)
			analyzed = &tokenizer.Analyzed{Tokens: e.tok.Tokenize(doc.Content)}
		}
		if walkErr = txn.Update(doc.ID, doc.Version, analyzed.Tokens); walkErr != nil {
			return false
		}
		n++
		return true
	})
	if walkErr != nil {
		txn.Rollback()
		return 0, walkErr
	}
	txn.Commit()
	return n, nil
}

func (e *Engine) Store() *store.Store              { return e.store }
func (e *Engine) Index() *index.Index              { return e.index }
func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }

// Ping checks the backend when it supports it.
func (e *Engine) Ping(ctx context.Context) error {
	if p, ok := e.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Compact purges tombstoned postings from the index.
func (e *Engine) Compact() (int, error) {
	purged, err := e.index.Compact()
	if err != nil {
		return 0, err
	}
	if purged > 0 && e.metrics != nil {
		e.metrics.CompactionsTotal.Inc()
	}
	e.Stats()
	return purged, nil
}

// StartCompactionLoop compacts every cfg.CompactInterval and refreshes the
// index gauges. It blocks until ctx is cancelled.
func (e *Engine) StartCompactionLoop(ctx context.Context) {
	interval := e.cfg.CompactInterval
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("compaction loop stopping")
			return
		case <-ticker.C:
			if _, err := e.Compact(); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				e.logger.Error("periodic compaction failed", "error", err)
			}
		}
	}
}

// Stats reads the current snapshot and updates the index gauges.
func (e *Engine) Stats() Stats {
	snap := e.index.Snapshot()
	defer snap.Release()
	s := Stats{
		Generation:    snap.Generation(),
		Documents:     snap.LiveDocs(),
		Terms:         snap.TermCount(),
		Tombstones:    snap.Tombstones(),
		LiveSnapshots: e.index.LiveSnapshots(),
		Stored:        e.store.Len(),
	}
	if e.metrics != nil {
		e.metrics.IndexGeneration.Set(float64(s.Generation))
		e.metrics.IndexDocuments.Set(float64(s.Documents))
		e.metrics.IndexTerms.Set(float64(s.Terms))
		e.metrics.IndexTombstones.Set(float64(s.Tombstones))
		e.metrics.IndexLiveSnapshots.Set(float64(s.LiveSnapshots))
	}
	return s
}

// Close rejects further writes and closes the backend. Snapshots already
// held by readers stay usable.
func (e *Engine) Close() error {
	e.index.Close()
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("closing document store: %w", err)
	}
	e.logger.Info("indexer closed")
	return nil
}
