// Package pipeline turns ingest and delete requests into committed document
// versions. A write is one atomic unit across the document store and the
// inverted index: the store record is staged durably, the index change is
// built, and both become visible together or not at all.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/tracing"
)

const (
	opIngest = "ingest"
	opDelete = "delete"
)

type Pipeline struct {
	store     *store.Store
	index     *index.Index
	tok       *tokenizer.Tokenizer
	publisher publisher.ChangePublisher
	cfg       config.IngestConfig
	metrics   *metrics.Metrics
}

// New wires a pipeline. pub and m may be nil.
func New(st *store.Store, idx *index.Index, tok *tokenizer.Tokenizer, pub publisher.ChangePublisher, cfg config.IngestConfig, m *metrics.Metrics) *Pipeline {
	if pub == nil {
		pub = publisher.Noop{}
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = config.Default().Ingest.MaxContentBytes
	}
	return &Pipeline{
		store:     st,
		index:     idx,
		tok:       tok,
		publisher: pub,
		cfg:       cfg,
		metrics:   m,
	}
}

// Ingest stores req as a new version of its document and indexes it. When
// Ingest returns, the version is visible to every search that starts
// afterwards.
func (p *Pipeline) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, opIngest)
	resp, err := p.ingest(ctx, req)
	span.End(err)
	span.Log(ctx)
	p.observe(opIngest, start, err)
	return resp, err
}

func (p *Pipeline) ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "request body is required")
	}
	if err := validator.ValidateIngestRequest(req, p.cfg.MaxContentBytes); err != nil {
		return nil, err
	}
	analyzed, err := p.tok.Analyze(req.Content, req.Format)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "analyzing content: %v", err)
	}
	metadata := analyzed.Metadata
	if metadata == nil {
		metadata = make(map[string]string, len(req.Metadata))
	}
	maps.Copy(metadata, req.Metadata)
	if err := validator.ValidateMetadata(metadata); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	tracing.FromContext(ctx).SetAttr("doc_id", id)
	unlock := p.store.Lock(id)
	defer unlock()

	if req.ID != "" && (req.CreateOnly || p.cfg.StrictIDs) && p.store.Exists(id) {
		return nil, apperrors.Newf(apperrors.ErrDuplicateID, http.StatusConflict, "document %q already exists", id)
	}

	staged, err := p.stage(ctx, "stage "+id, func(ctx context.Context) (store.Document, error) {
		return p.store.Stage(ctx, store.Document{
			ID:       id,
			Content:  req.Content,
			Format:   req.Format,
			Metadata: metadata,
		})
	})
	if err != nil {
		p.abort(ctx, store.Document{ID: id, Version: p.nextVersion(id)}, false)
		return nil, err
	}

	gen, err := p.apply(ctx, staged, func(txn *index.Txn) error {
		return txn.Update(staged.ID, staged.Version, analyzed.Tokens)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("document ingested",
		"doc_id", staged.ID,
		"version", staged.Version,
		"tokens", len(analyzed.Tokens),
		"generation", gen,
	)
	p.publish(ctx, ingestion.EventUpserted, staged, gen)
	return &ingestion.IngestResponse{DocumentID: staged.ID, Version: staged.Version, Generation: gen}, nil
}

// Delete tombstones id. It reports false when id has no live version.
func (p *Pipeline) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, opDelete)
	span.SetAttr("doc_id", id)
	ok, err := p.delete(ctx, id)
	span.End(err)
	span.Log(ctx)
	p.observe(opDelete, start, err)
	return ok, err
}

func (p *Pipeline) delete(ctx context.Context, id string) (bool, error) {
	if err := validator.ValidateID(id); err != nil {
		return false, err
	}
	unlock := p.store.Lock(id)
	defer unlock()

	if !p.store.Exists(id) {
		return false, nil
	}
	tomb, err := p.stage(ctx, "tombstone "+id, func(ctx context.Context) (store.Document, error) {
		return p.store.StageDelete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		p.abort(ctx, store.Document{ID: id, Version: p.nextVersion(id)}, false)
		return false, err
	}

	gen, err := p.apply(ctx, tomb, func(txn *index.Txn) error {
		return txn.Delete(tomb.ID, tomb.Version)
	})
	if err != nil {
		return false, err
	}

	logger.FromContext(ctx).Info("document deleted",
		"doc_id", id,
		"version", tomb.Version,
		"generation", gen,
	)
	p.publish(ctx, ingestion.EventDeleted, tomb, gen)
	return true, nil
}

// stage runs a durable append with retries, bounded by the write timeout.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) (store.Document, error)) (store.Document, error) {
	ctx, span := tracing.Start(ctx, "stage")
	var staged store.Document
	err := resilience.WithTimeout(ctx, p.cfg.WriteTimeout, name, func(ctx context.Context) error {
		return resilience.Retry(ctx, name, p.retryConfig(), func() error {
			doc, err := fn(ctx)
			if err != nil {
				return err
			}
			staged = doc
			return nil
		})
	})
	if err != nil && errors.Is(err, apperrors.ErrTimeout) && !errors.Is(err, apperrors.ErrStorageFailure) {
		err = apperrors.StorageFailure(name, err)
	}
	span.End(err)
	return staged, err
}

// apply publishes the index change for a staged record and then commits the
// record in the store. Any failure aborts the staged record.
func (p *Pipeline) apply(ctx context.Context, staged store.Document, change func(*index.Txn) error) (gen uint64, err error) {
	_, span := tracing.Start(ctx, "index")
	defer func() { span.End(err) }()
	txn, err := p.index.Begin()
	if err != nil {
		p.abort(ctx, staged, true)
		return 0, err
	}
	if cerr := change(txn); cerr != nil {
		txn.Rollback()
		p.abort(ctx, staged, true)
		return 0, fmt.Errorf("indexing %s v%d: %w", staged.ID, staged.Version, cerr)
	}
	p.store.Commit(staged)
	return txn.Commit(), nil
}

// abort cancels a staged version. The request context may already be done,
// so the abort record gets its own deadline. If the abort record cannot be
// written and the staged record is known to be durable, the version is
// committed in memory so that the next write does not reuse its number.
func (p *Pipeline) abort(ctx context.Context, doc store.Document, durable bool) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.abortTimeout())
	defer cancel()
	err := resilience.Retry(actx, "abort "+doc.ID, p.retryConfig(), func() error {
		return p.store.Abort(actx, doc)
	})
	if err == nil {
		return
	}
	log := logger.FromContext(ctx)
	if durable {
		p.store.Commit(doc)
		if p.metrics != nil {
			p.metrics.IndexDivergenceTotal.Inc()
		}
		log.Error("abort record failed, staged version kept",
			"doc_id", doc.ID,
			"version", doc.Version,
			"error", err,
		)
		return
	}
	log.Warn("abort record failed after failed stage",
		"doc_id", doc.ID,
		"version", doc.Version,
		"error", err,
	)
}

// nextVersion is the version a failed Stage would have assigned.
func (p *Pipeline) nextVersion(id string) int64 {
	return p.store.LatestVersion(id) + 1
}

func (p *Pipeline) publish(ctx context.Context, kind string, doc store.Document, gen uint64) {
	event := ingestion.ChangeEvent{
		Type:       kind,
		DocumentID: doc.ID,
		Version:    doc.Version,
		Metadata:   doc.Metadata,
		Generation: gen,
		At:         time.Now().UTC(),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.abortTimeout())
	defer cancel()
	_, span := tracing.Start(ctx, "publish")
	err := p.publisher.Publish(pctx, event)
	span.End(err)
	if err != nil {
		logger.FromContext(ctx).Warn("change event not published",
			"type", kind,
			"doc_id", doc.ID,
			"version", doc.Version,
			"error", err,
		)
	}
}

func (p *Pipeline) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  p.cfg.MaxAttempts,
		InitialDelay: p.cfg.InitialBackoff,
		MaxDelay:     p.cfg.MaxBackoff,
		Retryable: func(err error) bool {
			return errors.Is(err, apperrors.ErrStorageFailure)
		},
		OnRetry: func(int, error) {
			if p.metrics != nil {
				p.metrics.StorageRetriesTotal.Inc()
			}
		},
	}
}

func (p *Pipeline) abortTimeout() time.Duration {
	if p.cfg.WriteTimeout > 0 {
		return p.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func (p *Pipeline) observe(op string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.IngestLatency.Observe(time.Since(start).Seconds())
	p.metrics.IngestTotal.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, apperrors.ErrDuplicateID):
		return "duplicate"
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
