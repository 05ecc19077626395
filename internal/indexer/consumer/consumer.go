// Package consumer reads ingest messages from Kafka and feeds them through
// the ingestion pipeline, so that producers other than the HTTP API can add
// and remove notes.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
)

// Message ops. An empty op means upsert.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Message is the JSON payload of the ingest topic.
type Message struct {
	Op string `json:"op,omitempty"`
	ingestion.IngestRequest
}

// Ingester is implemented by *pipeline.Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// IndexConsumer wraps a Kafka consumer to drive the ingestion pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that applies each message
// through ing. Messages that can never succeed (bad JSON, invalid input,
// duplicate id) are skipped; storage failures are returned so the consumer
// retries the message before moving on.
func HandleMessage(ing Ingester, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	count := func(result string) {
		if m != nil {
			m.IngestMessagesTotal.WithLabelValues(result).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		msg, err := kafka.DecodeJSON[Message](value)
		if err != nil {
			logger.Error("failed to decode ingest message",
				"error", err,
				"key", string(key),
			)
			count("malformed")
			return err
		}
		if msg.ID == "" && len(key) > 0 {
			msg.ID = string(key)
		}

		switch msg.Op {
		case "", OpUpsert:
			resp, err := ing.Ingest(ctx, &msg.IngestRequest)
			if err != nil {
				return reject(err, msg.ID, count, logger)
			}
			logger.Debug("message ingested", "doc_id", resp.DocumentID, "version", resp.Version)
		case OpDelete:
			deleted, err := ing.Delete(ctx, msg.ID)
			if err != nil {
				return reject(err, msg.ID, count, logger)
			}
			logger.Debug("message applied", "doc_id", msg.ID, "deleted", deleted)
		default:
			logger.Warn("unknown ingest op", "op", msg.Op, "doc_id", msg.ID)
			count("rejected")
			return fmt.Errorf("op %q: %w", msg.Op, kafka.ErrSkip)
		}
		count("applied")
		return nil
	}
}

func reject(err error, id string, count func(string), logger *slog.Logger) error {
	if errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrDuplicateID) {
		logger.Warn("ingest message rejected", "doc_id", id, "error", err)
		count("rejected")
		return fmt.Errorf("%w: %w", kafka.ErrSkip, err)
	}
	count("failed")
	return fmt.Errorf("applying message for %s: %w", id, err)
}
