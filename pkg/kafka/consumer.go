// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. Returning
// ErrSkip commits the offset without reprocessing. Any other error is
// retried with backoff; the consumer does not move past a message until the
// handler accepts or skips it.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ErrSkip marks a message that can never be processed (malformed payload).
var ErrSkip = errors.New("skip message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  math.MaxInt,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Retryable:    func(err error) bool { return !errors.Is(err, ErrSkip) },
		},
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. The reader is closed on return.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		name := fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		err = resilience.Retry(ctx, name, c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil && !errors.Is(err, ErrSkip) {
			// the message stays uncommitted and is redelivered to whoever
			// owns the partition next
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			return fmt.Errorf("processing %s: %w", name, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
// Decode failures wrap ErrSkip.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w: %w", ErrSkip, err)
	}
	return result, nil
}
