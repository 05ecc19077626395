// Package publisher emits change events for committed writes. Publishing is
// best-effort: callers log and count failures but never fail the write.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/resilience"
)

// ChangePublisher delivers change events to downstream consumers.
type ChangePublisher interface {
	Publish(ctx context.Context, event ingestion.ChangeEvent) error
	Close() error
}

// EventProducer is the subset of *kafka.Producer used here.
type EventProducer interface {
	Publish(ctx context.Context, event kafka.Event) error
	Close() error
}

// KafkaPublisher writes change events keyed by document id, so that all
// events of one document land on one partition in commit order.
type KafkaPublisher struct {
	producer EventProducer
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewKafka wraps producer in a circuit breaker. m may be nil.
func NewKafka(producer EventProducer, cfg resilience.CircuitBreakerConfig, m *metrics.Metrics) *KafkaPublisher {
	if m != nil {
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &KafkaPublisher{
		producer: producer,
		breaker:  resilience.NewCircuitBreaker("change-feed", cfg),
		metrics:  m,
		logger:   slog.Default().With("component", "change-publisher"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event ingestion.ChangeEvent) error {
	err := p.breaker.Execute(func() error {
		return p.producer.Publish(ctx, kafka.Event{Key: event.DocumentID, Value: event})
	})
	p.count(err)
	if err != nil {
		return fmt.Errorf("publishing %s for %s: %w", event.Type, event.DocumentID, err)
	}
	p.logger.Debug("change event published",
		"type", event.Type,
		"doc_id", event.DocumentID,
		"version", event.Version,
	)
	return nil
}

func (p *KafkaPublisher) count(err error) {
	if p.metrics == nil {
		return
	}
	result := "published"
	if err != nil {
		result = "failed"
	}
	p.metrics.ChangeEventsTotal.WithLabelValues(result).Inc()
}

// State exposes the breaker state for readiness reporting.
func (p *KafkaPublisher) State() resilience.State {
	return p.breaker.GetState()
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Noop discards events. It is used when Kafka is disabled.
type Noop struct{}

func (Noop) Publish(context.Context, ingestion.ChangeEvent) error { return nil }
func (Noop) Close() error                                         { return nil }
