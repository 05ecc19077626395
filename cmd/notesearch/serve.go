package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/server"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/resilience"
)

func (a *app) serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	m := metrics.NewDefault()

	engine, err := a.openEngine(ctx, m)
	if err != nil {
		return err
	}
	defer engine.Close()

	checker := health.NewChecker(2 * time.Second)
	checker.Register("store", health.Ping(true, engine.Ping))

	var pub publisher.ChangePublisher = publisher.Noop{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentChanges)
		kp := publisher.NewKafka(producer, resilience.CircuitBreakerConfig{}, m)
		pub = kp
		checker.Register("change_feed", health.Ping(false, func(context.Context) error {
			if kp.State() == resilience.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		}))
		slog.Info("change feed enabled", "topic", producer.Topic())
	}
	defer pub.Close()

	pipe := pipeline.New(engine.Store(), engine.Index(), engine.Tokenizer(), pub, cfg.Ingest, m)
	exec := executor.New(engine.Index(), parser.New(engine.Tokenizer()), cfg.Search)

	if cfg.Redis.Enabled {
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer client.Close()
			exec.WithCache(cache.New(client, cfg.Redis, m))
			checker.Register("redis", health.Ping(false, client.Ping))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	srv := server.New(cfg, server.Deps{
		Ingester:  pipe,
		Searcher:  exec,
		Documents: engine.Store(),
		Metrics:   m,
		Health:    checker,
	})
	httpServer := srv.HTTPServer(fmt.Sprintf(":%d", cfg.Server.Port))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("notes search listening", "addr", httpServer.Addr, "backend", cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		engine.StartCompactionLoop(gctx)
		return nil
	})
	if cfg.Kafka.Enabled {
		ingestConsumer := consumer.New(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.DocumentIngest,
			consumer.HandleMessage(pipe, m),
		))
		g.Go(func() error {
			return ingestConsumer.Start(gctx)
		})
	}

	err = g.Wait()
	slog.Info("notes search stopped")
	return err
}
