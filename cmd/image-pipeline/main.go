package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/adapter"
	"github.com/aliskhannn/image-pipeline/internal/api/handlers/invoke"
	"github.com/aliskhannn/image-pipeline/internal/api/router"
	"github.com/aliskhannn/image-pipeline/internal/api/server"
	"github.com/aliskhannn/image-pipeline/internal/config"
	"github.com/aliskhannn/image-pipeline/internal/infra/kafka/consumer"
	"github.com/aliskhannn/image-pipeline/internal/infra/kafka/producer"
	"github.com/aliskhannn/image-pipeline/internal/inspector"
	imagemsg "github.com/aliskhannn/image-pipeline/internal/kafka/handlers/image"
	"github.com/aliskhannn/image-pipeline/internal/metrics"
	"github.com/aliskhannn/image-pipeline/internal/storage"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Retry strategy for Kafka and storage connection checks.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize object storage (MinIO or S3).
	st, err := storage.New(ctx, cfg.Storage, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	defaults, err := adapter.DefaultsFromConfig(cfg.Pipeline, "")
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid pipeline defaults")
	}

	rec := metrics.New()
	host := inspector.NewHost()
	a := adapter.New(st, defaults, adapter.WithRecorder(rec), adapter.WithHost(host))

	// Kafka consumer for bucket notifications, and optionally producers
	// for finalized envelopes and for notifications that keep failing.
	var (
		wg sync.WaitGroup
		c  *consumer.Consumer
		p  *producer.Producer
		dl *producer.Producer
	)
	if cfg.Kafka.Enabled {
		var handler *imagemsg.NotificationHandler
		if cfg.Kafka.ResultsTopic != "" {
			p = producer.New(&cfg.Kafka, strategy)
			handler = imagemsg.NewNotificationHandler(a, p)
		} else {
			handler = imagemsg.NewNotificationHandler(a, nil)
		}

		if cfg.Kafka.DeadLetterTopic != "" {
			dl = producer.NewDeadLetter(&cfg.Kafka, strategy)
			c = consumer.New(&cfg.Kafka, strategy, handler, dl)
		} else {
			c = consumer.New(&cfg.Kafka, strategy, handler, nil)
		}

		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	// Start HTTP server in a separate goroutine.
	h := invoke.NewHandler(a, cfg.Storage.BucketName, cfg.Server.MaxUploadMiB<<20)
	s := server.New(cfg.Server.HTTPPort, router.Setup(h, rec.Handler(), host.ID()))
	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	server.Shutdown(s, 5*time.Second)

	// Close Kafka producer and consumer clients.
	for _, pr := range []*producer.Producer{p, dl} {
		if pr == nil {
			continue
		}
		if err = pr.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if c != nil {
		if err = c.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}
