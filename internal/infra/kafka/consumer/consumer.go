package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/config"
)

// messageHandler processes one bucket notification.
type messageHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// deadLetter parks a notification that kept failing.
type deadLetter interface {
	Forward(ctx context.Context, msg kafka.Message) error
}

// groupReader is the part of a consumer-group reader the loop uses.
// Fetch moves past a message whether or not it was committed.
type groupReader interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer along with its configuration
// and the handler that processes bucket notifications.
type Consumer struct {
	client     groupReader
	handler    messageHandler
	deadLetter deadLetter
	topic      string
	strategy   retry.Strategy
	backoff    time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New creates a new Consumer.
// - cfg: Kafka configuration struct
// - s: retry strategy for fetch, handling and commit
// - h: handler for bucket notification messages
// - dl: destination for notifications that still fail after retries, may be nil
func New(cfg *config.Kafka, s retry.Strategy, h messageHandler, dl deadLetter) *Consumer {
	return &Consumer{
		client:     wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID),
		handler:    h,
		deadLetter: dl,
		topic:      cfg.Topic,
		strategy:   s,
		backoff:    500 * time.Millisecond,
	}
}

// Close closes the underlying reader and leaves the group. Later calls
// return the first result.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

// Consume continuously fetches messages from Kafka, processes them using the handler,
// and commits offsets after processing. A notification that still fails after
// the retry strategy is forwarded to the dead-letter topic and committed. With
// no dead-letter topic, or when forwarding fails, Consume closes the reader
// without committing so the group rebalances and the message is delivered
// again.
// It stops gracefully on context cancellation.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.topic).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		// Fetch a message from Kafka with retries.
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Err(err).Msg("failed to fetch message")
			time.Sleep(c.backoff)
			continue
		}

		if !c.process(ctx, msg) {
			if ctx.Err() == nil {
				if err := c.Close(); err != nil {
					zlog.Logger.Err(err).Msg("failed to close consumer")
				}
			}
			return
		}

		// Commit the message with retries.
		err = retry.Do(func() error {
			return c.client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Msg("message handled successfully")
	}
}

// process runs the handler with retries and parks a message that keeps
// failing. It reports whether msg may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	err := retry.Do(func() error {
		return c.handler.Handle(ctx, msg)
	}, c.strategy)
	if err == nil {
		return true
	}

	zlog.Logger.Err(err).
		Int64("offset", msg.Offset).
		Str("message", string(msg.Value)).
		Msg("failed to process notification after retries")

	if ctx.Err() != nil {
		return false
	}

	if c.deadLetter == nil {
		zlog.Logger.Error().
			Int64("offset", msg.Offset).
			Msg("no dead-letter topic, stopping consumer before commit")
		return false
	}

	if err := c.deadLetter.Forward(ctx, msg); err != nil {
		zlog.Logger.Err(err).
			Int64("offset", msg.Offset).
			Msg("failed to forward notification to dead-letter topic, stopping consumer before commit")
		return false
	}

	zlog.Logger.Warn().
		Int64("offset", msg.Offset).
		Msg("notification forwarded to dead-letter topic")

	return true
}
