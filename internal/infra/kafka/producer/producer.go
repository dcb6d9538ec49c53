package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-pipeline/internal/config"
	"github.com/aliskhannn/image-pipeline/internal/model"
)

// Producer writes to one topic: finalized envelopes to the results topic,
// or failed notifications to the dead-letter topic.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a new Producer writing to cfg.ResultsTopic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.ResultsTopic),
		strategy: s,
	}
}

// NewDeadLetter creates a Producer writing to cfg.DeadLetterTopic.
func NewDeadLetter(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.DeadLetterTopic),
		strategy: s,
	}
}

// Forward copies a notification's key and value unchanged.
func (p *Producer) Forward(ctx context.Context, msg kafka.Message) error {
	if err := p.Client.SendWithRetry(ctx, p.strategy, msg.Key, msg.Value); err != nil {
		return fmt.Errorf("failed to forward message at offset %d: %w", msg.Offset, err)
	}

	return nil
}

// Publish serializes the envelope to JSON and sends it to Kafka.
// The output key, or the request id when nothing was written, is used as the
// message key so results for one object stay ordered.
func (p *Producer) Publish(ctx context.Context, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	key := env.OutputKey
	if key == "" {
		if id, ok := env.Attributes["request_id"].(string); ok {
			key = id
		}
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, []byte(key), data); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}

	return nil
}
