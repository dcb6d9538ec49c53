package image

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/adapter"
	"github.com/aliskhannn/image-pipeline/internal/model"
	"github.com/aliskhannn/image-pipeline/internal/pipeline"
)

// invoker runs one pipeline invocation.
type invoker interface {
	Handle(ctx context.Context, req model.Request) adapter.Result
}

// publisher forwards finalized envelopes.
type publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
}

// NotificationHandler handles bucket notifications delivered through Kafka.
// Each notification of a newly created object under a stage input prefix
// runs that stage.
type NotificationHandler struct {
	invoker   invoker
	publisher publisher
}

// NewNotificationHandler creates a new handler. p may be nil when results
// are not published.
func NewNotificationHandler(i invoker, p publisher) *NotificationHandler {
	return &NotificationHandler{invoker: i, publisher: p}
}

// Handle processes a Kafka message containing a bucket notification.
// A returned error means the notification failed; the consumer retries it
// and then parks it on the dead-letter topic.
func (h *NotificationHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var req model.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		zlog.Logger.Err(err).Msg("skipping malformed notification")
		return nil
	}

	if len(req.Records) == 0 {
		zlog.Logger.Warn().Msg("skipping notification without records")
		return nil
	}

	if name := req.Records[0].EventName; name != "" && !strings.Contains(name, "ObjectCreated") {
		zlog.Logger.Debug().Str("event", name).Msg("skipping non-create event")
		return nil
	}

	_, key, err := req.EventObject()
	if err == nil {
		if _, ok := pipeline.StageForKey(key); !ok {
			zlog.Logger.Debug().Str("key", key).Msg("skipping object outside pipeline stages")
			return nil
		}
	}

	res := h.invoker.Handle(ctx, req)

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, res.Envelope.WithoutImage()); err != nil {
			zlog.Logger.Err(err).Msg("failed to publish result")
		}
	}

	if res.Escalate() {
		return fmt.Errorf("runtime failure: %w", res.Err)
	}

	zlog.Logger.Printf("stage %s wrote %s", res.Envelope.Operation, res.Envelope.OutputKey)

	return nil
}
