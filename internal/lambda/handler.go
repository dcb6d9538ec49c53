// Package lambda is the AWS Lambda boundary of a deployed pipeline stage.
package lambda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/aliskhannn/image-pipeline/internal/adapter"
)

// invoker runs one invocation from a raw JSON event.
type invoker interface {
	HandleRaw(ctx context.Context, data []byte) adapter.Result
}

// Handler adapts invocation results to the Lambda runtime contract.
type Handler struct {
	invoker invoker
}

// NewHandler creates a new Handler.
func NewHandler(i invoker) *Handler {
	return &Handler{invoker: i}
}

// Invoke handles one Lambda event. Failures of event-triggered invocations
// are returned as errors so the platform records and retries them; every
// other outcome, including failures, is returned as the envelope.
func (h *Handler) Invoke(ctx context.Context, event json.RawMessage) (map[string]any, error) {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = adapter.ContextWithRequestID(ctx, lc.AwsRequestID)
	}

	res := h.invoker.HandleRaw(ctx, event)
	if res.Escalate() {
		return nil, fmt.Errorf("runtime failure: %w", res.Err)
	}

	return res.Envelope.Map(), nil
}
