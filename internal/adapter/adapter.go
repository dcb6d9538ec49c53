// Package adapter turns a request in any of the supported shapes into one
// transform invocation: it classifies the request, acquires the source image,
// runs the operation, emits the result and finalizes the envelope.
package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/config"
	"github.com/aliskhannn/image-pipeline/internal/inspector"
	"github.com/aliskhannn/image-pipeline/internal/model"
	"github.com/aliskhannn/image-pipeline/internal/pipeline"
	"github.com/aliskhannn/image-pipeline/internal/processor"
)

// fileStorage is the object storage capability the adapter reads from and
// writes to.
type fileStorage interface {
	Load(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Save(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	List(ctx context.Context, bucket, prefix string) ([]model.Object, error)
}

// recorder receives one observation per finished invocation.
type recorder interface {
	Observe(operation, mode string, success bool, elapsed time.Duration)
}

// Defaults are the parameters used when a request leaves them out.
type Defaults struct {
	Operation       model.Operation // deployment operation; empty means infer
	RotationDegrees float64
	Expand          bool
	ScalePercent    float64
	GrayMode        string
}

// DefaultParams returns the stage defaults: 180 degrees without expand,
// 150 percent scale and 8-bit luminance.
func DefaultParams() Defaults {
	return Defaults{
		RotationDegrees: 180,
		ScalePercent:    150,
		GrayMode:        string(processor.GrayLuminance),
	}
}

// Adapter runs invocations against a storage backend.
type Adapter struct {
	storage  fileStorage
	defaults Defaults
	host     *inspector.Host
	recorder recorder
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithRecorder reports every invocation to r.
func WithRecorder(r recorder) Option {
	return func(a *Adapter) { a.recorder = r }
}

// WithHost shares h between adapters in the same process.
func WithHost(h *inspector.Host) Option {
	return func(a *Adapter) { a.host = h }
}

// New creates an Adapter.
func New(s fileStorage, d Defaults, opts ...Option) *Adapter {
	a := &Adapter{storage: s, defaults: d}
	for _, opt := range opts {
		opt(a)
	}
	if a.host == nil {
		a.host = inspector.NewHost()
	}
	return a
}

// Result is the outcome of one invocation. Err is nil on success.
type Result struct {
	Envelope model.Envelope
	Mode     model.Mode
	Err      error
}

// Escalate reports whether the failure must be surfaced to the hosting
// platform as a fatal signal rather than embedded in the response. Only
// event-triggered invocations escalate.
func (r Result) Escalate() bool {
	return r.Err != nil && r.Mode == model.ModeEvent
}

// HandleRaw parses a JSON request and handles it. A malformed body still
// produces a finalized envelope.
func (a *Adapter) HandleRaw(ctx context.Context, data []byte) Result {
	var req model.Request
	if err := json.Unmarshal(data, &req); err != nil {
		inv := a.begin(ctx, "")
		return a.finish(inv, fmt.Errorf("%w: malformed request: %v", model.ErrValidation, err))
	}
	return a.Handle(ctx, req)
}

// Handle runs a single invocation to completion.
func (a *Adapter) Handle(ctx context.Context, req model.Request) Result {
	inv := a.begin(ctx, req.Operation)
	err := a.guardedRun(ctx, inv, req)
	return a.finish(inv, err)
}

// guardedRun turns a panic inside run into an internal-kind error so the
// envelope is still finalized.
func (a *Adapter) guardedRun(ctx context.Context, inv *invocation, req model.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invocation panicked: %v", r)
		}
	}()

	return a.run(ctx, inv, req)
}

// invocation carries the state of one request through the steps.
type invocation struct {
	in      *inspector.Inspector
	started time.Time
	mode    model.Mode
	op      string
	env     model.Envelope
}

type requestIDKey struct{}

// ContextWithRequestID attaches the platform request id reported in the
// request_id attribute.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func (a *Adapter) begin(ctx context.Context, op string) *invocation {
	if op == "" {
		op = string(a.defaults.Operation)
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return &invocation{
		in:      a.host.Inspect(id),
		started: time.Now(),
		op:      op,
	}
}

func (a *Adapter) run(ctx context.Context, inv *invocation, req model.Request) error {
	mode, src, err := Classify(req)
	inv.mode = mode
	if mode != "" {
		inv.in.Add("mode", string(mode))
	}
	if err != nil {
		return err
	}

	if mode == model.ModePayload {
		inv.in.Add("input_source", "payload")
	} else {
		inv.in.Add("input_source", "s3")
		inv.in.Add("s3_bucket", src.Bucket)
		if src.Key != "" {
			inv.in.Add("s3_key", src.Key)
		}
	}

	op, err := a.resolveOperation(req, mode, src.Key)
	if err != nil {
		return err
	}
	inv.op = string(op)

	if mode == model.ModeManual && src.Key == "" {
		if src.Key, err = a.discover(ctx, src.Bucket, op); err != nil {
			return err
		}
		inv.in.Add("s3_key", src.Key)
	}

	data, err := a.acquire(ctx, src)
	if err != nil {
		return err
	}
	inv.in.Add("input_size_bytes", len(data))

	buf, err := processor.Decode(data)
	if err != nil {
		return err
	}
	if !src.IsInline() {
		buf.Format = processor.FormatForKey(src.Key)
	}

	inv.in.Add("original_width", buf.Width())
	inv.in.Add("original_height", buf.Height())
	inv.in.Add("image_format", buf.Format.String())

	out, err := a.execute(inv.in, buf, op, req)
	if err != nil {
		return err
	}

	inv.in.Add("output_width", out.Width())
	inv.in.Add("output_height", out.Height())

	encoded, err := processor.Encode(out)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransform, err)
	}
	inv.in.Add("output_size_bytes", len(encoded))

	return a.emit(ctx, inv, mode, src, op, req, out.Format, encoded)
}

// resolveOperation picks the request operation, then the deployment
// default, then for storage-triggered modes the stage implied by the key.
func (a *Adapter) resolveOperation(req model.Request, mode model.Mode, key string) (model.Operation, error) {
	if req.Operation != "" {
		return model.ParseOperation(req.Operation)
	}
	if a.defaults.Operation != "" {
		return a.defaults.Operation, nil
	}
	if mode == model.ModeEvent || mode == model.ModeManual {
		if s, ok := pipeline.StageForKey(key); ok {
			return s.Operation, nil
		}
	}
	return "", fmt.Errorf("%w: operation not specified", model.ErrValidation)
}

// discover finds the first image waiting under the stage input prefix.
func (a *Adapter) discover(ctx context.Context, bucket string, op model.Operation) (string, error) {
	stage, ok := pipeline.StageFor(op)
	if !ok {
		return "", fmt.Errorf("%w: no stage runs %q", model.ErrValidation, op)
	}

	objects, err := a.storage.List(ctx, bucket, stage.InputPrefix)
	if err != nil {
		return "", storageErr(fmt.Errorf("failed to list %s/%s: %w", bucket, stage.InputPrefix, err))
	}

	obj, ok := pipeline.FindInput(objects, stage.InputPrefix)
	if !ok {
		return "", fmt.Errorf("%w: no input image found under %s/%s", model.ErrStorage, bucket, stage.InputPrefix)
	}

	return obj.Key, nil
}

func (a *Adapter) acquire(ctx context.Context, src model.SourceRef) ([]byte, error) {
	if src.IsInline() {
		return src.Inline, nil
	}

	rc, err := a.storage.Load(ctx, src.Bucket, src.Key)
	if err != nil {
		return nil, storageErr(fmt.Errorf("failed to load %s/%s: %w", src.Bucket, src.Key, err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageErr(fmt.Errorf("failed to read %s/%s: %w", src.Bucket, src.Key, err))
	}

	return data, nil
}

func (a *Adapter) execute(in *inspector.Inspector, buf *processor.Buffer, op model.Operation, req model.Request) (*processor.Buffer, error) {
	switch op {
	case model.OpRotate:
		degrees := a.defaults.RotationDegrees
		if req.RotationDegrees != nil {
			degrees = *req.RotationDegrees
		}
		expand := a.defaults.Expand
		if req.Expand != nil {
			expand = *req.Expand
		}
		in.Add("rotation_degrees", degrees)
		in.Add("expand", expand)
		return processor.Rotate(buf, degrees, expand)

	case model.OpResize:
		t := processor.Target{
			Percent: a.defaults.ScalePercent,
			Width:   req.Width,
			Height:  req.Height,
			Fit:     req.MaintainAspectRatio,
		}
		if req.ScalePercent != nil {
			t.Percent = *req.ScalePercent
		}
		if t.Width == 0 && t.Height == 0 {
			in.Add("scale_percent", t.Percent)
		} else {
			in.Add("target_width", t.Width)
			in.Add("target_height", t.Height)
			in.Add("maintain_aspect_ratio", t.Fit)
		}
		return processor.Resize(buf, t)

	case model.OpGrayscale:
		name := req.GreyscaleMode
		if name == "" {
			name = a.defaults.GrayMode
		}
		mode, err := processor.ParseGrayMode(name)
		if err != nil {
			return nil, err
		}
		in.Add("greyscale_mode", string(mode))
		return processor.Grayscale(buf, mode)

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", model.ErrValidation, op)
	}
}

func (a *Adapter) emit(
	ctx context.Context,
	inv *invocation,
	mode model.Mode,
	src model.SourceRef,
	op model.Operation,
	req model.Request,
	format processor.Format,
	data []byte,
) error {
	if mode == model.ModePayload || (mode == model.ModeReference && req.InlineOutput) {
		inv.env.ImageData = base64.StdEncoding.EncodeToString(data)
		return nil
	}

	key := pipeline.OutputKey(op, src.Key)
	if mode == model.ModeManual {
		key = pipeline.EnsureExtension(key)
	}

	err := a.storage.Save(ctx, src.Bucket, key, bytes.NewReader(data), int64(len(data)), format.ContentType())
	if err != nil {
		return storageErr(fmt.Errorf("failed to save %s/%s: %w", src.Bucket, key, err))
	}

	inv.env.BucketName = src.Bucket
	inv.env.OutputKey = key
	inv.in.Add("input_key", src.Key)
	inv.in.Add("output_key", key)

	if mode == model.ModeManual {
		inv.in.Add("step", string(op))
		inv.in.Add("message", fmt.Sprintf("%s stage wrote %s", op, key))
	}

	return nil
}

// finish finalizes the envelope exactly once, on every exit path.
func (a *Adapter) finish(inv *invocation, err error) Result {
	success := err == nil

	inv.in.Add("operation", inv.op)
	inv.in.Add("success", success)
	if err != nil {
		inv.in.Add("error", err.Error())
		inv.in.Add("error_kind", model.KindOf(err))
	}

	inv.env.Operation = inv.op
	inv.env.Success = success
	if err != nil {
		inv.env.Error = err.Error()
	}
	inv.env.Attributes = inv.in.Finish()

	elapsed := time.Since(inv.started)
	if a.recorder != nil {
		a.recorder.Observe(inv.op, string(inv.mode), success, elapsed)
	}

	if err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("operation", inv.op).
			Str("mode", string(inv.mode)).
			Str("kind", model.KindOf(err)).
			Msg("invocation failed")
	} else {
		zlog.Logger.Info().
			Str("operation", inv.op).
			Str("mode", string(inv.mode)).
			Str("output_key", inv.env.OutputKey).
			Dur("elapsed", elapsed).
			Msg("invocation succeeded")
	}

	return Result{Envelope: inv.env, Mode: inv.mode, Err: err}
}

// storageErr marks err as a storage failure unless it already carries a kind.
func storageErr(err error) error {
	if model.KindOf(err) != "internal" {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStorage, err)
}

// DefaultsFromConfig builds the stage defaults from configuration. The
// deployment operation comes from p.Operation, or failing that from a
// deployment name such as a function name containing "rotate". Numeric
// values are taken as given, zero included; config.Load supplies their
// defaults.
func DefaultsFromConfig(p config.Pipeline, deploymentName string) (Defaults, error) {
	d := DefaultParams()

	d.RotationDegrees = p.RotationDegrees
	d.Expand = p.Expand
	d.ScalePercent = p.ScalePercent
	if p.GreyscaleMode != "" {
		if _, err := processor.ParseGrayMode(p.GreyscaleMode); err != nil {
			return d, err
		}
		d.GrayMode = p.GreyscaleMode
	}

	switch {
	case p.Operation != "":
		op, err := model.ParseOperation(p.Operation)
		if err != nil {
			return d, err
		}
		d.Operation = op
	case deploymentName != "":
		if op, ok := model.OperationFromName(deploymentName); ok {
			d.Operation = op
		}
	}

	return d, nil
}
