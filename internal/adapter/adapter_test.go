package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/config"
	"github.com/aliskhannn/image-pipeline/internal/model"
	"github.com/aliskhannn/image-pipeline/internal/processor"
)

func TestMain(m *testing.M) {
	zlog.Init()
	os.Exit(m.Run())
}

// MockStorage records every call and keeps the bytes written by Save.
type MockStorage struct {
	mock.Mock
	saved map[string][]byte
}

func NewMockStorage() *MockStorage {
	return &MockStorage{saved: make(map[string][]byte)}
}

func (m *MockStorage) Load(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Save(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	args := m.Called(ctx, bucket, key, size, contentType)
	if args.Error(0) == nil {
		m.saved[bucket+"/"+key] = data
	}
	return args.Error(0)
}

func (m *MockStorage) List(ctx context.Context, bucket, prefix string) ([]model.Object, error) {
	args := m.Called(ctx, bucket, prefix)
	objs, _ := args.Get(0).([]model.Object)
	return objs, args.Error(1)
}

// MockRecorder counts observations.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Observe(operation, mode string, success bool, elapsed time.Duration) {
	m.Called(operation, mode, success)
}

func testImage(t *testing.T, w, h int, f processor.Format) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	data, err := processor.Encode(&processor.Buffer{Image: img, Format: f})
	require.NoError(t, err)
	return data
}

func reader(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

func eventRequest(bucket, key string) model.Request {
	var rec events.S3EventRecord
	rec.EventName = "s3:ObjectCreated:Put"
	rec.S3.Bucket.Name = bucket
	rec.S3.Object.Key = key
	return model.Request{Records: []events.S3EventRecord{rec}}
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	buf, err := processor.Decode(data)
	require.NoError(t, err)
	return buf.Width(), buf.Height()
}

func TestHandle_PayloadResize(t *testing.T) {
	st := NewMockStorage()
	a := New(st, DefaultParams())

	res := a.Handle(context.Background(), model.Request{
		ImageData: base64.StdEncoding.EncodeToString(testImage(t, 200, 100, processor.JPEG)),
		Operation: "resize",
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Envelope.Success)
	assert.Equal(t, "resize", res.Envelope.Operation)
	assert.Equal(t, model.ModePayload, res.Mode)
	assert.False(t, res.Escalate())

	out, err := base64.StdEncoding.DecodeString(res.Envelope.ImageData)
	require.NoError(t, err)
	w, h := decodedSize(t, out)
	assert.Equal(t, 300, w)
	assert.Equal(t, 150, h)

	attrs := res.Envelope.Map()
	assert.Equal(t, "payload", attrs["input_source"])
	assert.Equal(t, 200, attrs["original_width"])
	assert.Equal(t, 150, attrs["output_height"])
	assert.Contains(t, attrs, "runtime")
	assert.Contains(t, attrs, "cpuUsrDelta")

	st.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_PayloadKeepsPNG(t *testing.T) {
	a := New(NewMockStorage(), DefaultParams())

	res := a.Handle(context.Background(), model.Request{
		ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(testImage(t, 10, 10, processor.PNG)),
		Operation: "grayscale",
	})
	require.NoError(t, res.Err)

	out, err := base64.StdEncoding.DecodeString(res.Envelope.ImageData)
	require.NoError(t, err)

	buf, err := processor.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, processor.PNG, buf.Format)
	assert.Equal(t, 1, buf.Channels())
}

func TestHandle_ReferenceMissingObject(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "b", "missing.jpg").Return(nil, errors.New("The specified key does not exist."))

	a := New(st, Defaults{Operation: model.OpGrayscale, GrayMode: "L"})

	res := a.Handle(context.Background(), model.Request{S3Bucket: "b", S3Key: "missing.jpg"})

	assert.ErrorIs(t, res.Err, model.ErrStorage)
	assert.False(t, res.Envelope.Success)
	assert.NotEmpty(t, res.Envelope.Error)
	assert.False(t, res.Escalate())

	attrs := res.Envelope.Map()
	assert.Equal(t, false, attrs["success"])
	assert.Equal(t, "storage", attrs["error_kind"])
	assert.Contains(t, attrs, "endTime")

	st.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_ReferenceWritesDerivedKey(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "b", "stage2/cat.png").Return(reader(testImage(t, 16, 8, processor.PNG)), nil)
	st.On("Save", mock.Anything, "b", "output/cat.png", mock.Anything, "image/png").Return(nil)

	a := New(st, DefaultParams())

	res := a.Handle(context.Background(), model.Request{S3Bucket: "b", S3Key: "stage2/cat.png", Operation: "greyscale"})

	require.NoError(t, res.Err)
	assert.Equal(t, "grayscale", res.Envelope.Operation)
	assert.Equal(t, "b", res.Envelope.BucketName)
	assert.Equal(t, "output/cat.png", res.Envelope.OutputKey)
	assert.Empty(t, res.Envelope.ImageData)

	w, h := decodedSize(t, st.saved["b/output/cat.png"])
	assert.Equal(t, 16, w)
	assert.Equal(t, 8, h)
	st.AssertExpectations(t)
}

func TestHandle_ReferenceInlineOutput(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "b", "photo.jpg").Return(reader(testImage(t, 20, 10, processor.JPEG)), nil)

	a := New(st, Defaults{Operation: model.OpRotate, RotationDegrees: 180})

	res := a.Handle(context.Background(), model.Request{S3Bucket: "b", S3Key: "photo.jpg", InlineOutput: true})

	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.Envelope.ImageData)
	st.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_EventRotateStage(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "pipeline", "input/photo.jpg").Return(reader(testImage(t, 64, 48, processor.JPEG)), nil)
	st.On("Save", mock.Anything, "pipeline", "stage1/photo.jpg", mock.Anything, "image/jpeg").Return(nil)

	d := DefaultParams()
	d.Operation = model.OpRotate
	a := New(st, d)

	res := a.Handle(context.Background(), eventRequest("pipeline", "input/photo.jpg"))

	require.NoError(t, res.Err)
	assert.Equal(t, model.ModeEvent, res.Mode)
	assert.Equal(t, "stage1/photo.jpg", res.Envelope.OutputKey)

	w, h := decodedSize(t, st.saved["pipeline/stage1/photo.jpg"])
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
	st.AssertExpectations(t)
}

func TestHandle_EventInfersStageFromKey(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "pipeline", "stage1/my photo.jpg").Return(reader(testImage(t, 10, 20, processor.JPEG)), nil)
	st.On("Save", mock.Anything, "pipeline", "stage2/my photo.jpg", mock.Anything, "image/jpeg").Return(nil)

	a := New(st, DefaultParams())

	res := a.Handle(context.Background(), eventRequest("pipeline", "stage1/my+photo.jpg"))

	require.NoError(t, res.Err)
	assert.Equal(t, "resize", res.Envelope.Operation)

	w, h := decodedSize(t, st.saved["pipeline/stage2/my photo.jpg"])
	assert.Equal(t, 15, w)
	assert.Equal(t, 30, h)
}

func TestHandle_EventFailureEscalates(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "pipeline", "input/broken.jpg").Return(reader([]byte("not an image")), nil)

	a := New(st, DefaultParams())

	res := a.Handle(context.Background(), eventRequest("pipeline", "input/broken.jpg"))

	assert.ErrorIs(t, res.Err, model.ErrDecode)
	assert.True(t, res.Escalate())
	assert.False(t, res.Envelope.Success)
	assert.Equal(t, "decode", res.Envelope.Map()["error_kind"])
	st.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_ValidationBeforeStorage(t *testing.T) {
	tests := []struct {
		name string
		req  model.Request
	}{
		{"empty", model.Request{}},
		{"operation only", model.Request{Operation: "rotate"}},
		{"payload and reference", model.Request{ImageData: "aGVsbG8=", S3Bucket: "b", S3Key: "k"}},
		{"reference and manual", model.Request{S3Bucket: "b", S3Key: "k", BucketName: "b"}},
		{"bucket without key", model.Request{S3Bucket: "b"}},
		{"key without bucket", model.Request{S3Key: "k"}},
		{"unknown operation", model.Request{S3Bucket: "b", S3Key: "k", Operation: "blur"}},
		{"no operation", model.Request{S3Bucket: "b", S3Key: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewMockStorage()
			rec := new(MockRecorder)
			rec.On("Observe", mock.Anything, mock.Anything, false).Return()

			a := New(st, DefaultParams(), WithRecorder(rec))

			res := a.Handle(context.Background(), tt.req)

			assert.ErrorIs(t, res.Err, model.ErrValidation)
			assert.False(t, res.Envelope.Success)
			assert.False(t, res.Escalate())
			assert.Equal(t, "validation", res.Envelope.Map()["error_kind"])

			assert.Empty(t, st.Calls)
			rec.AssertNumberOfCalls(t, "Observe", 1)
		})
	}
}

func TestHandle_UnsupportedGrayMode(t *testing.T) {
	a := New(NewMockStorage(), DefaultParams())

	res := a.Handle(context.Background(), model.Request{
		ImageData:     base64.StdEncoding.EncodeToString(testImage(t, 4, 4, processor.JPEG)),
		Operation:     "grayscale",
		GreyscaleMode: "CMYK",
	})

	assert.ErrorIs(t, res.Err, model.ErrValidation)
}

func TestHandle_DegenerateResize(t *testing.T) {
	pct := 1.0
	a := New(NewMockStorage(), DefaultParams())

	res := a.Handle(context.Background(), model.Request{
		ImageData:    base64.StdEncoding.EncodeToString(testImage(t, 10, 10, processor.JPEG)),
		Operation:    "resize",
		ScalePercent: &pct,
	})

	assert.ErrorIs(t, res.Err, model.ErrTransform)
	assert.Equal(t, "transform", res.Envelope.Map()["error_kind"])
}

func TestHandle_OversizedResizeFailsCleanly(t *testing.T) {
	huge := 1e12
	payload := base64.StdEncoding.EncodeToString(testImage(t, 200, 100, processor.JPEG))

	cases := []struct {
		name string
		req  model.Request
	}{
		{"scale percent", model.Request{ImageData: payload, Operation: "resize", ScalePercent: &huge}},
		{"explicit size", model.Request{ImageData: payload, Operation: "resize", Width: 1 << 40, Height: 1 << 40}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := New(NewMockStorage(), DefaultParams())

			var res Result
			require.NotPanics(t, func() { res = a.Handle(context.Background(), tc.req) })

			assert.ErrorIs(t, res.Err, model.ErrTransform)
			assert.False(t, res.Envelope.Success)
			assert.Equal(t, "transform", res.Envelope.Map()["error_kind"])
			assert.Contains(t, res.Envelope.Map(), "runtime")
		})
	}
}

// panickingStorage fails every Load with a panic.
type panickingStorage struct {
	*MockStorage
}

func (panickingStorage) Load(context.Context, string, string) (io.ReadCloser, error) {
	panic("driver bug")
}

func TestHandle_PanicFinalizesEnvelope(t *testing.T) {
	rec := new(MockRecorder)
	rec.On("Observe", "resize", "reference", false).Return().Once()

	a := New(panickingStorage{NewMockStorage()}, DefaultParams(), WithRecorder(rec))

	var res Result
	require.NotPanics(t, func() {
		res = a.Handle(context.Background(), model.Request{S3Bucket: "b", S3Key: "cat.jpg", Operation: "resize"})
	})

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "driver bug")
	assert.False(t, res.Envelope.Success)
	assert.Equal(t, "internal", res.Envelope.Map()["error_kind"])
	assert.Contains(t, res.Envelope.Map(), "runtime")
	rec.AssertExpectations(t)
}

func TestHandle_CorruptPayload(t *testing.T) {
	a := New(NewMockStorage(), DefaultParams())

	for _, data := range []string{"!!!not base64!!!", base64.StdEncoding.EncodeToString([]byte("garbage"))} {
		res := a.Handle(context.Background(), model.Request{ImageData: data, Operation: "rotate"})
		assert.ErrorIs(t, res.Err, model.ErrDecode)
		assert.False(t, res.Envelope.Success)
	}
}

func TestHandle_ManualDiscovery(t *testing.T) {
	st := NewMockStorage()
	st.On("List", mock.Anything, "bkt", "input/").Return([]model.Object{
		{Key: "input/", Size: 0},
		{Key: "input/readme.txt", Size: 12},
		{Key: "input/dog.jpg", Size: 1000},
	}, nil)
	st.On("Load", mock.Anything, "bkt", "input/dog.jpg").Return(reader(testImage(t, 30, 20, processor.JPEG)), nil)
	st.On("Save", mock.Anything, "bkt", "stage1/dog.jpg", mock.Anything, "image/jpeg").Return(nil)

	a := New(st, Defaults{Operation: model.OpRotate, RotationDegrees: 180})

	res := a.Handle(context.Background(), model.Request{BucketName: "bkt"})

	require.NoError(t, res.Err)
	assert.Equal(t, model.ModeManual, res.Mode)
	assert.Equal(t, "stage1/dog.jpg", res.Envelope.OutputKey)

	attrs := res.Envelope.Map()
	assert.Equal(t, "input/dog.jpg", attrs["input_key"])
	assert.Equal(t, "rotate", attrs["step"])
	assert.Equal(t, "JPEG", attrs["image_format"])
	st.AssertExpectations(t)
}

func TestHandle_ManualExplicitKeyWithoutExtension(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "bkt", "stage1/raw").Return(reader(testImage(t, 10, 10, processor.JPEG)), nil)
	st.On("Save", mock.Anything, "bkt", "stage2/raw.jpeg", mock.Anything, "image/jpeg").Return(nil)

	a := New(st, DefaultParams())

	res := a.Handle(context.Background(), model.Request{BucketName: "bkt", InputKey: "stage1/raw"})

	require.NoError(t, res.Err)
	assert.Equal(t, "stage2/raw.jpeg", res.Envelope.OutputKey)
	st.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_ManualNothingToProcess(t *testing.T) {
	st := NewMockStorage()
	st.On("List", mock.Anything, "bkt", "stage2/").Return([]model.Object{{Key: "stage2/", Size: 0}}, nil)

	a := New(st, Defaults{Operation: model.OpGrayscale})

	res := a.Handle(context.Background(), model.Request{BucketName: "bkt"})

	assert.ErrorIs(t, res.Err, model.ErrStorage)
	assert.False(t, res.Escalate())
	st.AssertNotCalled(t, "Load", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_SaveFailure(t *testing.T) {
	st := NewMockStorage()
	st.On("Load", mock.Anything, "b", "input/a.jpg").Return(reader(testImage(t, 8, 8, processor.JPEG)), nil)
	st.On("Save", mock.Anything, "b", "stage1/a.jpg", mock.Anything, "image/jpeg").Return(errors.New("access denied"))

	a := New(st, Defaults{Operation: model.OpRotate, RotationDegrees: 180})

	res := a.Handle(context.Background(), eventRequest("b", "input/a.jpg"))

	assert.ErrorIs(t, res.Err, model.ErrStorage)
	assert.True(t, res.Escalate())
	assert.Empty(t, res.Envelope.OutputKey)
}

func TestHandleRaw(t *testing.T) {
	a := New(NewMockStorage(), DefaultParams())

	res := a.HandleRaw(context.Background(), []byte(`{"image_data":`))
	assert.ErrorIs(t, res.Err, model.ErrValidation)
	assert.False(t, res.Envelope.Success)
	assert.Contains(t, res.Envelope.Map(), "runtime")

	body := `{"image_data":"` + base64.StdEncoding.EncodeToString(testImage(t, 6, 4, processor.JPEG)) + `","operation":"rotate","rotation_degrees":90,"expand":true}`
	res = a.HandleRaw(context.Background(), []byte(body))
	require.NoError(t, res.Err)

	out, err := base64.StdEncoding.DecodeString(res.Envelope.ImageData)
	require.NoError(t, err)
	w, h := decodedSize(t, out)
	assert.Equal(t, 4, w)
	assert.Equal(t, 6, h)
}

func TestHandle_RecordsEachInvocation(t *testing.T) {
	rec := new(MockRecorder)
	rec.On("Observe", "resize", "payload", true).Return().Once()

	a := New(NewMockStorage(), DefaultParams(), WithRecorder(rec))

	res := a.Handle(context.Background(), model.Request{
		ImageData: base64.StdEncoding.EncodeToString(testImage(t, 4, 4, processor.JPEG)),
		Operation: "resize",
	})
	require.NoError(t, res.Err)

	rec.AssertExpectations(t)
}

func TestUpload(t *testing.T) {
	st := NewMockStorage()
	st.On("Save", mock.Anything, "bkt", mock.MatchedBy(func(k string) bool {
		return len(k) > len("input/") && k[:6] == "input/" && k[len(k)-4:] == ".png"
	}), mock.Anything, "image/png").Return(nil)

	a := New(st, DefaultParams())

	key, err := a.Upload(context.Background(), "bkt", "holiday", testImage(t, 5, 5, processor.PNG))
	require.NoError(t, err)
	assert.Contains(t, st.saved, "bkt/"+key)

	_, err = a.Upload(context.Background(), "bkt", "x.jpg", []byte("nope"))
	assert.ErrorIs(t, err, model.ErrDecode)
	st.AssertNumberOfCalls(t, "Save", 1)
}

func TestDefaultsFromConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	d, err := DefaultsFromConfig(cfg.Pipeline, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), d)

	d, err = DefaultsFromConfig(config.Pipeline{RotationDegrees: 0, ScalePercent: 0}, "")
	require.NoError(t, err)
	assert.Zero(t, d.RotationDegrees)
	assert.Zero(t, d.ScalePercent)
	assert.Equal(t, "L", d.GrayMode)

	d, err = DefaultsFromConfig(config.Pipeline{RotationDegrees: 90, ScalePercent: 50, GreyscaleMode: "1"}, "python_lambda_greyscale")
	require.NoError(t, err)
	assert.Equal(t, model.OpGrayscale, d.Operation)
	assert.Equal(t, 50.0, d.ScalePercent)
	assert.Equal(t, 90.0, d.RotationDegrees)
	assert.Equal(t, "1", d.GrayMode)

	d, err = DefaultsFromConfig(config.Pipeline{Operation: "resize"}, "image-rotate")
	require.NoError(t, err)
	assert.Equal(t, model.OpResize, d.Operation)

	_, err = DefaultsFromConfig(config.Pipeline{Operation: "sharpen"}, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = DefaultsFromConfig(config.Pipeline{GreyscaleMode: "RGB"}, "")
	assert.ErrorIs(t, err, model.ErrValidation)
}
