package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-pipeline/internal/adapter"
	"github.com/aliskhannn/image-pipeline/internal/api/respond"
	"github.com/aliskhannn/image-pipeline/internal/model"
)

// invoker defines the pipeline operations exposed over HTTP.
type invoker interface {
	Handle(ctx context.Context, req model.Request) adapter.Result
	HandleRaw(ctx context.Context, data []byte) adapter.Result
	Upload(ctx context.Context, bucket, filename string, data []byte) (string, error)
}

// Handler provides HTTP handlers for invocation and upload endpoints.
type Handler struct {
	invoker   invoker
	bucket    string
	maxMemory int64
}

// NewHandler creates a new Handler. Uploads go to bucket; multipart bodies
// keep up to maxMemory bytes in memory.
func NewHandler(i invoker, bucket string, maxMemory int64) *Handler {
	return &Handler{invoker: i, bucket: bucket, maxMemory: maxMemory}
}

// Invoke runs a JSON request in any mode and responds with the envelope.
func (h *Handler) Invoke(c *ginext.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read request body")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to read request body"))
		return
	}

	respond.Envelope(c, h.invoker.HandleRaw(c.Request.Context(), body))
}

// InvokeUpload runs a payload-mode request whose image arrives as the
// multipart "image" file. Operation parameters are read from form fields.
func (h *Handler) InvokeUpload(c *ginext.Context) {
	data, _, err := h.readImage(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	req, err := formRequest(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}
	req.RawImage = data

	respond.Envelope(c, h.invoker.Handle(c.Request.Context(), req))
}

// Upload stores the multipart "image" file under the pipeline input prefix,
// which starts the chained stages.
func (h *Handler) Upload(c *ginext.Context) {
	data, filename, err := h.readImage(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	key, err := h.invoker.Upload(c.Request.Context(), h.bucket, filename, data)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to upload the image")
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, model.ErrDecode):
			status = http.StatusBadRequest
		case errors.Is(err, model.ErrStorage):
			status = http.StatusBadGateway
		}
		respond.Fail(c, status, err)
		return
	}

	zlog.Logger.Info().Str("bucket", h.bucket).Str("key", key).Msg("image uploaded")

	respond.Created(c, map[string]interface{}{
		"bucket_name": h.bucket,
		"input_key":   key,
		"filename":    filename,
	})
}

func (h *Handler) readImage(c *ginext.Context) ([]byte, string, error) {
	if err := c.Request.ParseMultipartForm(h.maxMemory); err != nil {
		zlog.Logger.Err(err).Msg("failed to parse multipart form")
		return nil, "", fmt.Errorf("parse multipart form failed: %v", err)
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to retrieve the file")
		return nil, "", fmt.Errorf("failed to retrieve the file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read the file: %v", err)
	}

	return data, header.Filename, nil
}

// formRequest reads operation parameters from multipart form fields.
func formRequest(c *ginext.Context) (model.Request, error) {
	req := model.Request{
		Operation:     c.PostForm("operation"),
		GreyscaleMode: c.PostForm("greyscale_mode"),
	}

	var err error
	if req.RotationDegrees, err = optFloat(c.PostForm("rotation_degrees")); err != nil {
		return req, fmt.Errorf("invalid rotation_degrees: %v", err)
	}
	if req.ScalePercent, err = optFloat(c.PostForm("scale_percent")); err != nil {
		return req, fmt.Errorf("invalid scale_percent: %v", err)
	}
	if v := c.PostForm("expand"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid expand: %v", err)
		}
		req.Expand = &b
	}
	if v := c.PostForm("maintain_aspect_ratio"); v != "" {
		if req.MaintainAspectRatio, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("invalid maintain_aspect_ratio: %v", err)
		}
	}
	if v := c.PostForm("width"); v != "" {
		if req.Width, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("invalid width: %v", err)
		}
	}
	if v := c.PostForm("height"); v != "" {
		if req.Height, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("invalid height: %v", err)
		}
	}

	return req, nil
}

func optFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
