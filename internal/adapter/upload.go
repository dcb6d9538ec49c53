package adapter

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-pipeline/internal/pipeline"
	"github.com/aliskhannn/image-pipeline/internal/processor"
)

// Upload stores an image under input/<uuid><ext> so that the bucket
// notification starts the chained pipeline. The bytes must decode as an
// image. It returns the created key.
func (a *Adapter) Upload(ctx context.Context, bucket, filename string, data []byte) (string, error) {
	buf, err := processor.Decode(data)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(path.Ext(filename))
	if !pipeline.IsImageKey(ext) {
		ext = ".jpg"
		if buf.Format == processor.PNG {
			ext = ".png"
		}
	}

	key := pipeline.InputPrefix + uuid.NewString() + ext
	format := processor.FormatForKey(key)

	if err := a.storage.Save(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), format.ContentType()); err != nil {
		return "", storageErr(fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err))
	}

	return key, nil
}
