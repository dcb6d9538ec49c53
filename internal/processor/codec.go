package processor

import (
	"bytes"
	"fmt"
	"image"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/aliskhannn/image-pipeline/internal/model"
)

// EncodeQuality is the JPEG quality used when re-encoding results.
var EncodeQuality = 95

// Format is the byte encoding a Buffer is written back in.
type Format int

const (
	JPEG Format = iota
	PNG
)

// String returns the format name as reported in instrumentation.
func (f Format) String() string {
	if f == PNG {
		return "PNG"
	}
	return "JPEG"
}

// ContentType returns the MIME type for storage writes.
func (f Format) ContentType() string {
	if f == PNG {
		return "image/png"
	}
	return "image/jpeg"
}

// FormatForKey picks the output format from an object key's extension:
// PNG for ".png", JPEG for anything else.
func FormatForKey(key string) Format {
	if strings.EqualFold(path.Ext(key), ".png") {
		return PNG
	}
	return JPEG
}

// Buffer is a decoded raster together with the format it will be
// re-encoded in.
type Buffer struct {
	Image  image.Image
	Format Format
}

// Width returns the raster width in pixels.
func (b *Buffer) Width() int { return b.Image.Bounds().Dx() }

// Height returns the raster height in pixels.
func (b *Buffer) Height() int { return b.Image.Bounds().Dy() }

// Channels reports the pixel-channel layout: 1 for luminance rasters,
// 3 for opaque colour and 4 for colour with alpha.
func (b *Buffer) Channels() int {
	switch b.Image.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	}

	if o, ok := b.Image.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return 4
	}

	return 3
}

// Decode turns encoded image bytes into a Buffer. Corrupt data, unsupported
// containers and zero-sized images all fail with model.ErrDecode.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", model.ErrDecode)
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", model.ErrDecode, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	f := JPEG
	if name == "png" {
		f = PNG
	}

	return &Buffer{Image: img, Format: f}, nil
}

// Encode writes the buffer in its tagged format.
func Encode(b *Buffer) ([]byte, error) {
	buf := new(bytes.Buffer)

	var err error
	if b.Format == PNG {
		err = imaging.Encode(buf, b.Image, imaging.PNG)
	} else {
		err = imaging.Encode(buf, b.Image, imaging.JPEG, imaging.JPEGQuality(EncodeQuality))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", b.Format, err)
	}

	return buf.Bytes(), nil
}
