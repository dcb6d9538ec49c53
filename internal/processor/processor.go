// Package processor implements the pure image transforms of the pipeline:
// grayscale conversion, scale-factor resize and fixed-angle rotation.
// Nothing here performs I/O; callers decode and encode with Decode/Encode.
package processor

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/aliskhannn/image-pipeline/internal/model"
)

// Background fills the corners a rotation exposes. Opaque black.
var Background color.Color = color.NRGBA{A: 0xff}

// binaryThreshold splits luminance into black and white for GrayBinary.
const binaryThreshold = 128

// GrayMode selects the grayscale target channel mode.
type GrayMode string

const (
	GrayLuminance GrayMode = "L" // 8-bit luminance
	GrayBinary    GrayMode = "1" // thresholded black/white
)

// ParseGrayMode accepts the channel-mode names ("L", "1") and their
// descriptive aliases ("standard", "binary"). Empty selects GrayLuminance.
func ParseGrayMode(s string) (GrayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "l", "standard":
		return GrayLuminance, nil
	case "1", "binary":
		return GrayBinary, nil
	default:
		return "", fmt.Errorf("%w: unsupported grayscale mode %q", model.ErrValidation, s)
	}
}

// Grayscale converts every pixel to a single luma-weighted 8-bit value,
// or to pure black/white in GrayBinary mode. Dimensions are preserved.
func Grayscale(buf *Buffer, mode GrayMode) (*Buffer, error) {
	if mode != GrayLuminance && mode != GrayBinary {
		return nil, fmt.Errorf("%w: unsupported grayscale mode %q", model.ErrValidation, mode)
	}

	luma := imaging.Grayscale(buf.Image)
	w, h := luma.Bounds().Dx(), luma.Bounds().Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		src := luma.Pix[y*luma.Stride : y*luma.Stride+w*4]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x := range dst {
			v := src[x*4] // r == g == b after imaging.Grayscale
			if mode == GrayBinary {
				if v >= binaryThreshold {
					v = 0xff
				} else {
					v = 0
				}
			}
			dst[x] = v
		}
	}

	return &Buffer{Image: gray, Format: buf.Format}, nil
}

// Target describes the output size of Resize. With Width and Height both
// zero the image is scaled by Percent. Otherwise it is resized to the
// explicit size, or fitted inside it when Fit is set.
type Target struct {
	Percent float64
	Width   int
	Height  int
	Fit     bool
}

// Resize output limits. A target over either limit fails with
// model.ErrTransform before any pixel buffer is allocated.
const (
	MaxSide   = 1 << 15 // pixels per side
	MaxPixels = 1 << 26 // width * height
)

// ScaledSize returns floor(w*pct/100) x floor(h*pct/100).
func ScaledSize(w, h int, pct float64) (int, int) {
	return int(math.Floor(float64(w) * pct / 100)), int(math.Floor(float64(h) * pct / 100))
}

// checkSize rejects an output size over MaxSide or MaxPixels.
func checkSize(w, h int) error {
	if w > MaxSide || h > MaxSide || w*h > MaxPixels {
		return fmt.Errorf("%w: target size %dx%d exceeds the %d px side or %d px area limit",
			model.ErrTransform, w, h, MaxSide, MaxPixels)
	}
	return nil
}

// Resize scales the image with a bilinear filter.
func Resize(buf *Buffer, t Target) (*Buffer, error) {
	if t.Width < 0 || t.Height < 0 {
		return nil, fmt.Errorf("%w: negative target size %dx%d", model.ErrTransform, t.Width, t.Height)
	}
	if t.Width > MaxSide || t.Height > MaxSide {
		return nil, checkSize(t.Width, t.Height)
	}

	sw, sh := buf.Width(), buf.Height()

	var out *image.NRGBA

	switch {
	case t.Width == 0 && t.Height == 0:
		if math.IsNaN(t.Percent) || math.IsInf(t.Percent, 0) {
			return nil, fmt.Errorf("%w: invalid scale %v%%", model.ErrTransform, t.Percent)
		}
		if float64(sw)*t.Percent/100 > MaxSide || float64(sh)*t.Percent/100 > MaxSide {
			return nil, fmt.Errorf("%w: %v%% of %dx%d exceeds the %d px side limit",
				model.ErrTransform, t.Percent, sw, sh, MaxSide)
		}
		w, h := ScaledSize(sw, sh, t.Percent)
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("%w: %v%% of %dx%d gives %dx%d",
				model.ErrTransform, t.Percent, sw, sh, w, h)
		}
		if err := checkSize(w, h); err != nil {
			return nil, err
		}
		out = imaging.Resize(buf.Image, w, h, imaging.Linear)
	case t.Fit:
		if t.Width == 0 || t.Height == 0 {
			return nil, fmt.Errorf("%w: fit needs both width and height", model.ErrTransform)
		}
		if err := checkSize(t.Width, t.Height); err != nil {
			return nil, err
		}
		out = imaging.Fit(buf.Image, t.Width, t.Height, imaging.Linear)
	default:
		// A zero side keeps the aspect ratio.
		w, h := t.Width, t.Height
		if w == 0 {
			w = int(math.Round(float64(sw) * float64(h) / float64(sh)))
		}
		if h == 0 {
			h = int(math.Round(float64(sh) * float64(w) / float64(sw)))
		}
		if err := checkSize(w, h); err != nil {
			return nil, err
		}
		out = imaging.Resize(buf.Image, t.Width, t.Height, imaging.Linear)
	}

	if out.Bounds().Dx() <= 0 || out.Bounds().Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty resize result", model.ErrTransform)
	}

	return &Buffer{Image: out, Format: buf.Format}, nil
}

// Rotate turns the image counter-clockwise by degrees. Without expand the
// canvas keeps the source size and exposed corners are filled with
// Background. With expand the canvas is the exact bounding box of the
// rotated image, so a quarter turn swaps width and height. A half turn
// always keeps the source dimensions.
func Rotate(buf *Buffer, degrees float64, expand bool) (*Buffer, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return nil, fmt.Errorf("%w: invalid angle %v", model.ErrValidation, degrees)
	}

	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}

	w, h := buf.Width(), buf.Height()

	var out image.Image

	switch {
	case d == 0:
		out = imaging.Clone(buf.Image)
	case d == 180:
		out = imaging.Rotate180(buf.Image)
	case !expand:
		out = rotateClipped(buf.Image, d, w, h)
	default:
		switch d {
		case 90:
			out = imaging.Rotate90(buf.Image)
		case 270:
			out = imaging.Rotate270(buf.Image)
		default:
			out = imaging.Rotate(buf.Image, d, Background)
		}
	}

	return &Buffer{Image: out, Format: buf.Format}, nil
}

// rotateClipped draws img rotated about its centre onto a w x h canvas.
func rotateClipped(img image.Image, degrees float64, w, h int) image.Image {
	dc := gg.NewContext(w, h)
	dc.SetColor(Background)
	dc.Clear()

	// gg's y axis points down, so a negative angle turns counter-clockwise
	// on screen.
	dc.RotateAbout(gg.Radians(-degrees), float64(w)/2, float64(h)/2)
	dc.DrawImageAnchored(img, w/2, h/2, 0.5, 0.5)

	return dc.Image()
}
