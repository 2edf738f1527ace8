package output

import (
	"image"

	"golang.org/x/image/draw"
)

// Output defines the interface for frame output mechanisms.
// The MJPEG HTTP stream is the only built-in one; the preview window follows
// the same shape.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types.
// Zero MaxWidth/MaxHeight keep the native frame size.
type Config struct {
	MaxWidth  int
	MaxHeight int
	FPS       int
	Quality   int
	// Overlay stamps the frame sequence and capture time onto each frame
	Overlay bool
}

// FitSize returns the largest size with the aspect ratio of src that fits in
// maxWidth x maxHeight. Zero limits are ignored and frames are never upscaled.
func FitSize(src image.Point, maxWidth, maxHeight int) image.Point {
	if src.X <= 0 || src.Y <= 0 {
		return src
	}

	scale := 1.0
	if maxWidth > 0 && src.X > maxWidth {
		scale = float64(maxWidth) / float64(src.X)
	}
	if maxHeight > 0 && src.Y > maxHeight {
		if s := float64(maxHeight) / float64(src.Y); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return src
	}

	w := int(float64(src.X) * scale)
	h := int(float64(src.Y) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Pt(w, h)
}

// Scale returns img resized to fit the limits. img itself is returned when it
// already fits.
func Scale(img *image.RGBA, maxWidth, maxHeight int) *image.RGBA {
	size := FitSize(img.Bounds().Size(), maxWidth, maxHeight)
	if size == img.Bounds().Size() {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
