package screen

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenshotGrabber grabs the screen through github.com/kbinani/screenshot, which
// works on Windows, macOS and X11
type ScreenshotGrabber struct{}

// NewScreenshotGrabber checks that at least one display is active
func NewScreenshotGrabber() (*ScreenshotGrabber, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	return &ScreenshotGrabber{}, nil
}

// Name returns the grabber name
func (g *ScreenshotGrabber) Name() string {
	return "screenshot"
}

// Close is a no-op
func (g *ScreenshotGrabber) Close() error {
	return nil
}

// ScreenSize returns the size of the primary display
func (g *ScreenshotGrabber) ScreenSize() (int, int, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return 0, 0, fmt.Errorf("no active displays found")
	}
	b := screenshot.GetDisplayBounds(0)
	return b.Dx(), b.Dy(), nil
}

// Grab captures bounds in virtual-screen coordinates. The returned image keeps
// bounds as its rectangle.
func (g *ScreenshotGrabber) Grab(bounds image.Rectangle) (*image.RGBA, error) {
	if bounds.Empty() {
		return nil, fmt.Errorf("empty grab region %v", bounds)
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}

	// screenshot returns images anchored at 0,0; moving Rect keeps Pix offsets valid
	img.Rect = img.Rect.Add(bounds.Min.Sub(img.Rect.Min))
	return img, nil
}
