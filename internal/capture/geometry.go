package capture

import (
	"fmt"
	"image"
)

// WindowOffset estimates the border thickness as half the width the decorations add
func WindowOffset(outerWidth, clientWidth int) int {
	return floorDiv(outerWidth-clientWidth, 2)
}

// IsFullscreen reports whether the window covers the full screen height, in which
// case no title bar is drawn
func IsFullscreen(screenHeight int, outer image.Rectangle) bool {
	return screenHeight == outer.Dy()
}

// TitleOffset estimates the title bar height: the vertical chrome minus one border
func TitleOffset(outerHeight, clientHeight, windowOffset int, fullscreen bool) int {
	if fullscreen {
		return 0
	}
	return (outerHeight - clientHeight) - windowOffset
}

// CropRect returns the client area of outer in screen coordinates. The bottom edge
// reuses windowOffset; no separate bottom border is measured.
// The result is not canonicalized, so an inverted rectangle stays Empty.
func CropRect(outer image.Rectangle, client image.Point, screenHeight, windowOffset int) image.Rectangle {
	title := TitleOffset(outer.Dy(), client.Y, windowOffset, IsFullscreen(screenHeight, outer))
	return image.Rectangle{
		Min: image.Pt(outer.Min.X+windowOffset, outer.Min.Y+title),
		Max: image.Pt(outer.Max.X-windowOffset, outer.Max.Y-windowOffset),
	}
}

// Crop copies the part of screen covered by rect into a new image anchored at 0,0.
// rect is clipped to the screen bounds first.
func Crop(screen *image.RGBA, rect image.Rectangle) (*image.RGBA, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %v", ErrEmptyCrop, rect)
	}
	region := rect.Intersect(screen.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("%w: %v outside screen %v", ErrEmptyCrop, rect, screen.Bounds())
	}

	out := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	rowLen := region.Dx() * 4
	for y := region.Min.Y; y < region.Max.Y; y++ {
		src := screen.PixOffset(region.Min.X, y)
		dst := out.PixOffset(0, y-region.Min.Y)
		copy(out.Pix[dst:dst+rowLen], screen.Pix[src:src+rowLen])
	}
	return out, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
