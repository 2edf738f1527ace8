package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Margin is the distance between a stamped label and the frame edge
const Margin = 4

// Label is a line of text drawn onto a frame, with an optional background box
type Label struct {
	Text       string
	X, Y       int // top-left corner of the box
	Padding    int
	Color      color.RGBA
	Background *color.RGBA
	Opacity    float64 // 0.0 to 1.0
}

// NewLabel returns white text on a translucent black box
func NewLabel(text string) *Label {
	return &Label{
		Text:       text,
		Padding:    5,
		Color:      color.RGBA{255, 255, 255, 255},
		Background: &color.RGBA{0, 0, 0, 160},
		Opacity:    1.0,
	}
}

// face is basicfont, so no font files are needed at runtime
var face font.Face = basicfont.Face7x13

// Size returns the label box size, padding included
func (l *Label) Size() image.Point {
	width := font.MeasureString(face, l.Text).Ceil()
	height := face.Metrics().Height.Ceil()
	return image.Pt(width+l.Padding*2, height+l.Padding*2)
}

// Render draws the label onto img. Parts outside img are clipped.
func (l *Label) Render(img *image.RGBA) {
	if l.Text == "" {
		return
	}

	opacity := l.Opacity
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})

	size := l.Size()
	box := image.Rect(l.X, l.Y, l.X+size.X, l.Y+size.Y)
	if l.Background != nil {
		draw.DrawMask(img, box, image.NewUniform(*l.Background), image.Point{}, mask, image.Point{}, draw.Over)
	}

	metrics := face.Metrics()
	textImg := image.NewRGBA(image.Rect(0, 0, size.X-l.Padding*2, size.Y-l.Padding*2))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(l.Color),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: metrics.Ascent},
	}
	d.DrawString(l.Text)

	textRect := textImg.Bounds().Add(image.Pt(l.X+l.Padding, l.Y+l.Padding))
	draw.DrawMask(img, textRect, textImg, image.Point{}, mask, image.Point{}, draw.Over)
}

// Stamp returns a copy of img with text in a label at the bottom-left corner.
// img is not modified.
func Stamp(img *image.RGBA, text string) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	l := NewLabel(text)
	size := l.Size()
	l.X = b.Min.X + Margin
	l.Y = b.Max.Y - size.Y - Margin
	l.Render(out)
	return out
}
