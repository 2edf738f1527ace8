package screen

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubGrabber struct {
	name     string
	closeErr error
	closed   int
}

func (s *stubGrabber) Name() string                  { return s.name }
func (s *stubGrabber) ScreenSize() (int, int, error) { return 1920, 1080, nil }
func (s *stubGrabber) Close() error                  { s.closed++; return s.closeErr }

func (s *stubGrabber) Grab(bounds image.Rectangle) (*image.RGBA, error) {
	return image.NewRGBA(bounds), nil
}

func TestRouterDelegates(t *testing.T) {
	g := &stubGrabber{name: "stub"}
	r := NewRouterWithGrabber(g)

	require.Equal(t, "stub", r.Name())

	w, h, err := r.ScreenSize()
	require.NoError(t, err)
	require.Equal(t, 1920, w)
	require.Equal(t, 1080, h)

	img, err := r.Grab(image.Rect(0, 0, 4, 2))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
}

func TestRouterNotStarted(t *testing.T) {
	r := NewRouter(BackendScreenshot)

	_, _, err := r.ScreenSize()
	require.Error(t, err)
	_, err = r.Grab(image.Rect(0, 0, 1, 1))
	require.Error(t, err)
	require.Equal(t, "none", r.Name())
}

func TestRouterStopAggregatesErrors(t *testing.T) {
	a := &stubGrabber{name: "a", closeErr: errors.New("boom")}
	b := &stubGrabber{name: "b"}
	r := NewRouterWithGrabber(a)
	r.opened = append(r.opened, b)

	err := r.Stop()
	require.Error(t, err)
	require.Contains(t, err.Error(), "closing a grabber")
	require.Equal(t, 1, a.closed)
	require.Equal(t, 1, b.closed)

	_, err = r.Grab(image.Rect(0, 0, 1, 1))
	require.Error(t, err)
}

func TestConvertBGRA(t *testing.T) {
	bounds := image.Rect(10, 20, 12, 21)
	data := []byte{
		0x01, 0x02, 0x03, 0x00,
		0x10, 0x20, 0x30, 0x00,
	}

	img := convertBGRA(data, bounds)
	require.Equal(t, bounds, img.Bounds())
	require.Equal(t, []byte{0x03, 0x02, 0x01, 0xff, 0x30, 0x20, 0x10, 0xff}, img.Pix)
	require.Equal(t, uint8(0x30), img.RGBAAt(11, 20).R)
}

func TestConvertBGRAShortData(t *testing.T) {
	img := convertBGRA([]byte{1, 2, 3, 4}, image.Rect(0, 0, 2, 1))
	require.Equal(t, uint8(3), img.Pix[0])
	require.Equal(t, uint8(0), img.Pix[7])
}
