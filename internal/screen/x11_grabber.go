package screen

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
)

// X11Grabber grabs regions of the X11 root window
type X11Grabber struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	mu     sync.Mutex
}

// NewX11Grabber connects to the X server named by $DISPLAY
func NewX11Grabber() (*X11Grabber, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	g := &X11Grabber{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}

	logger.WithComponent("x11-grabber").Debug().
		Uint16("width", screen.WidthInPixels).
		Uint16("height", screen.HeightInPixels).
		Uint8("depth", screen.RootDepth).
		Msg("Connected to X server")

	return g, nil
}

// Name returns the grabber name
func (g *X11Grabber) Name() string {
	return "x11"
}

// Close closes the X11 connection
func (g *X11Grabber) Close() error {
	g.conn.Close()
	return nil
}

// ScreenSize returns the size of the default screen's root window
func (g *X11Grabber) ScreenSize() (int, int, error) {
	return int(g.screen.WidthInPixels), int(g.screen.HeightInPixels), nil
}

// Grab captures a region of the root window
func (g *X11Grabber) Grab(bounds image.Rectangle) (*image.RGBA, error) {
	if bounds.Empty() {
		return nil, fmt.Errorf("empty grab region %v", bounds)
	}

	depth := int(g.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reply, err := xproto.GetImage(
		g.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(g.root),
		int16(bounds.Min.X), int16(bounds.Min.Y),
		uint16(bounds.Dx()), uint16(bounds.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return convertBGRA(reply.Data, bounds), nil
}

// convertBGRA converts 32bpp X11 ZPixmap data to an RGBA image with the given bounds
func convertBGRA(data []byte, bounds image.Rectangle) *image.RGBA {
	img := image.NewRGBA(bounds)
	n := len(img.Pix)
	if len(data) < n {
		n = len(data)
	}
	for i := 0; i+3 < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}
