package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/WindowCapture/internal/config"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"golang.org/x/image/draw"
)

// Default preview window geometry
const (
	DefaultWidth  = 960
	DefaultHeight = 540
	DefaultFPS    = 10
)

// Manager owns the X11 preview window that shows the latest captured frame.
// It implements output.Output so it can be driven by output.Pump.
type Manager struct {
	conn          *xgb.Conn
	screen        *xproto.ScreenInfo
	displayWindow xproto.Window
	gc            xproto.Gcontext
	title         string
	width         int
	height        int
	fps           int
	running       bool
	closed        bool
	mu            sync.RWMutex

	// Pixmap format for the root depth, resolved at Start
	bytesPerPixel int
	scanlinePad   int
}

// NewManager connects to the X server for a preview of the window called title
func NewManager(cfg *config.PreviewConfig, title string) (*Manager, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	m := &Manager{
		conn:   conn,
		screen: screen,
		title:  title,
		width:  cfg.Width,
		height: cfg.Height,
		fps:    cfg.FPS,
	}
	if m.width <= 0 {
		m.width = DefaultWidth
	}
	if m.height <= 0 {
		m.height = DefaultHeight
	}
	if m.fps <= 0 {
		m.fps = DefaultFPS
	}

	return m, nil
}

// FPS returns the preview refresh rate
func (m *Manager) FPS() int {
	return m.fps
}

// Name returns the output type name
func (m *Manager) Name() string {
	return "X11 Preview Window"
}

// Start creates and shows the preview window
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := logger.WithComponent("display")

	if m.running {
		return fmt.Errorf("display already running")
	}
	if m.closed {
		return fmt.Errorf("display closed")
	}

	bpp, pad, err := m.pixmapFormat()
	if err != nil {
		return err
	}
	m.bytesPerPixel, m.scanlinePad = bpp, pad

	windowID, err := xproto.NewWindowId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	m.displayWindow = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		m.conn,
		m.screen.RootDepth,
		m.displayWindow,
		m.screen.Root,
		0, 0,
		uint16(m.width), uint16(m.height),
		0,
		xproto.WindowClassInputOutput,
		m.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := m.setWindowTitle("WindowCapture - " + m.title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := m.setWindowClass("windowcapture", "WindowCapture"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(m.conn, m.displayWindow).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}
	m.conn.Sync()

	gc, err := xproto.NewGcontextId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	m.gc = gc

	err = xproto.CreateGCChecked(
		m.conn,
		m.gc,
		xproto.Drawable(m.displayWindow),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	m.conn.Sync()

	m.running = true
	log.Info().
		Int("width", m.width).
		Int("height", m.height).
		Int("fps", m.fps).
		Uint32("window_id", uint32(m.displayWindow)).
		Msg("Preview window created")

	return nil
}

// Stop closes the preview window and the X connection. It also releases the
// connection of a Manager whose Start failed.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	if m.conn != nil {
		if m.gc != 0 {
			xproto.FreeGC(m.conn, m.gc)
		}
		if m.displayWindow != 0 {
			xproto.DestroyWindow(m.conn, m.displayWindow)
			m.conn.Sync()
		}
		m.conn.Close()
	}

	m.running = false
	m.closed = true
	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

// IsRunning returns whether the preview window is shown
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// WriteFrame draws frame scaled to fit the preview window
func (m *Manager) WriteFrame(frame *image.RGBA) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return fmt.Errorf("display not running")
	}
	return m.putImage(Letterbox(frame, m.width, m.height))
}

// FitRect returns the largest rectangle with the aspect ratio of src centered in a
// width x height canvas
func FitRect(src image.Point, width, height int) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 {
		return image.Rectangle{}
	}

	scaleX := float64(width) / float64(src.X)
	scaleY := float64(height) / float64(src.Y)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}

	dstWidth := int(float64(src.X) * scale)
	dstHeight := int(float64(src.Y) * scale)
	offsetX := (width - dstWidth) / 2
	offsetY := (height - dstHeight) / 2
	return image.Rect(offsetX, offsetY, offsetX+dstWidth, offsetY+dstHeight)
}

// Letterbox scales img into a black width x height canvas, keeping its aspect ratio
func Letterbox(img *image.RGBA, width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	dst := FitRect(img.Bounds().Size(), width, height)
	if !dst.Empty() {
		draw.ApproxBiLinear.Scale(canvas, dst, img, img.Bounds(), draw.Src, nil)
	}
	return canvas
}

// pixmapFormat finds the ZPixmap layout for the root depth
func (m *Manager) pixmapFormat() (bytesPerPixel, scanlinePad int, err error) {
	depth := m.screen.RootDepth
	for _, format := range xproto.Setup(m.conn).PixmapFormats {
		if format.Depth == depth {
			return int(format.BitsPerPixel) / 8, int(format.ScanlinePad) / 8, nil
		}
	}
	return 0, 0, fmt.Errorf("no format found for depth %d", depth)
}

// ToZPixmap converts img to X11 ZPixmap bytes. Rows are padded to scanlinePad
// bytes; alpha is only kept at depth 32.
func ToZPixmap(img *image.RGBA, bytesPerPixel, scanlinePad int, depth byte) ([]byte, error) {
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	if scanlinePad <= 0 {
		scanlinePad = 1
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	unpadded := width * bytesPerPixel
	stride := ((unpadded + scanlinePad - 1) / scanlinePad) * scanlinePad

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		dst := y * stride
		for x := 0; x < width; x++ {
			// BGR(x), matching the usual 0xff0000 red mask
			data[dst] = img.Pix[src+2]
			data[dst+1] = img.Pix[src+1]
			data[dst+2] = img.Pix[src]
			if bytesPerPixel == 4 && depth == 32 {
				data[dst+3] = img.Pix[src+3]
			}
			src += 4
			dst += bytesPerPixel
		}
	}
	return data, nil
}

// putImageHeader is the fixed size of a PutImage request in bytes
const putImageHeader = 24

// Band is a run of rows uploaded with a single PutImage request
type Band struct {
	Y    int
	Rows int
}

// Bands splits height rows of stride bytes into bands whose PutImage request
// fits in maxRequestBytes
func Bands(height, stride, maxRequestBytes int) ([]Band, error) {
	if stride <= 0 {
		return nil, fmt.Errorf("invalid stride %d", stride)
	}
	rows := (maxRequestBytes - putImageHeader) / stride
	if rows < 1 {
		return nil, fmt.Errorf("a %d byte row does not fit a %d byte request", stride, maxRequestBytes)
	}

	bands := make([]Band, 0, (height+rows-1)/rows)
	for y := 0; y < height; y += rows {
		n := rows
		if y+n > height {
			n = height - y
		}
		bands = append(bands, Band{Y: y, Rows: n})
	}
	return bands, nil
}

// putImage sends a full-window image to the X server, one band per request
func (m *Manager) putImage(img *image.RGBA) error {
	data, err := ToZPixmap(img, m.bytesPerPixel, m.scanlinePad, m.screen.RootDepth)
	if err != nil {
		return err
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if height == 0 {
		return nil
	}
	stride := len(data) / height

	// MaximumRequestLength is in 4-byte units
	maxRequest := int(xproto.Setup(m.conn).MaximumRequestLength) * 4
	bands, err := Bands(height, stride, maxRequest)
	if err != nil {
		return err
	}

	for _, band := range bands {
		err = xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(m.displayWindow),
			m.gc,
			uint16(width),
			uint16(band.Rows),
			0, int16(band.Y),
			0,
			m.screen.RootDepth,
			data[band.Y*stride:(band.Y+band.Rows)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image rows %d-%d: %w", band.Y, band.Y+band.Rows, err)
		}
	}

	m.conn.Sync()
	return nil
}

// setWindowTitle sets the window title
func (m *Manager) setWindowTitle(title string) error {
	titleAtom, err := m.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}

	utf8Atom, err := m.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets WM_CLASS so the preview can be excluded from window lists
func (m *Manager) setWindowClass(instance, class string) error {
	classAtom, err := m.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

// getAtom gets an atom ID by name
func (m *Manager) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
