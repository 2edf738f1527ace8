package window

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
)

// X11Backend implements the Backend interface using X11
type X11Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	mu     sync.Mutex
	atoms  map[string]xproto.Atom
}

// NewX11Backend creates a new X11 backend
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}, nil
}

// Connect establishes connection to X11 (already done in NewX11Backend)
func (b *X11Backend) Connect() error {
	return nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// ListWindows returns all visible windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) ListWindows() ([]*Info, error) {
	log := logger.WithComponent("x11-backend")

	windows, err := b.listWindowsEWMH()
	if err == nil && len(windows) > 0 {
		log.Debug().Int("count", len(windows)).Msg("ListWindows: using EWMH _NET_CLIENT_LIST")
		return windows, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("ListWindows: EWMH failed, falling back to QueryTree")
	}

	windows, err = b.listWindowsQueryTree()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}
	log.Debug().Int("count", len(windows)).Msg("ListWindows: using QueryTree fallback")
	return windows, nil
}

// FindWindow returns the first window whose title equals title
func (b *X11Backend) FindWindow(title string) (Handle, error) {
	windows, err := b.ListWindows()
	if err != nil {
		return 0, err
	}
	return findByTitle(windows, title)
}

// OuterRect returns the client rectangle translated to root coordinates and grown by
// the window manager's _NET_FRAME_EXTENTS
func (b *X11Backend) OuterRect(h Handle) (image.Rectangle, error) {
	win := xproto.Window(h)

	client, err := b.clientRect(win)
	if err != nil {
		return image.Rectangle{}, err
	}

	left, right, top, bottom := b.frameExtents(win)
	return image.Rect(
		client.Min.X-left,
		client.Min.Y-top,
		client.Max.X+right,
		client.Max.Y+bottom,
	), nil
}

// ClientSize returns the size of the client window
func (b *X11Backend) ClientSize(h Handle) (image.Point, error) {
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(h)).Reply()
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %d: %v", ErrInvalidHandle, h, err)
	}
	return image.Pt(int(geom.Width), int(geom.Height)), nil
}

// clientRect returns the client area in root coordinates
func (b *X11Backend) clientRect(win xproto.Window) (image.Rectangle, error) {
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("%w: %d: %v", ErrInvalidHandle, win, err)
	}

	pos, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to translate coordinates: %w", err)
	}

	x, y := int(pos.DstX), int(pos.DstY)
	return image.Rect(x, y, x+int(geom.Width), y+int(geom.Height)), nil
}

// frameExtents reads _NET_FRAME_EXTENTS (left, right, top, bottom). Undecorated or
// non-EWMH windows report zero extents.
func (b *X11Backend) frameExtents(win xproto.Window) (left, right, top, bottom int) {
	atom, err := b.getAtom("_NET_FRAME_EXTENTS")
	if err != nil {
		return 0, 0, 0, 0
	}

	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.AtomCardinal, 0, 4).Reply()
	if err != nil {
		return 0, 0, 0, 0
	}

	values := decodeCardinals(reply.Value)
	if len(values) < 4 {
		return 0, 0, 0, 0
	}
	return int(values[0]), int(values[1]), int(values[2]), int(values[3])
}

// listWindowsEWMH gets windows from _NET_CLIENT_LIST (EWMH standard)
func (b *X11Backend) listWindowsEWMH() ([]*Info, error) {
	clientListAtom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(
		b.conn,
		false,
		b.root,
		clientListAtom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}

	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("_NET_CLIENT_LIST is empty")
	}

	ids := decodeCardinals(reply.Value)
	windows := make([]*Info, 0, len(ids))
	for _, id := range ids {
		info, err := b.getWindowInfo(xproto.Window(id))
		if err != nil || info.Title == "" {
			continue
		}
		windows = append(windows, info)
	}

	return windows, nil
}

// listWindowsQueryTree gets windows by querying root window children
func (b *X11Backend) listWindowsQueryTree() ([]*Info, error) {
	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, err
	}

	windows := make([]*Info, 0)
	for _, child := range tree.Children {
		info, err := b.getWindowInfo(child)
		if err != nil || info.Title == "" {
			continue
		}
		windows = append(windows, info)
	}

	return windows, nil
}

// getWindowInfo retrieves title, class, pid and outer rectangle of a window
func (b *X11Backend) getWindowInfo(win xproto.Window) (*Info, error) {
	info := &Info{Handle: Handle(win)}

	rect, err := b.OuterRect(Handle(win))
	if err != nil {
		return nil, err
	}
	info.Rect = rect

	if titleAtom, err := b.getAtom("_NET_WM_NAME"); err == nil {
		if title, err := b.getProperty(win, titleAtom); err == nil {
			info.Title = title
		}
	}
	if info.Title == "" {
		if title, err := b.getProperty(win, xproto.AtomWmName); err == nil {
			info.Title = title
		}
	}

	// WM_CLASS format is: instance\0class\0
	if classRaw, err := b.getProperty(win, xproto.AtomWmClass); err == nil {
		info.Class = parseWMClass(classRaw)
	}

	if pidAtom, err := b.getAtom("_NET_WM_PID"); err == nil {
		pidReply, err := xproto.GetProperty(b.conn, false, win, pidAtom, xproto.AtomCardinal, 0, 1).Reply()
		if err == nil {
			if values := decodeCardinals(pidReply.Value); len(values) > 0 {
				info.PID = int(values[0])
			}
		}
	}

	return info, nil
}

// getAtom gets an atom ID by name, caching the result
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.mu.Lock()
	atom, ok := b.atoms[name]
	b.mu.Unlock()
	if ok {
		return atom, nil
	}

	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.atoms[name] = reply.Atom
	b.mu.Unlock()
	return reply.Atom, nil
}

// getProperty gets a property value as a string
func (b *X11Backend) getProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		b.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}

	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}

	return string(reply.Value), nil
}

// decodeCardinals splits a 32-bit format property into little-endian values
func decodeCardinals(data []byte) []uint32 {
	values := make([]uint32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		values = append(values, uint32(data[i])|
			uint32(data[i+1])<<8|
			uint32(data[i+2])<<16|
			uint32(data[i+3])<<24)
	}
	return values
}

// parseWMClass returns the class part of WM_CLASS, falling back to the instance
func parseWMClass(raw string) string {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	if len(parts) >= 1 {
		return parts[0]
	}
	return ""
}
