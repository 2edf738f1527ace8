//go:build windows

package window

import (
	"fmt"
	"image"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
)

var (
	user32             = syscall.NewLazyDLL("user32.dll")
	procGetWindowTextW = user32.NewProc("GetWindowTextW")
)

// Win32Backend implements the Backend interface with user32 window queries
type Win32Backend struct{}

// NewWin32Backend creates a new Win32 backend
func NewWin32Backend() (*Win32Backend, error) {
	return &Win32Backend{}, nil
}

// Connect is a no-op, user32 needs no connection
func (b *Win32Backend) Connect() error {
	return nil
}

// Close is a no-op
func (b *Win32Backend) Close() error {
	return nil
}

// Name returns the backend name
func (b *Win32Backend) Name() string {
	return "win32"
}

// The runtime never releases callbacks made with syscall.NewCallback, so the
// enumeration callback is created once and collects into enumHandles
var (
	enumMu      sync.Mutex
	enumHandles []win.HWND
	enumProc    = syscall.NewCallback(enumWindowsCallback)
)

func enumWindowsCallback(hwnd win.HWND, _ uintptr) uintptr {
	if win.IsWindowVisible(hwnd) {
		enumHandles = append(enumHandles, hwnd)
	}
	return 1
}

// visibleWindows returns the visible top-level windows. Callers are serialized
// because the callback shares enumHandles.
func visibleWindows() []win.HWND {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumHandles = nil
	// A nil parent makes EnumChildWindows walk top-level windows
	win.EnumChildWindows(0, enumProc, 0)

	handles := make([]win.HWND, len(enumHandles))
	copy(handles, enumHandles)
	enumHandles = nil
	return handles
}

// ListWindows enumerates visible top-level windows that have a title
func (b *Win32Backend) ListWindows() ([]*Info, error) {
	var windows []*Info
	for _, hwnd := range visibleWindows() {
		title := windowText(hwnd)
		if title == "" {
			continue
		}
		info := &Info{Handle: Handle(hwnd), Title: title}
		if rect, err := b.OuterRect(Handle(hwnd)); err == nil {
			info.Rect = rect
		}
		windows = append(windows, info)
	}
	return windows, nil
}

// FindWindow looks the window up by its exact title
func (b *Win32Backend) FindWindow(title string) (Handle, error) {
	name, err := syscall.UTF16PtrFromString(title)
	if err != nil {
		return 0, fmt.Errorf("invalid window title: %w", err)
	}

	hwnd := win.FindWindow(nil, name)
	if hwnd == 0 {
		return 0, ErrWindowNotFound
	}
	return Handle(hwnd), nil
}

// OuterRect returns GetWindowRect in screen coordinates
func (b *Win32Backend) OuterRect(h Handle) (image.Rectangle, error) {
	var r win.RECT
	if !win.GetWindowRect(win.HWND(h), &r) {
		return image.Rectangle{}, fmt.Errorf("%w: GetWindowRect(%#x): error %d", ErrInvalidHandle, h, win.GetLastError())
	}
	return image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom)), nil
}

// ClientSize returns the right/bottom of GetClientRect, whose origin is always 0,0
func (b *Win32Backend) ClientSize(h Handle) (image.Point, error) {
	var r win.RECT
	if !win.GetClientRect(win.HWND(h), &r) {
		return image.Point{}, fmt.Errorf("%w: GetClientRect(%#x): error %d", ErrInvalidHandle, h, win.GetLastError())
	}
	return image.Pt(int(r.Right), int(r.Bottom)), nil
}

func windowText(hwnd win.HWND) string {
	buf := make([]uint16, 256)
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf[:n])
}
