package window

import (
	"errors"
	"image"
)

// ErrWindowNotFound is returned when no window carries the requested title
var ErrWindowNotFound = errors.New("window not found")

// ErrInvalidHandle is returned when a handle no longer refers to a live window
var ErrInvalidHandle = errors.New("invalid window handle")

// Handle is an opaque reference to an OS window
type Handle uint64

// Info describes a top-level window. Rect is the outer rectangle in virtual-screen
// coordinates, including decorations.
type Info struct {
	Handle Handle          `json:"handle"`
	Title  string          `json:"title"`
	Class  string          `json:"class,omitempty"`
	PID    int             `json:"pid,omitempty"`
	Rect   image.Rectangle `json:"rect"`
}

// Backend defines the interface for window discovery backends (X11, Win32)
type Backend interface {
	// Connect establishes connection to the display server
	Connect() error

	// Close closes the connection to the display server
	Close() error

	// Name returns the backend name (e.g., "x11", "win32")
	Name() string

	// ListWindows returns all visible application windows
	ListWindows() ([]*Info, error)

	// FindWindow returns the handle of the window whose title matches exactly
	FindWindow(title string) (Handle, error)

	// OuterRect returns the window rectangle, decorations included, in screen coordinates
	OuterRect(h Handle) (image.Rectangle, error)

	// ClientSize returns the width and height of the drawable client area
	ClientSize(h Handle) (image.Point, error)
}

// findByTitle scans windows for an exact title match
func findByTitle(windows []*Info, title string) (Handle, error) {
	for _, w := range windows {
		if w.Title == title {
			return w.Handle, nil
		}
	}
	return 0, ErrWindowNotFound
}
