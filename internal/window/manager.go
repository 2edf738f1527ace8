package window

import (
	"errors"
	"fmt"
	"image"
	"regexp"
	"sort"

	"github.com/bryanchriswhite/WindowCapture/internal/logger"
)

// Manager wraps the platform window backend and answers the window queries the
// capture loop needs
type Manager struct {
	backend Backend
}

// NewManager connects the backend for the current platform
func NewManager() (*Manager, error) {
	b, err := newPlatformBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize window backend: %w", err)
	}
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect %s backend: %w", b.Name(), err)
	}
	return NewManagerWithBackend(b), nil
}

// NewManagerWithBackend wraps an already connected backend
func NewManagerWithBackend(b Backend) *Manager {
	logger.WithComponent("window").Info().
		Str("backend", b.Name()).
		Msg("Window backend ready")
	return &Manager{backend: b}
}

// Stop closes the backend
func (m *Manager) Stop() error {
	return m.backend.Close()
}

// BackendName returns the name of the active backend
func (m *Manager) BackendName() string {
	return m.backend.Name()
}

// FindWindow looks up a window by its exact title
func (m *Manager) FindWindow(title string) (Handle, error) {
	log := logger.WithComponent("window")

	h, err := m.backend.FindWindow(title)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			log.Debug().Str("title", title).Msg("No window with this title")
		}
		return 0, err
	}

	log.Debug().
		Str("title", title).
		Uint64("handle", uint64(h)).
		Msg("Found window")
	return h, nil
}

// OuterRect returns the window rectangle in virtual-screen coordinates
func (m *Manager) OuterRect(h Handle) (image.Rectangle, error) {
	return m.backend.OuterRect(h)
}

// ClientSize returns the client area size
func (m *Manager) ClientSize(h Handle) (image.Point, error) {
	return m.backend.ClientSize(h)
}

// ListWindows returns all visible windows sorted by title
func (m *Manager) ListWindows() ([]*Info, error) {
	windows, err := m.backend.ListWindows()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Title < windows[j].Title
	})
	return windows, nil
}

// FilterWindows keeps the windows whose title or class matches pattern
func FilterWindows(windows []*Info, pattern string) ([]*Info, error) {
	if pattern == "" {
		return windows, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	filtered := make([]*Info, 0, len(windows))
	for _, w := range windows {
		if re.MatchString(w.Title) || re.MatchString(w.Class) {
			filtered = append(filtered, w)
		}
	}
	return filtered, nil
}
