package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/godbus/dbus/v5"
)

// org.freedesktop.Notifications D-Bus constants
const (
	notificationsService   = "org.freedesktop.Notifications"
	notificationsPath      = "/org/freedesktop/Notifications"
	notificationsInterface = "org.freedesktop.Notifications"
)

// DefaultPollInterval is how often the watcher samples the capture status
const DefaultPollInterval = 250 * time.Millisecond

// Notifier delivers a desktop notification
type Notifier interface {
	Notify(summary, body string) error
}

// DBusNotifier sends notifications through the session bus
type DBusNotifier struct {
	conn    *dbus.Conn
	appName string
	timeout time.Duration
}

// NewDBusNotifier connects to the session bus
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	return &DBusNotifier{
		conn:    conn,
		appName: appName,
		timeout: 10 * time.Second,
	}, nil
}

// Notify shows one notification
func (n *DBusNotifier) Notify(summary, body string) error {
	obj := n.conn.Object(notificationsService, dbus.ObjectPath(notificationsPath))
	call := obj.Call(
		notificationsInterface+".Notify", 0,
		n.appName,
		uint32(0), // replaces_id
		"dialog-error",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(2))},
		int32(n.timeout/time.Millisecond),
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// Close closes the session bus connection
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// StatusSource is the read side of a WindowCapture
type StatusSource interface {
	Status() capture.Status
	LastFailure() *capture.Failure
	WindowTitle() string
}

// Watcher polls a capture and sends one notification per transition into
// capture.StatusCrashed
type Watcher struct {
	source   StatusSource
	notifier Notifier
	interval time.Duration
	initial  capture.Status
}

// NewWatcher creates a watcher; a non-positive interval uses DefaultPollInterval.
// The status at construction is the baseline, so a crash that lands before Run
// is scheduled is still notified.
func NewWatcher(source StatusSource, notifier Notifier, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		source:   source,
		notifier: notifier,
		interval: interval,
		initial:  source.Status(),
	}
}

// Run polls until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.WithComponent("notify")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := w.initial
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status := w.source.Status()
		if status == capture.StatusCrashed && last != capture.StatusCrashed {
			summary, body := Message(w.source.WindowTitle(), w.source.LastFailure())
			if err := w.notifier.Notify(summary, body); err != nil {
				log.Warn().Err(err).Msg("Failed to send crash notification")
			} else {
				log.Info().Str("summary", summary).Msg("Crash notification sent")
			}
		}
		last = status
	}
}

// Message builds the notification text for a crash
func Message(title string, f *capture.Failure) (summary, body string) {
	summary = fmt.Sprintf("Capture of %q stopped", title)
	if f == nil {
		return summary, "The capture crashed."
	}
	if f.Kind == capture.FailureCapture && errors.Is(f, capture.ErrEmptyCrop) {
		return summary, "Don't minimize or drag the window outside the screen."
	}
	return summary, fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}
