package capture

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyCrop is returned when the window's client area has no visible pixels,
	// usually because it is minimized or dragged off screen
	ErrEmptyCrop = errors.New("empty crop")

	// ErrNotRunning is returned by CaptureOnce outside of a running session
	ErrNotRunning = errors.New("capture not running")
)

// FailureKind tells where a failure originated
type FailureKind int

const (
	// FailureDiscovery covers window lookup and the initial rectangle queries
	FailureDiscovery FailureKind = iota + 1
	// FailureCapture covers screen grabs, rectangle queries and empty crops inside the loop
	FailureCapture
	// FailureUnexpected covers panics recovered at the loop boundary
	FailureUnexpected
)

// String returns the kind name
func (k FailureKind) String() string {
	switch k {
	case FailureDiscovery:
		return "discovery"
	case FailureCapture:
		return "capture"
	case FailureUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Failure is the error recorded when a WindowCapture crashes
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
	At   time.Time
}

func newFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err, At: time.Now()}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func isEmptyCrop(err error) bool {
	return errors.Is(err, ErrEmptyCrop)
}
