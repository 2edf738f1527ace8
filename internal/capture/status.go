package capture

// Status is the state of a WindowCapture
type Status int32

const (
	// StatusCrashed means discovery or capture failed; a new Start is required
	StatusCrashed Status = -1
	// StatusStopped is the initial state and the state after Stop
	StatusStopped Status = 0
	// StatusRunning means the capture loop is producing frames
	StatusRunning Status = 1
)

// String returns the lowercase status name
func (s Status) String() string {
	switch s {
	case StatusCrashed:
		return "crashed"
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
