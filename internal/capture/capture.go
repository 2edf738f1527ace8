package capture

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
)

// DefaultIdleWait is the pause after the loop exits
const DefaultIdleWait = 25 * time.Millisecond

// WindowQuerier answers the window queries needed for discovery and cropping
type WindowQuerier interface {
	FindWindow(title string) (window.Handle, error)
	OuterRect(h window.Handle) (image.Rectangle, error)
	ClientSize(h window.Handle) (image.Point, error)
}

// ScreenGrabber provides the screen size and raw grabs of the virtual screen
type ScreenGrabber interface {
	ScreenSize() (int, int, error)
	Grab(bounds image.Rectangle) (*image.RGBA, error)
}

// Frame is one cropped capture of the target window's client area
type Frame struct {
	Image      *image.RGBA
	Rect       image.Rectangle // crop rectangle in screen coordinates
	CapturedAt time.Time
	Sequence   uint64
}

// Options configures a WindowCapture
type Options struct {
	// WindowTitle is matched exactly against window titles
	WindowTitle string
	// IdleWait is slept once after the loop exits
	IdleWait time.Duration
	// FrameInterval is an optional pause between iterations
	FrameInterval time.Duration
}

// session is the state measured at discovery
type session struct {
	handle       window.Handle
	windowOffset int
}

// WindowCapture finds a window by title and keeps publishing crops of its client
// area from a background goroutine. Readers use Frame and Status without locking.
type WindowCapture struct {
	opts    Options
	windows WindowQuerier
	screen  ScreenGrabber

	status   atomic.Int32
	frame    atomic.Pointer[Frame]
	failure  atomic.Pointer[Failure]
	session  atomic.Pointer[session]
	sequence atomic.Uint64

	// startMu serializes Start/Init
	startMu sync.Mutex
	// done is closed when the current loop goroutine returns
	done atomic.Pointer[chan struct{}]

	// publishMu orders frame publication against Stop
	publishMu sync.Mutex
}

// New creates a stopped WindowCapture
func New(opts Options, windows WindowQuerier, screen ScreenGrabber) *WindowCapture {
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}
	return &WindowCapture{
		opts:    opts,
		windows: windows,
		screen:  screen,
	}
}

// Status returns the current status
func (c *WindowCapture) Status() Status {
	return Status(c.status.Load())
}

// Frame returns the latest frame, or nil before the first successful iteration.
// Frames are immutable once published.
func (c *WindowCapture) Frame() *Frame {
	return c.frame.Load()
}

// LastFailure returns the failure that caused the latest crash, if any
func (c *WindowCapture) LastFailure() *Failure {
	return c.failure.Load()
}

// WindowTitle returns the title being captured
func (c *WindowCapture) WindowTitle() string {
	return c.opts.WindowTitle
}

// WindowOffset returns the border thickness measured at the last discovery
func (c *WindowCapture) WindowOffset() int {
	if s := c.session.Load(); s != nil {
		return s.windowOffset
	}
	return 0
}

// IsFrameReady reports whether a consumer can stop waiting: a frame exists or the
// capture crashed
func (c *WindowCapture) IsFrameReady() bool {
	return c.Frame() != nil || c.Status() == StatusCrashed
}

// Init finds the window and measures its border. On failure the status becomes
// StatusCrashed and a *Failure is returned.
func (c *WindowCapture) Init() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.init()
}

func (c *WindowCapture) init() error {
	log := logger.WithComponent("window-capture")

	s, err := c.discover()
	if err != nil {
		f := newFailure(FailureDiscovery, "discover", err)
		c.failure.Store(f)
		c.status.Store(int32(StatusCrashed))
		log.Error().
			Err(err).
			Str("title", c.opts.WindowTitle).
			Msg("Window not found")
		return f
	}

	c.session.Store(s)
	c.status.Store(int32(StatusRunning))

	log.Info().
		Str("title", c.opts.WindowTitle).
		Uint64("handle", uint64(s.handle)).
		Int("window_offset", s.windowOffset).
		Msg("Window found")
	return nil
}

func (c *WindowCapture) discover() (*session, error) {
	h, err := c.windows.FindWindow(c.opts.WindowTitle)
	if err != nil {
		return nil, fmt.Errorf("find window %q: %w", c.opts.WindowTitle, err)
	}

	outer, err := c.windows.OuterRect(h)
	if err != nil {
		return nil, fmt.Errorf("window rect: %w", err)
	}

	client, err := c.windows.ClientSize(h)
	if err != nil {
		return nil, fmt.Errorf("client size: %w", err)
	}

	return &session{
		handle:       h,
		windowOffset: WindowOffset(outer.Dx(), client.X),
	}, nil
}

// CaptureOnce grabs the screen, crops it to the window's client area and publishes
// the frame. Any failure crashes the capture.
func (c *WindowCapture) CaptureOnce() error {
	s := c.session.Load()
	if s == nil || c.Status() != StatusRunning {
		return ErrNotRunning
	}

	frame, err := c.captureFrame(s)
	if err != nil {
		f := newFailure(FailureCapture, "capture", err)
		c.crash(f)
		return f
	}

	if !c.publish(frame) {
		logger.WithComponent("window-capture").Debug().Msg("Capture stopped during iteration, frame dropped")
	}
	return nil
}

func (c *WindowCapture) captureFrame(s *session) (*Frame, error) {
	screenWidth, screenHeight, err := c.screen.ScreenSize()
	if err != nil {
		return nil, fmt.Errorf("screen size: %w", err)
	}

	full, err := c.screen.Grab(image.Rect(0, 0, screenWidth, screenHeight))
	if err != nil {
		return nil, fmt.Errorf("grab screen: %w", err)
	}

	// The window may have moved or been resized since discovery
	outer, err := c.windows.OuterRect(s.handle)
	if err != nil {
		return nil, fmt.Errorf("window rect: %w", err)
	}
	client, err := c.windows.ClientSize(s.handle)
	if err != nil {
		return nil, fmt.Errorf("client size: %w", err)
	}

	rect := CropRect(outer, client, screenHeight, s.windowOffset)
	img, err := Crop(full, rect)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Image:      img,
		Rect:       rect,
		CapturedAt: time.Now(),
	}, nil
}

// publish stores f unless the capture left StatusRunning meanwhile
func (c *WindowCapture) publish(f *Frame) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	if c.Status() != StatusRunning {
		return false
	}
	f.Sequence = c.sequence.Add(1)
	c.frame.Store(f)
	return true
}

// crash moves a running capture to StatusCrashed. A concurrent Stop wins.
func (c *WindowCapture) crash(f *Failure) {
	log := logger.WithComponent("window-capture")

	if !c.status.CompareAndSwap(int32(StatusRunning), int32(StatusCrashed)) {
		log.Debug().Err(f).Msg("Failure after stop ignored")
		return
	}
	c.failure.Store(f)

	if f.Kind == FailureCapture && isEmptyCrop(f) {
		log.Error().Err(f).Msg("Don't minimize or drag the window outside the screen")
		return
	}
	log.Error().
		Err(f.Err).
		Str("kind", f.Kind.String()).
		Str("op", f.Op).
		Msg("Window capture crashed")
}

// Start finds the window and starts the capture goroutine. It is a no-op while
// running. If a previous loop is still finishing its last iteration, Start waits
// for it first; window queries have no timeout, so an iteration stuck in one
// also blocks Start and any Start queued behind it. Wait and Close still honor
// their context meanwhile.
func (c *WindowCapture) Start() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.Status() == StatusRunning {
		return nil
	}

	if prev := c.done.Load(); prev != nil {
		<-*prev
	}

	if err := c.init(); err != nil {
		return err
	}

	done := make(chan struct{})
	c.done.Store(&done)
	go c.run(done)
	return nil
}

// Stop asks the loop to exit. It takes effect at the next iteration boundary.
func (c *WindowCapture) Stop() {
	c.publishMu.Lock()
	prev := Status(c.status.Swap(int32(StatusStopped)))
	c.publishMu.Unlock()

	logger.WithComponent("window-capture").Info().
		Str("previous", prev.String()).
		Msg("Window capture stop requested")
}

// Wait blocks until the capture goroutine has returned or ctx is done
func (c *WindowCapture) Wait(ctx context.Context) error {
	done := c.done.Load()
	if done == nil {
		return nil
	}
	select {
	case <-*done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the capture and waits for the goroutine
func (c *WindowCapture) Close(ctx context.Context) error {
	c.Stop()
	return c.Wait(ctx)
}

func (c *WindowCapture) run(done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("window-capture")
	log.Info().Str("title", c.opts.WindowTitle).Msg("Capture loop started")

	for c.Status() == StatusRunning {
		c.iterate()
		if c.opts.FrameInterval > 0 {
			time.Sleep(c.opts.FrameInterval)
		}
	}

	time.Sleep(c.opts.IdleWait)

	log.Info().
		Str("status", c.Status().String()).
		Uint64("frames", c.sequence.Load()).
		Msg("Capture loop exited")
}

// iterate runs one CaptureOnce and turns a panic into an unexpected failure
func (c *WindowCapture) iterate() {
	defer func() {
		if r := recover(); r != nil {
			f := newFailure(FailureUnexpected, "loop", fmt.Errorf("panic: %v", r))
			logger.WithComponent("window-capture").Error().
				Str("stack", string(debug.Stack())).
				Interface("panic", r).
				Msg("Unexpected failure in capture loop")
			c.crash(f)
		}
	}()

	_ = c.CaptureOnce()
}
