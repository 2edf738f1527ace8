package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/stretchr/testify/require"
)

const testTitle = "Elder Scrolls Online"

func TestMain(m *testing.M) {
	logger.InitWithWriter(io.Discard, "error", false)
	os.Exit(m.Run())
}

type fakeWindows struct {
	mu      sync.Mutex
	title   string
	handle  window.Handle
	outer   image.Rectangle
	client    image.Point
	rectErr   error
	clientErr error
	finds     int
}

func (f *fakeWindows) FindWindow(title string) (window.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if title != f.title {
		return 0, window.ErrWindowNotFound
	}
	return f.handle, nil
}

func (f *fakeWindows) OuterRect(h window.Handle) (image.Rectangle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rectErr != nil {
		return image.Rectangle{}, f.rectErr
	}
	if h != f.handle {
		return image.Rectangle{}, window.ErrInvalidHandle
	}
	return f.outer, nil
}

func (f *fakeWindows) ClientSize(h window.Handle) (image.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clientErr != nil {
		return image.Point{}, f.clientErr
	}
	if h != f.handle {
		return image.Point{}, window.ErrInvalidHandle
	}
	return f.client, nil
}

func (f *fakeWindows) move(outer image.Rectangle) {
	f.mu.Lock()
	f.outer = outer
	f.mu.Unlock()
}

func (f *fakeWindows) failRect(err error) {
	f.mu.Lock()
	f.rectErr = err
	f.mu.Unlock()
}

func (f *fakeWindows) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

type fakeScreen struct {
	width, height int
	grabs         atomic.Int64
	panicOnGrab   atomic.Bool
	onGrab        func(n int64)
}

func (f *fakeScreen) ScreenSize() (int, int, error) {
	return f.width, f.height, nil
}

func (f *fakeScreen) Grab(bounds image.Rectangle) (*image.RGBA, error) {
	n := f.grabs.Add(1)
	if f.panicOnGrab.Load() {
		panic("driver exploded")
	}
	if f.onGrab != nil {
		f.onGrab(n)
	}
	return patternScreen(bounds), nil
}

// newFixture returns a 400x300 screen with a decorated 200x200 window at 100,50
func newFixture() (*fakeWindows, *fakeScreen) {
	return &fakeWindows{
			title:  testTitle,
			handle: 42,
			outer:  image.Rect(100, 50, 300, 250),
			client: image.Pt(180, 170),
		}, &fakeScreen{
			width:  400,
			height: 300,
		}
}

func newTestCapture(w *fakeWindows, s *fakeScreen) *WindowCapture {
	return New(Options{WindowTitle: testTitle, IdleWait: time.Millisecond}, w, s)
}

func waitDone(t *testing.T, c *WindowCapture) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestNewIsStopped(t *testing.T) {
	c := newTestCapture(newFixture())
	require.Equal(t, StatusStopped, c.Status())
	require.Nil(t, c.Frame())
	require.Nil(t, c.LastFailure())
	require.False(t, c.IsFrameReady())
	require.ErrorIs(t, c.CaptureOnce(), ErrNotRunning)
}

func TestInitWindowNotFound(t *testing.T) {
	w, s := newFixture()
	w.title = "Something Else"
	c := newTestCapture(w, s)

	err := c.Start()
	require.Error(t, err)
	require.ErrorIs(t, err, window.ErrWindowNotFound)

	var f *Failure
	require.True(t, errors.As(err, &f))
	require.Equal(t, FailureDiscovery, f.Kind)

	require.Equal(t, StatusCrashed, c.Status())
	require.Nil(t, c.Frame())
	require.True(t, c.IsFrameReady())
	require.Equal(t, f, c.LastFailure())

	// No loop goroutine was spawned
	require.Nil(t, c.done.Load())
	require.Zero(t, s.grabs.Load())
}

func TestInitQueryFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(w *fakeWindows)
	}{
		{"outer rect", func(w *fakeWindows) { w.rectErr = window.ErrInvalidHandle }},
		{"client size", func(w *fakeWindows) { w.clientErr = errors.New("BadDrawable") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, s := newFixture()
			tc.setup(w)
			c := newTestCapture(w, s)

			err := c.Start()
			require.Error(t, err)

			var f *Failure
			require.True(t, errors.As(err, &f))
			require.Equal(t, FailureDiscovery, f.Kind)
			require.Equal(t, StatusCrashed, c.Status())
			require.Nil(t, c.Frame())
			require.Nil(t, c.done.Load())
			require.Zero(t, s.grabs.Load())
		})
	}
}

func TestInitComputesWindowOffset(t *testing.T) {
	w, s := newFixture()
	w.outer = image.Rect(100, 100, 900, 700)
	w.client = image.Pt(780, 560)
	c := newTestCapture(w, s)

	require.NoError(t, c.Init())
	require.Equal(t, StatusRunning, c.Status())
	require.Equal(t, 10, c.WindowOffset())
}

func TestCaptureOnceCropsClientArea(t *testing.T) {
	c := newTestCapture(newFixture())
	require.NoError(t, c.Init())
	require.Equal(t, 10, c.WindowOffset())

	require.NoError(t, c.CaptureOnce())

	f := c.Frame()
	require.NotNil(t, f)
	require.Equal(t, uint64(1), f.Sequence)
	require.Equal(t, image.Rect(110, 70, 290, 240), f.Rect)
	require.Equal(t, image.Rect(0, 0, 180, 170), f.Image.Bounds())
	require.Equal(t, uint8(110), f.Image.RGBAAt(0, 0).R)
	require.Equal(t, uint8(70), f.Image.RGBAAt(0, 0).G)
	require.True(t, c.IsFrameReady())
}

func TestCaptureOnceFollowsMovedWindow(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)
	require.NoError(t, c.Init())

	w.move(image.Rect(0, 0, 200, 200))
	require.NoError(t, c.CaptureOnce())

	f := c.Frame()
	require.Equal(t, image.Rect(10, 20, 190, 190), f.Rect)
	require.Equal(t, uint8(10), f.Image.RGBAAt(0, 0).R)
}

func TestCaptureOnceFullscreen(t *testing.T) {
	w, s := newFixture()
	w.outer = image.Rect(0, 0, 400, 300)
	w.client = image.Pt(400, 300)
	c := newTestCapture(w, s)
	require.NoError(t, c.Init())

	require.NoError(t, c.CaptureOnce())
	require.Equal(t, image.Rect(0, 0, 400, 300), c.Frame().Rect)
}

func TestEmptyCropCrashesAndKeepsFrame(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)
	require.NoError(t, c.Init())
	require.NoError(t, c.CaptureOnce())
	last := c.Frame()

	// Minimized windows report a rectangle far off screen
	w.move(image.Rect(-32000, -32000, -31800, -31800))
	err := c.CaptureOnce()
	require.ErrorIs(t, err, ErrEmptyCrop)

	var f *Failure
	require.True(t, errors.As(err, &f))
	require.Equal(t, FailureCapture, f.Kind)

	require.Equal(t, StatusCrashed, c.Status())
	require.Same(t, last, c.Frame())
	require.True(t, c.IsFrameReady())
}

func TestRectErrorCrashes(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)
	require.NoError(t, c.Init())

	w.mu.Lock()
	w.rectErr = window.ErrInvalidHandle
	w.mu.Unlock()

	err := c.CaptureOnce()
	require.ErrorIs(t, err, window.ErrInvalidHandle)
	require.Equal(t, StatusCrashed, c.Status())
	require.Nil(t, c.Frame())
	require.Equal(t, FailureCapture, c.LastFailure().Kind)
}

func TestStartProducesFramesUntilStop(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)

	require.NoError(t, c.Start())
	require.Equal(t, StatusRunning, c.Status())

	require.Eventually(t, func() bool {
		f := c.Frame()
		return f != nil && f.Sequence >= 3
	}, 5*time.Second, time.Millisecond)

	c.Stop()
	waitDone(t, c)

	require.Equal(t, StatusStopped, c.Status())
	require.Nil(t, c.LastFailure())

	seq := c.Frame().Sequence
	grabs := s.grabs.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, seq, c.Frame().Sequence)
	require.Equal(t, grabs, s.grabs.Load())
}

func TestStartIsNoopWhileRunning(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	require.Equal(t, 1, w.findCount())

	require.NoError(t, c.Close(context.Background()))
	require.Equal(t, StatusStopped, c.Status())
}

func TestStopDuringIterationDropsFrame(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)
	s.onGrab = func(n int64) {
		if n == 1 {
			c.Stop()
		}
	}

	require.NoError(t, c.Start())
	waitDone(t, c)

	require.Equal(t, StatusStopped, c.Status())
	require.Nil(t, c.Frame())
	require.Nil(t, c.LastFailure())
	require.Equal(t, int64(1), s.grabs.Load())
}

func TestPanicBecomesUnexpectedFailure(t *testing.T) {
	w, s := newFixture()
	s.panicOnGrab.Store(true)
	c := newTestCapture(w, s)

	require.NoError(t, c.Start())
	waitDone(t, c)

	require.Equal(t, StatusCrashed, c.Status())
	f := c.LastFailure()
	require.NotNil(t, f)
	require.Equal(t, FailureUnexpected, f.Kind)
	require.Contains(t, f.Error(), "driver exploded")
	require.True(t, c.IsFrameReady())
	require.Nil(t, c.Frame())
}

func TestCrashThenRestart(t *testing.T) {
	w, s := newFixture()
	w.title = "not yet"
	c := newTestCapture(w, s)

	require.Error(t, c.Start())
	require.Equal(t, StatusCrashed, c.Status())

	w.mu.Lock()
	w.title = testTitle
	w.mu.Unlock()

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.Frame() != nil }, 5*time.Second, time.Millisecond)
	require.NoError(t, c.Close(context.Background()))
}

func TestRestartAfterEmptyCrop(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.Frame() != nil }, 5*time.Second, time.Millisecond)

	w.move(image.Rect(1000, 1000, 1200, 1200))
	waitDone(t, c)
	require.Equal(t, StatusCrashed, c.Status())
	require.ErrorIs(t, c.LastFailure(), ErrEmptyCrop)

	w.move(image.Rect(100, 50, 300, 250))
	require.NoError(t, c.Start())
	seq := c.Frame().Sequence
	require.Eventually(t, func() bool { return c.Frame().Sequence > seq }, 5*time.Second, time.Millisecond)
	require.NoError(t, c.Close(context.Background()))
}

func TestStatusRunningBeforeFirstFrame(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)

	violations := atomic.Int64{}
	seen := make(chan struct{})
	go func() {
		defer close(seen)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			f := c.Frame()
			st := c.Status()
			if f != nil {
				if st == StatusStopped {
					violations.Add(1)
				}
				return
			}
		}
	}()

	require.NoError(t, c.Start())
	<-seen
	require.Zero(t, violations.Load())
	require.NotNil(t, c.Frame())
	require.NoError(t, c.Close(context.Background()))
}

func TestWaitRespectsContext(t *testing.T) {
	w, s := newFixture()
	c := newTestCapture(w, s)
	require.NoError(t, c.Wait(context.Background()))

	require.NoError(t, c.Start())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Wait(ctx), context.Canceled)

	require.NoError(t, c.Close(context.Background()))
}

func TestStatusText(t *testing.T) {
	for status, want := range map[Status]string{
		StatusCrashed: "crashed",
		StatusStopped: "stopped",
		StatusRunning: "running",
		Status(7):     "unknown",
	} {
		text, err := status.MarshalText()
		require.NoError(t, err)
		require.Equal(t, want, string(text))
	}
	require.Equal(t, "unexpected", FailureUnexpected.String())
}

func TestFailureAfterStopKeepsStopped(t *testing.T) {
	w, s := newFixture()
	var c *WindowCapture
	s.onGrab = func(n int64) {
		if n == 1 {
			// Stop lands mid-iteration, then the rect query fails
			c.Stop()
			w.failRect(window.ErrInvalidHandle)
		}
	}
	c = newTestCapture(w, s)

	require.NoError(t, c.Start())
	waitDone(t, c)

	require.Equal(t, StatusStopped, c.Status())
	require.Nil(t, c.LastFailure())
	require.Nil(t, c.Frame())
	require.Equal(t, int64(1), s.grabs.Load())
}

func TestWaitHonorsContextWhileStartBlocks(t *testing.T) {
	w, s := newFixture()
	release := make(chan struct{})
	entered := make(chan struct{})
	s.onGrab = func(n int64) {
		if n == 1 {
			close(entered)
			<-release
		}
	}
	c := newTestCapture(w, s)

	require.NoError(t, c.Start())
	<-entered
	c.Stop()

	// Start waits for the stuck iteration
	started := make(chan error, 1)
	go func() { started <- c.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	select {
	case <-started:
		t.Fatal("Start returned before the previous loop exited")
	default:
	}

	close(release)
	require.NoError(t, <-started)
	require.Equal(t, StatusRunning, c.Status())

	c.Stop()
	waitDone(t, c)
}
