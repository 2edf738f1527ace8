package api

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/config"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/bryanchriswhite/WindowCapture/internal/output"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitWithWriter(io.Discard, "error", false)
	os.Exit(m.Run())
}

type fakeCapture struct {
	mu       sync.Mutex
	status   capture.Status
	frame    *capture.Frame
	failure  *capture.Failure
	startErr error
	starts   int
}

func (f *fakeCapture) Status() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeCapture) Frame() *capture.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakeCapture) LastFailure() *capture.Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

func (f *fakeCapture) WindowTitle() string { return "Elder Scrolls Online" }

func (f *fakeCapture) IsFrameReady() bool {
	return f.Frame() != nil || f.Status() == capture.StatusCrashed
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		f.status = capture.StatusCrashed
		f.failure = &capture.Failure{Kind: capture.FailureDiscovery, Op: "discover", Err: f.startErr, At: time.Now()}
		return f.failure
	}
	f.status = capture.StatusRunning
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = capture.StatusStopped
}

func (f *fakeCapture) set(status capture.Status, frame *capture.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.frame = frame
}

type fakeLister struct {
	windows []*window.Info
	err     error
}

func (f fakeLister) ListWindows() ([]*window.Info, error) { return f.windows, f.err }

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Get() *config.Config { return s.cfg }

func newTestServer(c *fakeCapture) *httptest.Server {
	s := NewServer(c, fakeLister{windows: []*window.Info{
		{Handle: 7, Title: "Elder Scrolls Online", Class: "eso64.exe", Rect: image.Rect(0, 0, 800, 600)},
	}}, staticConfig{config.Defaults()}, output.NewMJPEGOutput(output.Config{FPS: 10}))
	s.StatusInterval = 5 * time.Millisecond
	return httptest.NewServer(s.Handler())
}

func getStatus(t *testing.T, url string) StatusResponse {
	t.Helper()
	resp, err := http.Get(url + "/api/capture/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeCapture{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, Version, body["version"])
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusBeforeStart(t *testing.T) {
	srv := newTestServer(&fakeCapture{})
	defer srv.Close()

	st := getStatus(t, srv.URL)
	require.Equal(t, "stopped", st.Status)
	require.Equal(t, "Elder Scrolls Online", st.WindowTitle)
	require.False(t, st.FrameReady)
	require.Nil(t, st.CapturedAt)
	require.Nil(t, st.LastFailure)
}

func TestStartAndStop(t *testing.T) {
	c := &fakeCapture{}
	srv := newTestServer(c)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/capture/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, capture.StatusRunning, c.Status())

	resp, err = http.Post(srv.URL+"/api/capture/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, capture.StatusStopped, c.Status())

	// Wrong method
	resp, err = http.Get(srv.URL + "/api/capture/start")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/capture/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartWindowNotFound(t *testing.T) {
	c := &fakeCapture{startErr: window.ErrWindowNotFound}
	srv := newTestServer(c)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/capture/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
		StatusResponse
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body.Error, "window not found")
	require.Equal(t, "crashed", body.Status)
	require.True(t, body.FrameReady)
	require.NotNil(t, body.LastFailure)
	require.Equal(t, "discovery", body.LastFailure.Kind)
}

func TestFramePNG(t *testing.T) {
	c := &fakeCapture{}
	srv := newTestServer(c)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/capture/frame.png")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	c.set(capture.StatusRunning, &capture.Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 6, 4)),
		Rect:       image.Rect(10, 30, 16, 34),
		CapturedAt: time.Now(),
		Sequence:   12,
	})

	resp, err = http.Get(srv.URL + "/api/capture/frame.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "12", resp.Header.Get("X-Frame-Sequence"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())

	st := getStatus(t, srv.URL)
	require.Equal(t, uint64(12), st.Sequence)
	require.NotNil(t, st.CapturedAt)
	require.True(t, st.FrameReady)
}

func TestWindowsAndConfig(t *testing.T) {
	srv := newTestServer(&fakeCapture{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/windows")
	require.NoError(t, err)
	var windows []window.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&windows))
	resp.Body.Close()
	require.Len(t, windows, 1)
	require.Equal(t, "eso64.exe", windows[0].Class)

	resp, err = http.Get(srv.URL + "/api/config")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	resp.Body.Close()
	require.Equal(t, config.DefaultWindowTitle, cfg.Capture.WindowTitle)
}

func TestWindowsError(t *testing.T) {
	s := NewServer(&fakeCapture{}, fakeLister{err: errors.New("no display")}, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/windows", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "no display")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestViewerPage(t *testing.T) {
	srv := newTestServer(&fakeCapture{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "Elder Scrolls Online")
}

func TestStatusWebsocketPushesChanges(t *testing.T) {
	c := &fakeCapture{}
	srv := newTestServer(c)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/capture/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var st StatusResponse
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, "stopped", st.Status)

	c.set(capture.StatusRunning, &capture.Frame{Image: image.NewRGBA(image.Rect(0, 0, 1, 1)), Sequence: 1})
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, "running", st.Status)
	require.Equal(t, uint64(1), st.Sequence)

	c.Stop()
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, "stopped", st.Status)
}
