package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigSetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	require.Equal(t, path, strings.TrimSpace(out))

	out, err = execute(t, "--config", path, "config", "get", "capture.window_title")
	require.NoError(t, err)
	require.Equal(t, "Elder Scrolls Online", strings.TrimSpace(out))

	_, err = execute(t, "--config", path, "config", "set", "capture.window_title", "Notepad")
	require.NoError(t, err)

	out, err = execute(t, "--config", path, "config", "get", "capture.window_title")
	require.NoError(t, err)
	require.Equal(t, "Notepad", strings.TrimSpace(out))

	_, err = execute(t, "--config", path, "config", "set", "capture.backend", "directx")
	require.Error(t, err)

	_, err = execute(t, "--config", path, "config", "get", "no.such.key")
	require.Error(t, err)
}

func TestConfigShowJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "--config", path, "config", "show", "--format", "json")
	require.NoError(t, err)

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Equal(t, float64(8080), cfg["server_port"])

	formatFlag = "yaml"
}

func TestPrintWindowsTable(t *testing.T) {
	windows := []*window.Info{
		{Handle: 0x3a00007, Title: "Elder Scrolls Online", Class: "eso64.exe", PID: 4242, Rect: image.Rect(10, 20, 810, 620)},
	}

	out := new(bytes.Buffer)
	require.NoError(t, printWindows(out, windows, "table"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "HANDLE"))
	require.Contains(t, lines[2], "0x3a00007")
	require.Contains(t, lines[2], "Elder Scrolls Online")
	require.Contains(t, lines[2], "800x600 at (10, 20)")

	out.Reset()
	require.NoError(t, printWindows(out, windows, "json"))
	require.Contains(t, out.String(), `"title": "Elder Scrolls Online"`)

	require.Error(t, printWindows(out, windows, "xml"))
}

type fakePreview struct {
	startErr error
	running  atomic.Bool
	stops    atomic.Int32
	writes   atomic.Int32
}

func (p *fakePreview) Start() error {
	if p.startErr != nil {
		return p.startErr
	}
	p.running.Store(true)
	return nil
}

func (p *fakePreview) Stop() error {
	p.running.Store(false)
	p.stops.Add(1)
	return nil
}

func (p *fakePreview) WriteFrame(*image.RGBA) error { p.writes.Add(1); return nil }
func (p *fakePreview) Name() string                 { return "fake preview" }
func (p *fakePreview) IsRunning() bool              { return p.running.Load() }
func (p *fakePreview) FPS() int                     { return 200 }

type staticFrame struct{ frame *capture.Frame }

func (s staticFrame) Frame() *capture.Frame { return s.frame }

func TestRunPreviewStopsOnStartFailure(t *testing.T) {
	p := &fakePreview{startErr: errors.New("no display")}
	err := runPreview(context.Background(), p, staticFrame{})
	require.Error(t, err)
	require.Equal(t, int32(1), p.stops.Load())
}

func TestRunPreviewPumpsUntilCancelled(t *testing.T) {
	p := &fakePreview{}
	src := staticFrame{frame: &capture.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Sequence: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, runPreview(ctx, p, src))
	require.Eventually(t, func() bool { return p.writes.Load() == 1 }, 5*time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return p.stops.Load() == 1 }, 5*time.Second, time.Millisecond)
	require.False(t, p.IsRunning())
}
