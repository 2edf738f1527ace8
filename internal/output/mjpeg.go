package output

import (
	"bytes"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/logger"
)

// DefaultQuality is the JPEG quality used when none is configured
const DefaultQuality = 90

// MJPEGOutput streams frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Latest encoded frame, sent to clients as soon as they connect
	frameMu    sync.RWMutex
	lastJPEG   []byte
	frameSize  image.Point
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	frameCount uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output.
// The HTTP handler is registered separately via StreamHandler().
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().
		Int("fps", m.config.FPS).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes a frame and sends it to all connected clients
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastJPEG = jpegData
	m.frameSize = frame.Bounds().Size()
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// StreamHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream or similar endpoint.
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("mjpeg")

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.frameMu.RLock()
		if m.lastJPEG != nil {
			frameChan <- m.lastJPEG
		}
		m.frameMu.RUnlock()

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log.Info().Int("clients", clientCount).Str("remote", r.RemoteAddr).Msg("Stream client connected")

		defer func() {
			m.clientsMu.Lock()
			// Stop may already have closed and dropped the channel
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Stream client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

var viewerPage = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .status {
            position: fixed;
            bottom: 16px;
            left: 16px;
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border-radius: 20px;
            font-family: system-ui, -apple-system, sans-serif;
            font-size: 13px;
        }
    </style>
</head>
<body>
    <img src="/stream" alt="{{.Title}}">
    <div class="status" id="status">connecting</div>
    <script>
        const el = document.getElementById('status');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/capture/ws');
        ws.onmessage = (e) => {
            const s = JSON.parse(e.data);
            el.textContent = s.status + (s.last_failure ? ': ' + s.last_failure.message : '');
        };
        ws.onclose = () => { el.textContent = 'disconnected'; };
    </script>
</body>
</html>`))

// ViewerHandler returns an HTTP handler with a full-page stream viewer
func (m *MJPEGOutput) ViewerHandler(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := viewerPage.Execute(w, struct{ Title string }{title}); err != nil {
			logger.WithComponent("mjpeg").Error().Err(err).Msg("Failed to render viewer page")
		}
	}
}

// Stats is a snapshot of the stream counters
type Stats struct {
	Running    bool
	FrameCount uint64
	Clients    int
	TargetFPS  int
	ActualFPS  float64
	FrameSize  image.Point
	LastUpdate time.Time
	StartTime  time.Time
}

// Stats returns the current stream counters
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Running:    m.running,
		FrameCount: m.frameCount,
		StartTime:  m.startTime,
		TargetFPS:  m.config.FPS,
	}
	m.mu.RUnlock()

	m.frameMu.RLock()
	s.LastUpdate = m.lastUpdate
	s.FrameSize = m.frameSize
	m.frameMu.RUnlock()

	s.Clients = m.ClientCount()

	if s.Running && !s.StartTime.IsZero() {
		if elapsed := time.Since(s.StartTime).Seconds(); elapsed > 0 {
			s.ActualFPS = float64(s.FrameCount) / elapsed
		}
	}
	return s
}

var statsPage = template.Must(template.New("stats").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>WindowCapture - MJPEG Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>WindowCapture MJPEG Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value {{if not .Running}}status-stopped{{end}}">{{if .Running}}Running{{else}}Stopped{{end}}</span></div>
    <div class="stat"><span class="label">Resolution:</span> <span class="value">{{.FrameSize.X}}x{{.FrameSize.Y}} @ {{.TargetFPS}} FPS (target)</span></div>
    <div class="stat"><span class="label">Actual FPS:</span> <span class="value">{{printf "%.2f" .ActualFPS}}</span></div>
    <div class="stat"><span class="label">Total Frames:</span> <span class="value">{{.FrameCount}}</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">{{.Clients}}</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">{{.LastUpdateText}}</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">{{.UptimeText}}</span></div>
    <p><a href="/stream" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`))

// StatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := m.Stats()

		lastUpdate := "Never"
		if !s.LastUpdate.IsZero() {
			lastUpdate = time.Since(s.LastUpdate).Round(time.Millisecond).String() + " ago"
		}
		uptime := "N/A"
		if !s.StartTime.IsZero() {
			uptime = time.Since(s.StartTime).Round(time.Second).String()
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := statsPage.Execute(w, struct {
			Stats
			LastUpdateText string
			UptimeText     string
		}{s, lastUpdate, uptime})
		if err != nil {
			logger.WithComponent("mjpeg").Error().Err(err).Msg("Failed to render stats page")
		}
	}
}
