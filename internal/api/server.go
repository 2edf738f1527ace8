package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/config"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/bryanchriswhite/WindowCapture/internal/output"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// DefaultStatusInterval is how often websocket clients are checked for status changes
const DefaultStatusInterval = 100 * time.Millisecond

// Capture is the part of capture.WindowCapture the API drives
type Capture interface {
	Status() capture.Status
	Frame() *capture.Frame
	LastFailure() *capture.Failure
	WindowTitle() string
	IsFrameReady() bool
	Start() error
	Stop()
}

// WindowLister lists the windows known to the backend
type WindowLister interface {
	ListWindows() ([]*window.Info, error)
}

// ConfigSource provides the current configuration
type ConfigSource interface {
	Get() *config.Config
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	capture  Capture
	windows  WindowLister
	config   ConfigSource
	stream   *output.MJPEGOutput
	upgrader websocket.Upgrader

	srvMu    sync.Mutex
	httpSrv  *http.Server
	shutdown bool

	// StatusInterval is the websocket poll period
	StatusInterval time.Duration
}

// NewServer creates a new API server. windows, cfg and stream may be nil.
func NewServer(c Capture, windows WindowLister, cfg ConfigSource, stream *output.MJPEGOutput) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		capture: c,
		windows: windows,
		config:  cfg,
		stream:  stream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Viewer pages may be opened from anywhere on the LAN
			},
		},
		StatusInterval: DefaultStatusInterval,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Routes stay on the root router so a method mismatch answers 405
	s.router.HandleFunc("/api/capture/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/capture/start", s.handleStart).Methods("POST")
	s.router.HandleFunc("/api/capture/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/api/capture/frame.png", s.handleFrame).Methods("GET")
	s.router.HandleFunc("/api/capture/ws", s.handleStatusStream)

	s.router.HandleFunc("/api/windows", s.handleWindows).Methods("GET")
	s.router.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.StreamHandler()).Methods("GET")
		s.router.HandleFunc("/stream/stats", s.stream.StatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.stream.ViewerHandler(s.capture.WindowTitle())).Methods("GET")
	}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.srvMu.Lock()
	if s.shutdown {
		s.srvMu.Unlock()
		return nil
	}
	s.httpSrv = srv
	s.srvMu.Unlock()

	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	srv := s.httpSrv
	s.shutdown = true
	s.srvMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FailureResponse is the JSON form of a capture failure
type FailureResponse struct {
	Kind    string    `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// StatusResponse is returned by the status endpoints and pushed over the websocket
type StatusResponse struct {
	Status      string           `json:"status"`
	WindowTitle string           `json:"window_title"`
	FrameReady  bool             `json:"frame_ready"`
	Sequence    uint64           `json:"sequence"`
	CapturedAt  *time.Time       `json:"captured_at,omitempty"`
	LastFailure *FailureResponse `json:"last_failure,omitempty"`
}

func (s *Server) snapshot() StatusResponse {
	resp := StatusResponse{
		Status:      s.capture.Status().String(),
		WindowTitle: s.capture.WindowTitle(),
		FrameReady:  s.capture.IsFrameReady(),
	}
	if f := s.capture.Frame(); f != nil {
		at := f.CapturedAt
		resp.Sequence = f.Sequence
		resp.CapturedAt = &at
	}
	if f := s.capture.LastFailure(); f != nil {
		resp.LastFailure = &FailureResponse{
			Kind:    f.Kind.String(),
			Op:      f.Op,
			Message: f.Err.Error(),
			At:      f.At,
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.Start(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, window.ErrWindowNotFound) {
			code = http.StatusNotFound
		}
		writeJSON(w, code, struct {
			Error string `json:"error"`
			StatusResponse
		}{err.Error(), s.snapshot()})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.capture.Stop()
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f := s.capture.Frame()
	if f == nil {
		writeError(w, http.StatusNotFound, errors.New("no frame captured yet"))
		return
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, f.Image); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to encode PNG: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Sequence", strconv.FormatUint(f.Sequence, 10))
	w.Write(buf.Bytes())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Drain client messages so close frames are noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.StatusInterval)
	defer ticker.Stop()

	var last []byte
	for {
		msg, err := json.Marshal(s.snapshot())
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
			return
		}
		if !bytes.Equal(msg, last) {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
			last = msg
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if s.windows == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no window backend"))
		return
	}

	windows, err := s.windows.ListWindows()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.config == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no configuration loaded"))
		return
	}
	writeJSON(w, http.StatusOK, s.config.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
