package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/api"
	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/config"
	"github.com/bryanchriswhite/WindowCapture/internal/display"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/bryanchriswhite/WindowCapture/internal/notify"
	"github.com/bryanchriswhite/WindowCapture/internal/output"
	"github.com/bryanchriswhite/WindowCapture/internal/screen"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture the window and serve the stream and API",
	Long: `Start capturing the configured window and serve the MJPEG stream, the latest
frame and the capture controls over HTTP.

If the window cannot be found at startup the server keeps running; the capture
can be restarted through POST /api/capture/start.`,
	Example: `  # Start server on default port (8080)
  windowcapture serve

  # Capture another window on a custom port
  windowcapture serve --title "Notepad" --port 9090

  # Start with debug logging
  windowcapture serve --log-level debug`,
	RunE: runServe,
}

var servePreview bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&servePreview, "preview", false, "show the X11 preview window (overrides preview.enabled)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	defer configMgr.Flush()

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("title", cfg.Capture.WindowTitle).
		Str("backend", cfg.Capture.Backend).
		Msg("Configuration loaded")

	windowMgr, err := window.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize window manager: %w", err)
	}
	defer windowMgr.Stop()

	grabber := screen.NewRouter(cfg.Capture.Backend)
	if err := grabber.Start(); err != nil {
		return fmt.Errorf("failed to initialize screen grabber: %w", err)
	}
	defer grabber.Stop()

	log.Info().
		Str("windows", windowMgr.BackendName()).
		Str("grabber", grabber.Name()).
		Msg("Backends ready")

	wc := capture.New(capture.Options{
		WindowTitle:   cfg.Capture.WindowTitle,
		IdleWait:      cfg.Capture.IdleWait,
		FrameInterval: cfg.Capture.FrameInterval,
	}, windowMgr, grabber)

	streamCfg := output.Config{
		MaxWidth:  cfg.Stream.MaxWidth,
		MaxHeight: cfg.Stream.MaxHeight,
		FPS:       cfg.Stream.FPS,
		Quality:   cfg.Stream.Quality,
		Overlay:   cfg.Stream.Overlay,
	}
	mjpegOut := output.NewMJPEGOutput(streamCfg)
	if err := mjpegOut.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	defer mjpegOut.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go output.Pump(ctx, wc, mjpegOut, streamCfg)

	if servePreview || cfg.Preview.Enabled {
		startPreview(ctx, cfg.Preview, wc)
	}

	if cfg.Notify.OnCrash {
		notifier, err := notify.NewDBusNotifier("WindowCapture")
		if err != nil {
			log.Warn().Err(err).Msg("Crash notifications disabled")
		} else {
			defer notifier.Close()
			go notify.NewWatcher(wc, notifier, 0).Run(ctx)
		}
	}

	if err := wc.Start(); err != nil {
		log.Warn().Err(err).Msg("Capture not started; use POST /api/capture/start to retry")
	}

	server := api.NewServer(wc, windowMgr, configMgr, mjpegOut)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("WindowCapture is running: viewer http://localhost:%d, API http://localhost:%d/api, press Ctrl+C to stop",
			cfg.ServerPort, cfg.ServerPort)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wc.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Capture loop did not exit in time")
	}
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	return nil
}

// startPreview shows the preview window and pumps frames into it until ctx is done
func startPreview(ctx context.Context, cfg config.PreviewConfig, wc *capture.WindowCapture) {
	log := logger.WithComponent("serve")

	preview, err := display.NewManager(&cfg, wc.WindowTitle())
	if err != nil {
		log.Warn().Err(err).Msg("Preview window unavailable")
		return
	}
	if err := runPreview(ctx, preview, wc); err != nil {
		log.Warn().Err(err).Msg("Failed to start preview window")
	}
}

// previewWindow is an output with its own refresh rate
type previewWindow interface {
	output.Output
	FPS() int
}

// runPreview starts preview and pumps source into it in the background. preview
// is stopped when Start fails or ctx is done.
func runPreview(ctx context.Context, preview previewWindow, source output.FrameSource) error {
	if err := preview.Start(); err != nil {
		preview.Stop()
		return err
	}

	go func() {
		output.Pump(ctx, source, preview, output.Config{FPS: preview.FPS()})
		preview.Stop()
	}()
	return nil
}
