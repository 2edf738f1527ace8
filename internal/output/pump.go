package output

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/bryanchriswhite/WindowCapture/internal/overlay"
)

// DefaultFPS is the polling rate used when none is configured
const DefaultFPS = 10

// FrameSource is anything that exposes a latest captured frame
type FrameSource interface {
	Frame() *capture.Frame
}

// Pump polls source at cfg.FPS and writes every new frame to out, scaled to the
// configured limits. Frames whose sequence did not change are skipped. Pump
// returns when ctx is done.
func Pump(ctx context.Context, source FrameSource, out Output, cfg Config) error {
	log := logger.WithComponent("pump")

	fps := cfg.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	log.Info().
		Str("output", out.Name()).
		Int("fps", fps).
		Msg("Frame pump started")

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("output", out.Name()).Uint64("last_sequence", lastSeq).Msg("Frame pump stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		f := source.Frame()
		if f == nil || f.Sequence == lastSeq {
			continue
		}
		lastSeq = f.Sequence

		if !out.IsRunning() {
			continue
		}
		img := Scale(f.Image, cfg.MaxWidth, cfg.MaxHeight)
		if cfg.Overlay {
			img = overlay.Stamp(img, FrameLabel(f))
		}
		if err := out.WriteFrame(img); err != nil {
			log.Warn().Err(err).Uint64("sequence", f.Sequence).Msg("Failed to write frame")
		}
	}
}

// FrameLabel is the overlay text for a frame
func FrameLabel(f *capture.Frame) string {
	return fmt.Sprintf("#%d %s", f.Sequence, f.CapturedAt.Format("15:04:05.000"))
}
