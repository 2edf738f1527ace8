package commands

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/capture"
	"github.com/bryanchriswhite/WindowCapture/internal/screen"
	"github.com/bryanchriswhite/WindowCapture/internal/window"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write one capture of the window to a PNG file",
	Long: `Start the capture, wait until the first frame is ready and write it as PNG.

If the window cannot be found, or the capture crashes before the first frame,
the failure is reported instead.`,
	Example: `  # Capture the configured window
  windowcapture snapshot -o frame.png

  # Capture another window, waiting at most 3 seconds
  windowcapture snapshot --title "Notepad" -o notepad.png --timeout 3s`,
	RunE: runSnapshot,
}

var (
	snapshotOutput  string
	snapshotTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "frame.png", "output PNG file")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 10*time.Second, "how long to wait for the first frame")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

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

	wc := capture.New(capture.Options{
		WindowTitle:   cfg.Capture.WindowTitle,
		IdleWait:      cfg.Capture.IdleWait,
		FrameInterval: cfg.Capture.FrameInterval,
	}, windowMgr, grabber)

	ctx, cancel := context.WithTimeout(cmd.Context(), snapshotTimeout)
	defer cancel()

	frame, err := firstFrame(ctx, wc)
	if closeErr := wc.Close(context.Background()); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	f, err := os.Create(snapshotOutput)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", snapshotOutput, err)
	}
	defer f.Close()

	if err := png.Encode(f, frame.Image); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %dx%d frame of %q to %s\n",
		frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy(), wc.WindowTitle(), snapshotOutput)
	return nil
}

// firstFrame starts wc and polls IsFrameReady until a frame exists, the capture
// crashes or ctx is done
func firstFrame(ctx context.Context, wc *capture.WindowCapture) (*capture.Frame, error) {
	if err := wc.Start(); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !wc.IsFrameReady() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no frame within %s: %w", snapshotTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	if frame := wc.Frame(); frame != nil {
		return frame, nil
	}
	if f := wc.LastFailure(); f != nil {
		return nil, f
	}
	return nil, fmt.Errorf("capture %s without a frame", wc.Status())
}
