package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/WindowCapture/internal/config"
	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "windowcapture",
	Short: "WindowCapture - continuous capture of a single application window",
	Long: `WindowCapture finds a top-level window by its exact title and keeps
capturing its client area from the screen in the background.

Features:
  • Window discovery via X11 (EWMH) or Win32
  • Screen grabs via the X11 root window or the screenshot library
  • Decoration-aware cropping that follows the window as it moves
  • MJPEG stream and PNG snapshots of the latest frame
  • REST API and websocket status updates
  • Desktop notification when the capture crashes`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/windowcapture/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("title", "", "exact title of the window to capture")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("capture.window_title", rootCmd.PersistentFlags().Lookup("title"))
}

func initConfig() {
	// A missing .env is fine
	_ = godotenv.Load()

	viper.SetEnvPrefix("WINDOWCAPTURE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Command output goes to stdout, so logs stay on stderr until serve takes over
	level := viper.GetString("log_level")
	if level == "" {
		level = "warn"
	}
	logger.InitWithWriter(os.Stderr, level, false)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path from --config or WINDOWCAPTURE_CONFIG
func GetConfigFile() string {
	return viper.GetString("config")
}

// loadConfig opens the configuration and applies flag and environment overrides
// for this process only
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("capture.window_title") {
		if title := viper.GetString("capture.window_title"); title != "" {
			configMgr.SetWindowTitle(title)
		}
	}

	return configMgr, nil
}
