package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/WindowCapture/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultWindowTitle is the title of the window captured when none is configured
const DefaultWindowTitle = "Elder Scrolls Online"

// Backend names accepted by capture.backend
const (
	BackendAuto       = "auto"
	BackendX11        = "x11"
	BackendScreenshot = "screenshot"
)

// CaptureConfig controls discovery and the capture loop
type CaptureConfig struct {
	WindowTitle   string        `json:"window_title" yaml:"window_title"`
	Backend       string        `json:"backend" yaml:"backend"`
	IdleWait      time.Duration `json:"idle_wait" yaml:"idle_wait"`
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval"`
}

// StreamConfig controls the MJPEG output
type StreamConfig struct {
	FPS       int  `json:"fps" yaml:"fps"`
	Quality   int  `json:"quality" yaml:"quality"`
	MaxWidth  int  `json:"max_width" yaml:"max_width"`
	MaxHeight int  `json:"max_height" yaml:"max_height"`
	Overlay   bool `json:"overlay" yaml:"overlay"`
}

// PreviewConfig represents the X11 debug preview window
type PreviewConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Width   int  `json:"width" yaml:"width"`
	Height  int  `json:"height" yaml:"height"`
	FPS     int  `json:"fps" yaml:"fps"`
}

// NotifyConfig controls desktop notifications
type NotifyConfig struct {
	OnCrash bool `json:"on_crash" yaml:"on_crash"`
}

// Config represents the application configuration
type Config struct {
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`
	ServerPort int    `json:"server_port" yaml:"server_port"`

	Capture CaptureConfig `json:"capture" yaml:"capture"`
	Stream  StreamConfig  `json:"stream" yaml:"stream"`
	Preview PreviewConfig `json:"preview" yaml:"preview"`
	Notify  NotifyConfig  `json:"notify" yaml:"notify"`

	// Values is a free-form key/value store for consumers of captured frames
	Values map[string]interface{} `json:"values" yaml:"values"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
	saveMu     sync.Mutex
	saves      sync.WaitGroup
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel:   "info",
		ServerPort: 8080,
		Capture: CaptureConfig{
			WindowTitle: DefaultWindowTitle,
			Backend:     BackendAuto,
			IdleWait:    25 * time.Millisecond,
		},
		Stream: StreamConfig{
			FPS:     10,
			Quality: 90,
		},
		Preview: PreviewConfig{
			Width:  960,
			Height: 540,
			FPS:    10,
		},
		Notify: NotifyConfig{
			OnCrash: true,
		},
		Values: map[string]interface{}{},
	}
}

// DefaultPath returns $HOME/.config/windowcapture/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "windowcapture", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile selects DefaultPath.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("window_title", m.config.Capture.WindowTitle).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg, err := parse(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// parse decodes YAML on top of the defaults so missing keys keep their default values
func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Values == nil {
		cfg.Values = map[string]interface{}{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise break the capture or stream loops
func (c *Config) Validate() error {
	switch c.Capture.Backend {
	case BackendAuto, BackendX11, BackendScreenshot:
	default:
		return fmt.Errorf("invalid capture backend: %q (use auto, x11 or screenshot)", c.Capture.Backend)
	}
	if c.Capture.WindowTitle == "" {
		return fmt.Errorf("capture.window_title must not be empty")
	}
	if c.Capture.IdleWait < 0 || c.Capture.FrameInterval < 0 {
		return fmt.Errorf("capture durations must not be negative")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	if c.Stream.Quality < 0 || c.Stream.Quality > 100 {
		return fmt.Errorf("invalid stream quality: %d", c.Stream.Quality)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Values = make(map[string]interface{}, len(m.config.Values))
	for k, v := range m.config.Values {
		cfg.Values[k] = v
	}
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// SaveAsync writes the configuration in the background. Errors are only logged.
func (m *Manager) SaveAsync() {
	m.saves.Add(1)
	go func() {
		defer m.saves.Done()
		if err := m.Save(); err != nil {
			logger.WithComponent("config").Warn().Err(err).Msg("Background config save failed")
		}
	}()
}

// Flush waits for pending SaveAsync calls
func (m *Manager) Flush() {
	m.saves.Wait()
}

// Update replaces the entire configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetValue returns a free-form value, or def when the key is unset
func (m *Manager) GetValue(key string, def interface{}) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return def
	}
	if v, ok := m.config.Values[key]; ok {
		return v
	}
	return def
}

// SetValue stores a free-form value. With save set the file is written asynchronously.
func (m *Manager) SetValue(key string, value interface{}, save bool) {
	m.mu.Lock()
	if m.config == nil {
		m.config = Defaults()
	}
	m.config.Values[key] = value
	m.mu.Unlock()

	if save {
		m.SaveAsync()
	}
}

// ValueKeys returns the free-form keys in sorted order
func (m *Manager) ValueKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.config.Values))
	for k := range m.config.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Viper returns a viper instance holding the current configuration, for dot-path access
func (m *Manager) Viper() (*viper.Viper, error) {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// Lookup returns the value at a dot-separated key such as capture.window_title
func (m *Manager) Lookup(key string) (interface{}, bool, error) {
	v, err := m.Viper()
	if err != nil {
		return nil, false, err
	}
	if !v.IsSet(key) {
		return nil, false, nil
	}
	return v.Get(key), true, nil
}

// Set assigns a dot-separated key from its textual form and saves the file.
// The raw value is decoded as a YAML scalar, so "8080" is an int and "true" a bool.
func (m *Manager) Set(key, raw string) error {
	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}

	// viper lowercases keys, so free-form values bypass it to keep their case
	if name, ok := strings.CutPrefix(key, "values."); ok {
		m.SetValue(name, value, false)
		return m.Save()
	}

	v, err := m.Viper()
	if err != nil {
		return err
	}
	v.Set(key, value)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	cfg.Values = m.Get().Values
	return m.Update(cfg)
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
}

// SetWindowTitle overrides the capture target for this process
func (m *Manager) SetWindowTitle(title string) {
	m.mu.Lock()
	m.config.Capture.WindowTitle = title
	m.mu.Unlock()
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
