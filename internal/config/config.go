package config

import (
	"fmt"
	"runtime"
	"time"
)

const (
	defaultPort = 8000

	// WindowHostWebview renders the UI in an embedded native webview.
	WindowHostWebview = "webview"
	// WindowHostBrowser hands the UI URL to the system browser.
	WindowHostBrowser = "browser"
)

// Config represents the desktop shell configuration
type Config struct {
	DataDir                string            `json:"data_dir" mapstructure:"data_dir"`
	Dev                    bool              `json:"dev" mapstructure:"dev"`
	AllowMultipleInstances bool              `json:"allow_multi" mapstructure:"allow_multi"`
	Backend                BackendConfig     `json:"backend" mapstructure:"backend"`
	Port                   PortConfig        `json:"port" mapstructure:"port"`
	Health                 HealthConfig      `json:"health" mapstructure:"health"`
	Window                 WindowConfig      `json:"window" mapstructure:"window"`
	Launch                 LaunchConfig      `json:"launch" mapstructure:"launch"`
	Logging                *LogConfig        `json:"logging,omitempty" mapstructure:"logging"`
	Diagnostics            DiagnosticsConfig `json:"diagnostics" mapstructure:"diagnostics"`
}

// BackendConfig describes how the Python backend process is launched
type BackendConfig struct {
	Interpreter  string        `json:"interpreter,omitempty" mapstructure:"interpreter"` // explicit interpreter, skips discovery
	Interpreters []string      `json:"interpreters" mapstructure:"interpreters"`         // discovery candidates, in order
	Script       string        `json:"script" mapstructure:"script"`
	Args         []string      `json:"args,omitempty" mapstructure:"args"`
	WorkingDir   string        `json:"working_dir,omitempty" mapstructure:"working_dir"`
	HostedEnv    string        `json:"hosted_env" mapstructure:"hosted_env"` // NAME=value marking the backend as GUI-hosted
	GracePeriod  time.Duration `json:"grace_period" mapstructure:"grace_period"`
}

// PortConfig controls backend port resolution
type PortConfig struct {
	Default  int    `json:"default" mapstructure:"default"`
	Value    int    `json:"value,omitempty" mapstructure:"value"` // 0 means unset
	HintFile string `json:"hint_file" mapstructure:"hint_file"`   // relative paths live under DataDir
}

// HealthConfig controls readiness probing
type HealthConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Path     string        `json:"path" mapstructure:"path"`
}

// WindowConfig describes the application window
type WindowConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Title          string        `json:"title" mapstructure:"title"`
	Width          int           `json:"width" mapstructure:"width"`
	Height         int           `json:"height" mapstructure:"height"`
	MinWidth       int           `json:"min_width" mapstructure:"min_width"`
	MinHeight      int           `json:"min_height" mapstructure:"min_height"`
	SplashPath     string        `json:"splash_path" mapstructure:"splash_path"`
	MainPath       string        `json:"main_path" mapstructure:"main_path"`
	LoadRetryDelay time.Duration `json:"load_retry_delay" mapstructure:"load_retry_delay"`
	KeepAlive      bool          `json:"keep_alive" mapstructure:"keep_alive"` // keep running with no windows
}

// LaunchConfig controls the splash to main app transition
type LaunchConfig struct {
	AutoAfter time.Duration `json:"auto_after" mapstructure:"auto_after"` // 0 disables auto-launch
}

// DiagnosticsConfig controls the developer diagnostics endpoint
type DiagnosticsConfig struct {
	Listen string `json:"listen" mapstructure:"listen"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable_file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable_console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log_dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max_size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max_backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max_age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json_format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "", // Will be set to <UserConfigDir>/polaris by loader
		Backend: BackendConfig{
			Interpreters: []string{"python", "python3", "py"},
			Script:       "main.py",
			HostedEnv:    "POLARIS_DESKTOP=1",
			GracePeriod:  time.Second,
		},
		Port: PortConfig{
			Default:  defaultPort,
			HintFile: "backend.port",
		},
		Health: HealthConfig{
			Interval: time.Second,
			Timeout:  time.Second,
			Path:     "/",
		},
		Window: WindowConfig{
			Host:           WindowHostWebview,
			Title:          "Polaris Antenna Visualizer",
			Width:          1200,
			Height:         800,
			MinWidth:       900,
			MinHeight:      600,
			SplashPath:     "splashIndex.html",
			MainPath:       "index.html",
			LoadRetryDelay: time.Second,
			KeepAlive:      runtime.GOOS == "darwin",
		},
		Diagnostics: DiagnosticsConfig{
			Listen: "127.0.0.1:9461",
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10, // 10MB
			MaxBackups:    5,  // 5 backup files
			MaxAge:        30, // 30 days
			Compress:      true,
			JSONFormat:    false, // Use console format for readability
		},
	}
}

// Validate checks the configuration and fills in zero values with defaults
func (c *Config) Validate() error {
	if c.Port.Default == 0 {
		c.Port.Default = defaultPort
	}
	if !validPort(c.Port.Default) {
		return fmt.Errorf("port.default %d out of range", c.Port.Default)
	}
	if c.Port.Value != 0 && !validPort(c.Port.Value) {
		return fmt.Errorf("port.value %d out of range", c.Port.Value)
	}

	if c.Backend.Interpreter == "" && len(c.Backend.Interpreters) == 0 {
		return fmt.Errorf("backend.interpreters must not be empty when no interpreter is set")
	}
	if c.Backend.Script == "" {
		return fmt.Errorf("backend.script must not be empty")
	}

	durations := map[string]time.Duration{
		"backend.grace_period":    c.Backend.GracePeriod,
		"health.interval":         c.Health.Interval,
		"health.timeout":          c.Health.Timeout,
		"window.load_retry_delay": c.Window.LoadRetryDelay,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Launch.AutoAfter < 0 {
		c.Launch.AutoAfter = 0 // negative means disabled
	}

	switch c.Window.Host {
	case "":
		c.Window.Host = WindowHostWebview
	case WindowHostWebview, WindowHostBrowser:
	default:
		return fmt.Errorf("unknown window.host %q", c.Window.Host)
	}

	if c.Health.Path == "" {
		c.Health.Path = "/"
	}
	if c.Logging == nil {
		c.Logging = DefaultConfig().Logging
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
