package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	AppDirName     = "polaris"
	ConfigFileName = "polaris" // polaris.yaml, polaris.json or polaris.toml
	EnvPrefix      = "POLARIS"
)

// Load loads configuration from defaults, an optional config file and
// POLARIS_* environment variables, in increasing order of precedence.
// An empty configPath searches the user config directory and the working
// directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultDataDir returns <UserConfigDir>/polaris.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		homeDir, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("failed to get user config directory: %w", err)
		}
		return filepath.Join(homeDir, "."+AppDirName), nil
	}
	return filepath.Join(base, AppDirName), nil
}

// HintFilePath resolves the port discovery file against the data directory.
func (c *Config) HintFilePath() string {
	if c.Port.HintFile == "" {
		return ""
	}
	if filepath.IsAbs(c.Port.HintFile) {
		return c.Port.HintFile
	}
	return filepath.Join(c.DataDir, c.Port.HintFile)
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// backend.grace_period is read from POLARIS_BACKEND_GRACE_PERIOD
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	d := DefaultConfig()
	v.SetDefault("data_dir", "")
	v.SetDefault("dev", false)
	v.SetDefault("allow_multi", false)

	v.SetDefault("backend.interpreter", "")
	v.SetDefault("backend.interpreters", d.Backend.Interpreters)
	v.SetDefault("backend.script", d.Backend.Script)
	v.SetDefault("backend.args", []string{})
	v.SetDefault("backend.working_dir", "")
	v.SetDefault("backend.hosted_env", d.Backend.HostedEnv)
	v.SetDefault("backend.grace_period", d.Backend.GracePeriod)

	v.SetDefault("port.default", d.Port.Default)
	v.SetDefault("port.value", 0)
	v.SetDefault("port.hint_file", d.Port.HintFile)

	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.timeout", d.Health.Timeout)
	v.SetDefault("health.path", d.Health.Path)

	v.SetDefault("window.host", d.Window.Host)
	v.SetDefault("window.title", d.Window.Title)
	v.SetDefault("window.width", d.Window.Width)
	v.SetDefault("window.height", d.Window.Height)
	v.SetDefault("window.min_width", d.Window.MinWidth)
	v.SetDefault("window.min_height", d.Window.MinHeight)
	v.SetDefault("window.splash_path", d.Window.SplashPath)
	v.SetDefault("window.main_path", d.Window.MainPath)
	v.SetDefault("window.load_retry_delay", d.Window.LoadRetryDelay)
	v.SetDefault("window.keep_alive", d.Window.KeepAlive)

	v.SetDefault("launch.auto_after", d.Launch.AutoAfter)

	v.SetDefault("diagnostics.listen", d.Diagnostics.Listen)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.enable_file", d.Logging.EnableFile)
	v.SetDefault("logging.enable_console", d.Logging.EnableConsole)
	v.SetDefault("logging.filename", d.Logging.Filename)
	v.SetDefault("logging.log_dir", "")
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.json_format", d.Logging.JSONFormat)
}

// readConfigFile loads an explicit file, or searches the common locations.
// A missing file in the search locations is not an error.
func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		return nil
	}

	v.SetConfigName(ConfigFileName)
	if dir, err := DefaultDataDir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to load config file: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
