package logs

import (
	"fmt"
	"os"
	"time"

	"github.com/polaris-antenna/polaris-desktop/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log level constants
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *config.LogConfig {
	return &config.LogConfig{
		Level:         LogLevelInfo,
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "main.log",
		MaxSize:       10, // 10MB
		MaxBackups:    5,  // 5 backup files
		MaxAge:        30, // 30 days
		Compress:      true,
		JSONFormat:    false, // Use console format for readability
	}
}

// ParseLevel maps a configured level name to a zap level. Unknown names
// fall back to info.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case LogLevelTrace:
		return zap.DebugLevel // Map trace to debug level for maximum verbosity
	case LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger creates a logger with file and console outputs based on configuration
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core

	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(
			getConsoleEncoder(),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}

	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured")
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// createFileCore creates a rotating file-based logging core
func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var encoder zapcore.Encoder
	if cfg.JSONFormat {
		encoder = getJSONEncoder()
	} else {
		encoder = getFileEncoder()
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(rotator), level), nil
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getFileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJSONEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
