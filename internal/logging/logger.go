// Package logging provides centralized structured logging for geistbind.
// It wraps zap.Logger and allows runtime-configurable level, output streams,
// file logging and independently levelled per-device loggers.
package logging

import (
	"os"
	"sync"

	"github.com/mfulz/geistbind/internal/configloader"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config represents the logging configuration as defined in the global YAML config.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`             // "debug", "info", "warn", "error"
	ToStdout   bool   `mapstructure:"to_stdout" yaml:"to_stdout"`     // Enable output to stdout
	ToStderr   bool   `mapstructure:"to_stderr" yaml:"to_stderr"`     // Enable output to stderr
	ToFile     bool   `mapstructure:"to_file" yaml:"to_file"`         // Enable output to file
	FilePath   string `mapstructure:"file" yaml:"file"`               // Log file path, e.g. /var/log/geistbind.log
	MaxSizeMB  int    `mapstructure:"max_size" yaml:"max_size"`       // Max size before rotation (in MB)
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // Max age of logs (in days)
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // Number of rotated backups to keep
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // Gzip compress old log files
}

// Log is the globally accessible sugared logger instance.
var Log *zap.SugaredLogger

var (
	mu      sync.RWMutex
	encoder zapcore.Encoder
	sink    zapcore.WriteSyncer
)

// Init initializes the global logger from the registered *Config.
func Init() error {
	cfg := configloader.MustGetConfig[*Config]()

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(encoderCfg)

	level := zapcore.InfoLevel
	_ = level.Set(cfg.Level) // invalid values keep InfoLevel

	var writers []zapcore.WriteSyncer
	if cfg.ToStdout {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}
	if cfg.ToStderr {
		writers = append(writers, zapcore.AddSync(os.Stderr))
	}
	if cfg.ToFile && cfg.FilePath != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}))
	}
	if len(writers) == 0 {
		// Fallback: always log to stdout
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	SetOutput(enc, zapcore.NewMultiWriteSyncer(writers...), level)
	return nil
}

// SetOutput replaces the global logger sinks. Tests use it to capture output.
func SetOutput(enc zapcore.Encoder, ws zapcore.WriteSyncer, level zapcore.Level) {
	mu.Lock()
	encoder = enc
	sink = ws
	mu.Unlock()

	logger := zap.New(zapcore.NewCore(enc, ws, level), zap.AddCaller())
	Log = logger.Sugar()
}

// VerbosityLevel maps a host verbosity attribute value to a zap level.
// 5 is debug, 4 info, 3 warn; anything else only logs errors.
func VerbosityLevel(verbose string) zapcore.Level {
	switch verbose {
	case "5":
		return zapcore.DebugLevel
	case "4":
		return zapcore.InfoLevel
	case "3":
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// DeviceLogger returns a logger named after a device. It writes to the same
// sinks as Log but filters on its own level, which the caller may change at
// runtime through the returned AtomicLevel.
func DeviceLogger(name string, verbose string) (*zap.SugaredLogger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(VerbosityLevel(verbose))

	mu.RLock()
	enc, ws := encoder, sink
	mu.RUnlock()

	logger := zap.New(zapcore.NewCore(enc, ws, level), zap.AddCaller()).Named(name)
	return logger.Sugar(), level
}

func init() {
	// default config
	cfg := &Config{
		Level:    "info",
		ToStdout: true,
	}

	configloader.RegisterConfig(cfg)
	_ = Init()
}
