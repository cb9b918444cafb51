package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration
type Config struct {
	// Level is the log level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format is the log format (json or console)
	Format string `yaml:"format"`
	// OutputPaths is a list of paths to write logs to
	OutputPaths []string `yaml:"output_paths"`
	// Development enables development mode (DPanic logs will panic)
	Development bool `yaml:"development"`
	// EnableCaller enables caller information in logs
	EnableCaller bool `yaml:"caller"`
}

// DefaultConfig returns the production logging configuration.
// A CLI writes its own output to stdout, so logs go to stderr.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig returns a configuration for development
func DevelopmentConfig() Config {
	return Config{
		Level:        "debug",
		Format:       "console",
		OutputPaths:  []string{"stderr"},
		Development:  true,
		EnableCaller: true,
	}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config Config) (*Logger, error) {
	level := parseLevel(config.Level)

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	format := config.Format
	if format == "" {
		format = "json"
	}
	outputs := config.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.Development,
		Encoding:          format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// ApplyEnv overrides config from environment variables:
// LEDGER_LOG_LEVEL, LEDGER_LOG_FORMAT and LEDGER_LOG_DEV=true.
func ApplyEnv(config Config) Config {
	if os.Getenv("LEDGER_LOG_DEV") == "true" {
		config = DevelopmentConfig()
	}
	if level := os.Getenv("LEDGER_LOG_LEVEL"); level != "" {
		config.Level = level
	}
	if format := os.Getenv("LEDGER_LOG_FORMAT"); format != "" {
		config.Format = format
	}
	return config
}

// NewLoggerFromEnv creates a logger from DefaultConfig and the environment.
func NewLoggerFromEnv() (*Logger, error) {
	return NewLogger(ApplyEnv(DefaultConfig()))
}

// NewNoOpLogger creates a logger that discards all logs
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// parseLevel converts a string to a zapcore.Level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// Or returns l, or the global logger when l is nil.
func (l *Logger) Or() *Logger {
	if l == nil {
		return Global()
	}
	return l
}

var global = NewNoOpLogger()

// SetGlobal sets the global logger instance
func SetGlobal(logger *Logger) {
	global = logger
}

// Global returns the global logger instance
func Global() *Logger {
	return global
}

// L returns the global logger instance (short form)
func L() *Logger {
	return global
}
