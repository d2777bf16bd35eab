package healthsync

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `mapstructure:"level"`
	// Encoding is json or console. Defaults to console.
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
	// OutputPath is a file path, "stderr", or "stdout". Defaults to stderr.
	OutputPath string `mapstructure:"output_path"`
}

// NewLogger builds a zap logger from the log configuration.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoding := cfg.Encoding
	if encoding != "json" {
		encoding = "console"
	}
	output := cfg.OutputPath
	if output == "" {
		output = "stderr"
	}

	zc := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		DisableStacktrace: !cfg.Development,
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
	}
	if encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zc.Build()
}

// loggerFor returns the logger implied by the client configuration. Debug
// lowers the level to debug and DebugLogPath redirects output.
func loggerFor(cfg Config) (*zap.Logger, error) {
	if !cfg.Debug && cfg.Log == (LogConfig{}) {
		return zap.NewNop(), nil
	}
	lc := cfg.Log
	if cfg.Debug {
		lc.Level = "debug"
		if cfg.DebugLogPath != "" {
			lc.OutputPath = cfg.DebugLogPath
		}
	}
	return NewLogger(lc)
}
