// Package logging builds the zap loggers used by the simlink commands.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel overrides Config.Level when set.
const EnvLogLevel = "SIMLINK_LOG_LEVEL"

type Config struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
	// Encoding is "json" or "console". Empty picks console in development
	// mode and json otherwise.
	Encoding string `toml:"encoding"`
}

func DefaultConfig() Config {
	return Config{Level: "info"}
}

// New returns a logger for cfg, after applying EnvLogLevel.
func New(cfg Config) (*zap.Logger, error) {
	if env := strings.TrimSpace(os.Getenv(EnvLogLevel)); env != "" {
		cfg.Level = env
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	// Commands print results on stdout; logs stay on stderr.
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	return zcfg.Build()
}

// ParseLevel accepts zap level names plus "trace" and "warning" aliases.
// An empty string means info.
func ParseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return zapcore.DebugLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logging: %w", err)
	}
	return level, nil
}
