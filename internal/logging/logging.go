// Package logging configures the process-wide zerolog logger for Alpha.
// Libraries log through the package-level zerolog/log logger; this package
// decides once where that output goes and how verbose it is.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logger behavior.
type Config struct {
	Level    string `mapstructure:"level" yaml:"level"`         // debug, info, warn, error
	Format   string `mapstructure:"format" yaml:"format"`       // console or json
	FilePath string `mapstructure:"file_path" yaml:"file_path"` // optional persistent sink
}

// Setup installs the global logger. It returns a closer for the optional
// log file; callers should defer it.
func Setup(cfg Config) (func() error, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if strings.EqualFold(cfg.Format, "json") {
		out = os.Stderr
	}

	closer := func() error { return nil }
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f.Close
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
