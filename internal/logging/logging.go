package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthands/wukong/internal/config"
)

// Setup creates a zerolog logger according to the provided configuration.
// Output goes to w, or stderr when w is nil, so stdout stays free for query results.
func Setup(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	if w == nil {
		w = os.Stderr
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "text", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(level), nil
}
