// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets up the global logger from LOG_LEVEL and LOG_FILE.
// Production only shows errors. When LOG_FILE is set logs go there instead
// of stderr so they do not tear the terminal UI.
func Init() (io.Closer, error) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("LOG_LEVEL")))

	path, ok := os.LookupEnv("LOG_FILE")
	if !ok || path == "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return nopCloser{}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return nopCloser{}, fmt.Errorf("open log file: %w", err)
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return f, nil
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level. Unknown values fall
// back to error.
func ParseLevel(l string) zerolog.Level {
	switch l {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
