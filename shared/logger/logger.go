package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a JSON logger tagged with the service name. The level is read
// from LOG_LEVEL (debug, info, warn, error) and defaults to info.
func New(serviceName string) *log.Logger {
	return NewWithWriter(os.Stderr, serviceName, os.Getenv("LOG_LEVEL"))
}

// NewWithWriter is New with an explicit destination and level.
func NewWithWriter(w io.Writer, serviceName, level string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           parseLevel(level),
		Formatter:       log.JSONFormatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Fields:          []interface{}{"service", serviceName},
	})
}

// Discard is a logger for tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func parseLevel(level string) log.Level {
	if level == "" {
		return log.InfoLevel
	}
	l, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return log.InfoLevel
	}
	return l
}
