// Package shared holds helpers common to all tablepilot commands.
package shared

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// SetupLogger configures the process logger with pretty console
// output on stderr.
func SetupLogger(debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	logger.SetColorProfile(termenv.ColorProfile())
	return logger
}

// ParseLevel maps a config log level string onto the logger, keeping
// the debug flag as an override.
func ParseLevel(logger *log.Logger, level string, debug bool) {
	if debug {
		logger.SetLevel(log.DebugLevel)
		return
	}
	if parsed, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
}
