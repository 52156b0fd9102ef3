package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with application-specific methods
type Logger struct {
	zerolog.Logger
}

// New creates a new Logger instance
func New(level string, format string) *Logger {
	// Set global log level
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var logger zerolog.Logger

	if format == "text" || format == "console" {
		// Human-readable output for development
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	} else {
		// JSON output for production
		logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}

	return &Logger{Logger: logger}
}

// Nop returns a disabled logger, useful for tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.New(io.Discard)}
}

// WithRequestID returns a new logger with the request ID attached
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With().Str("request_id", requestID).Logger(),
	}
}

// WithContact returns a new logger with the contact email attached
func (l *Logger) WithContact(email string) *Logger {
	return &Logger{
		Logger: l.With().Str("contact", email).Logger(),
	}
}

// WithComponent returns a new logger with the component name attached
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With().Str("component", component).Logger(),
	}
}

// WithRun returns a new logger with the batch run ID attached
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.With().Str("run_id", runID).Logger(),
	}
}

// HTTPRequest logs an HTTP request. Server errors log at error level and
// client errors at warn.
func (l *Logger) HTTPRequest(method, path string, statusCode, bytes int, duration time.Duration, clientIP string) {
	event := l.Info()
	switch {
	case statusCode >= 500:
		event = l.Error()
	case statusCode >= 400:
		event = l.Warn()
	}
	event.
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Int("bytes", bytes).
		Dur("duration", duration).
		Str("client_ip", clientIP).
		Msg("HTTP request")
}

// AuditLog records a consent or lifecycle change for a contact
func (l *Logger) AuditLog(email, action, source string, metadata map[string]interface{}) {
	event := l.Info().
		Str("audit", "true").
		Str("contact", email).
		Str("action", action).
		Str("source", source)

	if metadata != nil {
		event.Interface("metadata", metadata)
	}

	event.Msg("audit log")
}
