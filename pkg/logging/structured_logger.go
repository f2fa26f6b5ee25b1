package logging

import (
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// StructuredLogger provides structured logging with service context
type StructuredLogger struct {
	*slog.Logger
	serviceName    string
	serviceVersion string
	component      string
}

// Config holds configuration for the structured logger
type Config struct {
	Level       LogLevel `json:"level"`
	Format      string   `json:"format"` // "json" or "text"
	ServiceName string   `json:"service_name"`
	Version     string   `json:"version"`
	AddSource   bool     `json:"add_source"`
}

// NewStructuredLogger creates a new structured logger instance
func NewStructuredLogger(config Config) *StructuredLogger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", config.ServiceName),
		slog.String("version", config.Version),
	)

	return &StructuredLogger{
		Logger:         logger,
		serviceName:    config.ServiceName,
		serviceVersion: config.Version,
	}
}

// WithComponent creates a logger scoped to a specific component
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return &StructuredLogger{
		Logger:         sl.Logger.With(slog.String("component", component)),
		serviceName:    sl.serviceName,
		serviceVersion: sl.serviceVersion,
		component:      component,
	}
}

// WithRequest creates a logger carrying per-request context
func (sl *StructuredLogger) WithRequest(requestID, method, path string) *StructuredLogger {
	return &StructuredLogger{
		Logger: sl.Logger.With(
			slog.String("request_id", requestID),
			slog.String("method", method),
			slog.String("path", path),
		),
		serviceName:    sl.serviceName,
		serviceVersion: sl.serviceVersion,
		component:      sl.component,
	}
}

// Component returns the component name this logger is scoped to
func (sl *StructuredLogger) Component() string {
	return sl.component
}

func parseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
