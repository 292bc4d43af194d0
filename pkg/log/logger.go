package log

import "github.com/tether-protocol/tether-go/pkg/connection"

// Logger consumes lifecycle events for observability.
type Logger interface {
	Log(event connection.Event)
}

// Listener adapts a Logger into a connection event listener.
func Listener(l Logger) connection.Listener {
	return func(e connection.Event) {
		l.Log(e)
	}
}

// MultiLogger fans events out to several loggers.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that forwards to all given loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log forwards the event to every registered logger.
func (m *MultiLogger) Log(event connection.Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
