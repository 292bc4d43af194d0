package log

import (
	"context"
	"log/slog"

	"github.com/tether-protocol/tether-go/pkg/connection"
)

// SlogAdapter writes lifecycle events to an slog.Logger.
// Useful for development when you want to see connection events in
// console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given
// slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Errors and close events log
// at warn level, everything else at debug.
func (a *SlogAdapter) Log(event connection.Event) {
	level := slog.LevelDebug
	msg := "connection"
	var attrs []slog.Attr

	switch e := event.(type) {
	case connection.ConnectingEvent:
		msg = "connecting"
		attrs = append(attrs, slog.String("address", e.Address))

	case connection.OpenEvent:
		level = slog.LevelInfo
		msg = "open"

	case connection.TransportErrorEvent:
		level = slog.LevelWarn
		msg = "transport error"
		attrs = append(attrs, slog.String("error", e.Err.Error()))

	case connection.CloseEvent:
		level = slog.LevelWarn
		msg = "closed"
		attrs = append(attrs,
			slog.Int("code", e.Code),
			slog.String("reason", e.Reason),
			slog.Bool("remote", e.ClosedByRemote),
			slog.Bool("reconnect", e.Reconnect),
		)
		if e.Reconnect {
			attrs = append(attrs, slog.Duration("reconnect_delay", e.ReconnectDelay))
		}

	case connection.ProbeSuccessEvent:
		msg = "probe ok"
		attrs = append(attrs, slog.Duration("rtt", e.RTT))

	case connection.ProbeFailureEvent:
		level = slog.LevelWarn
		msg = "probe failed"
		attrs = append(attrs,
			slog.Int("consecutive", e.Consecutive),
			slog.String("error", e.Err.Error()),
		)

	case connection.ErrorEvent:
		level = slog.LevelError
		msg = "error"
		attrs = append(attrs, slog.String("error", e.Err.Error()))

	case connection.ProtocolErrorEvent:
		level = slog.LevelWarn
		msg = "protocol error"
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	a.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
