// Package log provides observability for connection lifecycle events.
//
// A Logger consumes the closed set of events the supervisor emits.
// SlogAdapter maps them onto structured slog records; MultiLogger fans
// one stream out to several sinks.
package log
