// Package logging provides structured logging for Fleet Core.
//
// It wraps log/slog with configuration-driven level filtering, JSON or
// text output, and default service fields. Components receive a child
// logger via With("component", ...) so every line is attributable.
package logging
