// Package logging provides structured logging for HTD Core.
//
// It is a thin wrapper around log/slog that applies the configured level,
// format and destination, and stamps every record with the service name
// and version. Components receive a *Logger (or a package-local Logger
// interface satisfied by it) rather than using a global.
package logging
