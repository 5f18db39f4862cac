// Package logging provides a simple leveled logging interface for the
// thumbnail service, backed by log/slog.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable (or
// DEBUG=true). Text output goes through a tint handler; Configure switches
// to JSON. Components log through Tag("Name") so every record carries the
// component tag.
package logging
