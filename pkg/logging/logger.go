// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package logging provides structured logging for the passkey service.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog with level gating and key-value structured output.
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// Options configures logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string

	// Format is "text" or "json". Defaults to text.
	Format string

	// Output defaults to stderr.
	Output io.Writer
}

// New creates a logger from options.
func New(opts *Options) *Logger {
	if opts == nil {
		opts = &Options{}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := slog.LevelInfo
	switch strings.ToLower(opts.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	return &Logger{
		logger: slog.New(handler),
		debug:  level == slog.LevelDebug,
	}
}

// NewLogger creates a text logger at info level, or debug level when debug
// is true.
func NewLogger(debug bool) *Logger {
	level := "info"
	if debug {
		level = "debug"
	}
	return New(&Options{Level: level})
}

// DefaultLogger returns a text logger at info level.
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// With returns a logger carrying the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		debug:  l.debug,
	}
}

// Debug logs a debug message with key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Info logs an informational message with key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning with key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error with key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// MaybeError logs err when it is not nil.
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.logger.Error(err.Error())
	}
}

// Fatalf logs a formatted fatal message and exits.
func (l *Logger) Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}
