// logger.go: Diagnostic logging
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"io"
	"log/slog"
	"os"
)

// Logger receives engine diagnostics as key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger is a Logger backed by log/slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger returns a text logger writing to stderr at level.
func NewDefaultLogger(level slog.Level) *DefaultLogger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewLogger wraps an arbitrary slog handler.
func NewLogger(handler slog.Handler) *DefaultLogger {
	return &DefaultLogger{logger: slog.New(handler)}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DefaultLogger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

const prefix = "[mnemos] "

func (d *DefaultLogger) Debug(msg string, args ...any) {
	d.logger.Debug(prefix+msg, args...)
}

func (d *DefaultLogger) Info(msg string, args ...any) {
	d.logger.Info(prefix+msg, args...)
}

func (d *DefaultLogger) Warn(msg string, args ...any) {
	d.logger.Warn(prefix+msg, args...)
}

func (d *DefaultLogger) Error(msg string, args ...any) {
	d.logger.Error(prefix+msg, args...)
}
