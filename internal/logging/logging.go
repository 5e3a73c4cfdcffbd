// SPDX-License-Identifier: Apache-2.0

// Package logging implements the log(level, subsystem, fmt, ...) sink
// over pterm.DefaultLogger. No call here is allowed to fail its
// caller: the sink swallows its own write errors.
package logging

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Level is one of the five log severities.
type Level string

const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelAlert Level = "ALERT"
	LevelError Level = "ERROR"
)

// Logger is the log(level, subsystem, fmt, ...) sink. The zero value
// is not usable; construct with New. A nil *Logger is a valid no-op
// sink, so callers can thread an optional logger without guarding
// every call site.
type Logger struct {
	logger    pterm.Logger
	subsystem string
}

// New builds a Logger tagging every line with subsystem, e.g. "lead",
// "cache", "migrate".
func New(subsystem string) *Logger {
	return &Logger{logger: pterm.DefaultLogger, subsystem: subsystem}
}

// With returns a Logger for a child subsystem, e.g. a per-tier worker
// pool logging under "lead.fast" instead of "lead".
func (l *Logger) With(subsystem string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{logger: l.logger, subsystem: l.subsystem + "." + subsystem}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	entry := l.logger.Args("subsystem", l.subsystem)

	switch level {
	case LevelTrace:
		l.logger.Trace(msg, entry)
	case LevelDebug:
		l.logger.Debug(msg, entry)
	case LevelInfo:
		l.logger.Info(msg, entry)
	case LevelAlert:
		l.logger.Warn(msg, entry)
	case LevelError:
		l.logger.Error(msg, entry)
	}
}

func (l *Logger) Trace(format string, args ...any) { l.log(LevelTrace, format, args...) }
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Alert(format string, args ...any) { l.log(LevelAlert, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
