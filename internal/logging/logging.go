// Package logging writes one JSON object per line through zerolog, in the
// shape the migration and tracing setup have always logged: ts, level,
// component, event and flat fields.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger emits JSON lines with ts, level, component and event fields.
// It is safe for concurrent use.
type Logger struct {
	base zerolog.Logger
	zl   zerolog.Logger
	loc  *time.Location
}

// New returns a Logger writing to w with timestamps in loc.
func New(w io.Writer, loc *time.Location) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if loc == nil {
		loc = time.UTC
	}
	zl := zerolog.New(zerolog.SyncWriter(w))
	return &Logger{base: zl, zl: zl, loc: loc}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop(), zl: zerolog.Nop(), loc: time.UTC}
}

// With returns a Logger sharing the same output, tagged with component.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		base: l.base,
		zl:   l.base.With().Str("component", component).Logger(),
		loc:  l.loc,
	}
}

// Location returns the timezone used for timestamps.
func (l *Logger) Location() *time.Location {
	return l.loc
}

// Info logs an informational event.
func (l *Logger) Info(event string, fields map[string]any) {
	l.send(l.zl.Info(), event, fields)
}

// Warn logs a recoverable problem.
func (l *Logger) Warn(event string, fields map[string]any) {
	l.send(l.zl.Warn(), event, fields)
}

// Error logs a failure. err is stored under error_message.
func (l *Logger) Error(event string, err error, fields map[string]any) {
	e := l.zl.Error()
	if err != nil {
		e = e.Str("error_message", err.Error())
	}
	l.send(e, event, fields)
}

// send stamps ts in the logger's timezone; zerolog's own Timestamp hook
// reads a process-wide clock setting.
func (l *Logger) send(e *zerolog.Event, event string, fields map[string]any) {
	if e == nil {
		return
	}
	e.Str("ts", time.Now().In(l.loc).Format(time.RFC3339Nano)).
		Str("event", event).
		Fields(fields).
		Send()
}
