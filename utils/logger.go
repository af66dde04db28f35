package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields are structured key/value pairs attached to log lines.
type Fields map[string]any

// Logger provides leveled, printf-style logging throughout the application.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewLogger creates a Logger writing coloured text lines to stdout at info level.
func NewLogger() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

// NewNopLogger returns a Logger that discards everything. Handy in tests.
func NewNopLogger() *Logger {
	l := NewLogger()
	l.base.SetOutput(io.Discard)
	return l
}

// Configure applies level, format (text|json) and output (stdout|stderr|path).
// File output with maxAgeDays > 0 is rotated by lumberjack.
func (l *Logger) Configure(level, format, output string, maxAgeDays int) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	l.base.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "text", "":
		l.base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		l.base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	switch output {
	case "stdout", "":
		l.base.SetOutput(os.Stdout)
	case "stderr":
		l.base.SetOutput(os.Stderr)
	default:
		if maxAgeDays > 0 {
			l.base.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAgeDays,
				MaxSize:  100,
				Compress: true,
			})
			return nil
		}
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %q: %w", output, err)
		}
		l.base.SetOutput(f)
	}
	return nil
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{base: l.base, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// DebugEnabled reports whether debug lines are currently emitted.
func (l *Logger) DebugEnabled() bool {
	return l.base.IsLevelEnabled(logrus.DebugLevel)
}

func (l *Logger) Info(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.entry.Debugf(format, args...)
}
