// Package logger provides vnfsd's structured logging, a slog-based
// replacement for the C original's scattered fprintf(stderr, ...) call
// sites. Severity names and the JSON/text handler split mirror the
// teacher's (gcsfuse) internal/logger package.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Severity mirrors gcsfuse's TRACE..ERROR ladder, one rung finer than
// slog's own four built-in levels.
type Severity int

const (
	LevelTrace Severity = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelOff
)

// slogLevel maps a Severity onto the slog.Level it's implemented with.
// TRACE has no first-class slog level, so it is carried one notch below
// slog.LevelDebug.
func (s Severity) slogLevel() slog.Level {
	switch s {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

func (s Severity) String() string {
	switch s {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "OFF"
	}
}

// ParseSeverity maps a config string (TRACE..ERROR, case-insensitive) onto
// a Severity, defaulting to LevelInfo for anything unrecognized.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(s) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "OFF":
		return LevelOff
	default:
		return LevelInfo
	}
}

type factory struct{}

var defaultLoggerFactory = factory{}

// createJsonOrTextHandler builds the slog.Handler backing the package
// logger, matching the teacher's constructor name and signature shape so
// the two codebases read as siblings.
func (factory) createJsonOrTextHandler(w io.Writer, json bool, level Severity, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			if a.Key == slog.MessageKey && prefix != "" {
				a.Value = slog.StringValue(prefix + a.Value.String())
			}
			return a
		},
	}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	defaultLogger *slog.Logger
	programLevel  = LevelInfo
)

func init() {
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, false, programLevel, ""))
}

// Init reconfigures the package-level logger. json selects JSON output
// over the default logfmt-ish text.
func Init(w io.Writer, json bool, level Severity) {
	programLevel = level
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, json, level, ""))
}

func log(ctx context.Context, severity Severity, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	defaultLogger.Log(ctx, severity.slogLevel(), msg, "severity", severity.String())
}

func Tracef(format string, args ...any) { log(context.Background(), LevelTrace, format, args...) }
func Debugf(format string, args ...any) { log(context.Background(), LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log(context.Background(), LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log(context.Background(), LevelWarning, format, args...) }
func Errorf(format string, args ...any) { log(context.Background(), LevelError, format, args...) }
