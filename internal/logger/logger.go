// Package logger provides a small, centralized logging facility with
// configurable verbosity levels.
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Warnings are always emitted when Info is enabled.
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("fitting smile")
//	logger.Debugf("spot=%f strikes=%d", spot, n)
package logger

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

var base = log.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	SetVerbosity(int(Info))
}

// SetVerbosity sets the global logging verbosity.
// Typically called once during application startup
// (e.g. after parsing CLI flags). Values outside the
// known range are clamped.
func SetVerbosity(v int) {
	switch Level(v) {
	case Error:
		base.SetLevel(log.ErrorLevel)
	case Info:
		base.SetLevel(log.InfoLevel)
	case Debug:
		base.SetLevel(log.DebugLevel)
	default:
		if v < 0 {
			base.SetLevel(log.ErrorLevel)
			return
		}
		base.SetLevel(log.TraceLevel)
	}
}

// Verbosity reports the active level.
func Verbosity() Level {
	switch base.GetLevel() {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		return Error
	case log.WarnLevel, log.InfoLevel:
		return Info
	case log.DebugLevel:
		return Debug
	default:
		return Trace
	}
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]any) *log.Entry {
	return base.WithFields(log.Fields(fields))
}

// Errorf logs an error-level message.
// Use this for failures that require attention.
func Errorf(format string, args ...any) {
	base.Errorf(format, args...)
}

// Warnf logs a recoverable problem such as a rejected input row.
func Warnf(format string, args ...any) {
	base.Warnf(format, args...)
}

// Infof logs an informational message.
// Use this for major lifecycle events.
func Infof(format string, args ...any) {
	base.Infof(format, args...)
}

// Debugf logs debugging information.
func Debugf(format string, args ...any) {
	base.Debugf(format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	base.Tracef(format, args...)
}
