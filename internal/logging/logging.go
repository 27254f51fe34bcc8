// Package logging configures the process-wide logrus logger and carries the
// error helpers used when attachment failures are logged and reported.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Stacktrace is the field name carrying a pkg/errors stack trace.
const Stacktrace = "stacktrace"

// Formats accepted by Configure.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Configure sets level, format and output of the standard logrus logger.
// Logs go to stderr so reports written to stdout stay machine readable.
func Configure(level, format string) error {
	return ConfigureLogger(log.StandardLogger(), os.Stderr, level, format)
}

// ConfigureLogger applies level and format to logger writing to out.
func ConfigureLogger(logger *log.Logger, out io.Writer, level, format string) error {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	logger.SetLevel(lvl)
	logger.SetOutput(out)
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

type causer interface {
	Cause() error
}

type unwrapper interface {
	Unwrap() error
}

// WithStacktrace adds err and, when one is available, its stack trace to entry.
func WithStacktrace(entry *log.Entry, err error) *log.Entry {
	entry = entry.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		entry = entry.WithField(Stacktrace, fmt.Sprintf("%+v", stack))
	}
	return entry
}

// ExtractStack returns the first stack trace found walking down the chain.
func ExtractStack(err error) errors.StackTrace {
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			return st.StackTrace()
		}
		err = next(err)
	}
	return nil
}

// RootCause returns the deepest error in the chain, following both
// pkg/errors causes and standard library wrapping.
func RootCause(err error) error {
	for err != nil {
		n := next(err)
		if n == nil {
			return err
		}
		err = n
	}
	return nil
}

func next(err error) error {
	if c, ok := err.(causer); ok {
		return c.Cause()
	}
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}
