// Package log provides the package-level logger used throughout upnpclient.
//
// The library is silent by default (sink is io.Discard): importing it must
// never cause output or file I/O a caller didn't ask for. Call Logging or
// SetLogger to opt in.
package log

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

var log = zerolog.New(io.Discard)

// Logging configures the package logger from the UPNPCLIENT_LOG_LEVEL and
// UPNPCLIENT_LOG_STDERR environment variables and attaches it to ctx. It
// never touches the filesystem; embed upnpclient in a larger program and
// call SetLogger directly if file-backed logging is wanted.
func Logging(ctx context.Context) (context.Context, error) {
	var (
		levelString = os.Getenv("UPNPCLIENT_LOG_LEVEL")
		level       = zerolog.InfoLevel
		err         error
	)
	if levelString != "" {
		level, err = zerolog.ParseLevel(levelString)
		if err != nil {
			return ctx, err
		}
	}

	output := io.Writer(io.Discard)
	if os.Getenv("UPNPCLIENT_LOG_STDERR") != "" {
		output = os.Stderr
	}

	logContext := zerolog.New(output).
		Level(level).
		With().
		Timestamp()
	if level == zerolog.DebugLevel {
		logContext = logContext.
			Stack().
			Caller()
	}

	log = logContext.Logger()

	return log.WithContext(ctx), nil
}

// SetLogger replaces the package logger, letting an embedding application
// route upnpclient's log output through its own zerolog.Logger.
func SetLogger(l zerolog.Logger) {
	log = l
}

// Logger returns the current package logger.
func Logger() *zerolog.Logger {
	return &log
}
