package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultPerms = 0o0600

//nolint:gochecknoglobals
var loggerSetTimeFormat sync.Once

// Logger extends zerolog's Logger.
type Logger struct {
	zerolog.Logger
}

// NewLogger returns the run logger. With an empty output path it writes
// human-readable colored lines to stderr, keeping stdout free for the
// plan/summary output; with a path it writes raw JSON to that file.
func NewLogger(level, output string) Logger {
	loggerSetTimeFormat.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		panic(err)
	}

	zerolog.SetGlobalLevel(lvl)

	var writer io.Writer

	if output == "" {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	} else {
		file, err := os.OpenFile(output, os.O_APPEND|os.O_WRONLY|os.O_CREATE, defaultPerms)
		if err != nil {
			panic(err)
		}

		writer = file
	}

	return Logger{Logger: zerolog.New(writer).With().Timestamp().Logger()}
}

// NewAuditLogger opens a plain timestamped JSON logger used to record
// every delete decision taken against the registry. Returns nil when no
// audit output is configured.
func NewAuditLogger(level, output string) *Logger {
	if output == "" {
		return nil
	}

	loggerSetTimeFormat.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		panic(err)
	}

	zerolog.SetGlobalLevel(lvl)

	auditFile, err := os.OpenFile(output, os.O_APPEND|os.O_WRONLY|os.O_CREATE, defaultPerms)
	if err != nil {
		panic(err)
	}

	return &Logger{Logger: zerolog.New(auditFile).With().Timestamp().Logger()}
}
