// Package logging builds the zerolog loggers used by the service binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Build collects logger options. The zero value logs JSON at info level to
// stdout.
type Build struct {
	writer  io.Writer
	path    string
	level   string
	console bool
}

// Output is a built logger and the file it writes to, if any.
type Output struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

// New starts a logger build.
func New() *Build {
	return &Build{}
}

// FromPath appends log lines to a file.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromBuffer writes log lines to w.
func (b *Build) FromBuffer(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level sets the minimum level by name ("debug", "info", "warn", ...).
// Unknown names keep info.
func (b *Build) Level(level string) *Build {
	b.level = level
	return b
}

// Console switches to human readable output.
func (b *Build) Console(on bool) *Build {
	b.console = on
	return b
}

// Make builds the logger.
func (b *Build) Make() (*Output, error) {
	out := new(Output)

	var w io.Writer = os.Stdout
	if b.writer != nil {
		w = b.writer
	}
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		out.LogFile = f
		w = zerolog.SyncWriter(f)
	}
	if b.console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: b.path != ""}
	}

	out.Logger = zerolog.New(w).Level(ParseLevel(b.level)).With().Timestamp().Logger()
	return out, nil
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.LogFile == nil {
		return nil
	}
	return o.LogFile.Close()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
