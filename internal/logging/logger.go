// Package logging prints progress and errors to the console, colored when attached to a terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

const (
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	reset  = "\033[0m"
)

// Logger writes results to out and errors to errOut.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	color    bool
	errColor bool
	verbose  bool
}

// NewLogger returns a Logger writing to stdout and stderr.
func NewLogger(colorMode string, verbose bool) *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr, colorMode, verbose)
}

func NewLoggerTo(out, errOut io.Writer, colorMode string, verbose bool) *Logger {
	return &Logger{
		out:      out,
		errOut:   errOut,
		color:    useColor(out, colorMode),
		errColor: useColor(errOut, colorMode),
		verbose:  verbose,
	}
}

func useColor(w io.Writer, colorMode string) bool {
	switch strings.ToLower(colorMode) {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" || strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func ValidColorMode(colorMode string) bool {
	switch colorMode {
	case ColorAuto, ColorAlways, ColorNever:
		return true
	}
	return false
}

func (l *Logger) line(w io.Writer, color bool, code, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if color && code != "" {
		_, _ = io.WriteString(w, code+text+reset+"\n")
		return
	}
	_, _ = io.WriteString(w, text+"\n")
}

// Out is where result lines are written; used for counts formatted elsewhere.
func (l *Logger) Out() io.Writer {
	return l.out
}

func (l *Logger) Verbose() bool {
	return l.verbose
}

func (l *Logger) Info(format string, a ...interface{}) {
	l.line(l.out, l.color, "", fmt.Sprintf(format, a...))
}

func (l *Logger) Success(format string, a ...interface{}) {
	l.line(l.out, l.color, green, fmt.Sprintf(format, a...))
}

func (l *Logger) Warn(format string, a ...interface{}) {
	l.line(l.errOut, l.errColor, yellow, fmt.Sprintf(format, a...))
}

// Error writes to the error stream in red.
func (l *Logger) Error(format string, a ...interface{}) {
	l.line(l.errOut, l.errColor, red, fmt.Sprintf(format, a...))
}

// Debug is a no-op unless the logger is verbose.
func (l *Logger) Debug(format string, a ...interface{}) {
	if !l.verbose {
		return
	}
	l.line(l.out, l.color, cyan, "debug: "+fmt.Sprintf(format, a...))
}
