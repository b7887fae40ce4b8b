// Package obslog is the process-wide structured logger. It mirrors the
// teacher's internal/debug package's shape — a package-global optional
// logger, explicit Init(), zero-allocation no-ops when disabled, one line
// per significant event — but is backed by github.com/rs/zerolog instead
// of a hand-rolled formatter, so every line carries structured fields (a
// "component" field plus the key/value pairs each caller passes) rather
// than free text.
package obslog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger *zerolog.Logger
)

// Init installs the global logger at the given verbosity (0 disables
// everything beyond warnings; higher values enable info/debug). w
// defaults to os.Stderr when nil. Verbosity follows the teacher's -v N
// convention (internal/cli root flags).
func Init(w io.Writer, verbosity int) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.WarnLevel
	switch {
	case verbosity >= 2:
		level = zerolog.DebugLevel
	case verbosity == 1:
		level = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano, NoColor: !isTTY(w)}
	l := zerolog.New(cw).Level(level).With().Timestamp().Logger()

	mu.Lock()
	logger = &l
	mu.Unlock()
}

// Quiet disables all logging (spec's -q flag), regardless of verbosity.
func Quiet() {
	mu.Lock()
	logger = nil
	mu.Unlock()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug-level structured line. No-op when the logger is
// unset or below debug level.
func Debug(component, msg string, kv ...any) { log(zerolog.DebugLevel, component, msg, kv) }

// Info logs an info-level structured line.
func Info(component, msg string, kv ...any) { log(zerolog.InfoLevel, component, msg, kv) }

// Warn logs a warn-level structured line.
func Warn(component, msg string, kv ...any) { log(zerolog.WarnLevel, component, msg, kv) }

// Error logs an error-level structured line.
func Error(component, msg string, kv ...any) { log(zerolog.ErrorLevel, component, msg, kv) }

func log(level zerolog.Level, component, msg string, kv []any) {
	l := current()
	if l == nil {
		return
	}
	ev := l.WithLevel(level).Str("component", component)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
