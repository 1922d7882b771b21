// Package debug provides conditional debug logging for histviz.
//
// Debug logging is enabled by setting the HV_DEBUG environment variable:
//
//	HV_DEBUG=1 hv -source history.json -frames 300
//
// When enabled, messages go to stderr with timestamps. When disabled (the
// default) every function returns immediately.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const prefix = "[HV_DEBUG] "

var (
	enabled atomic.Bool
	mu      sync.Mutex
	logger  *log.Logger
)

func init() {
	if os.Getenv("HV_DEBUG") != "" {
		SetEnabled(true)
	}
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled turns debug logging on or off, creating the stderr logger on
// first use.
func SetEnabled(e bool) {
	mu.Lock()
	if e && logger == nil {
		logger = log.New(os.Stderr, prefix, log.Ltime|log.Lmicroseconds)
	}
	mu.Unlock()
	enabled.Store(e)
}

// SetOutput redirects debug output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, prefix, log.Ltime|log.Lmicroseconds)
}

func output() *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Log writes a printf-style debug message.
func Log(format string, args ...any) {
	if !Enabled() {
		return
	}
	output().Printf(format, args...)
}

// LogTiming writes "<name> took <d>".
func LogTiming(name string, d time.Duration) {
	if !Enabled() {
		return
	}
	output().Printf("%s took %v", name, d)
}

// LogIf writes a debug message only if cond is true.
func LogIf(cond bool, format string, args ...any) {
	if !cond || !Enabled() {
		return
	}
	output().Printf(format, args...)
}

// LogEnterExit logs entry and, when the returned func runs, exit with timing.
//
//	defer debug.LogEnterExit("Relayout")()
func LogEnterExit(name string) func() {
	if !Enabled() {
		return func() {}
	}
	l := output()
	l.Printf("-> %s", name)
	start := time.Now()
	return func() {
		l.Printf("<- %s (%v)", name, time.Since(start))
	}
}

// Dump logs a value with its type.
func Dump(name string, v any) {
	if !Enabled() {
		return
	}
	output().Printf("%s: %T = %+v", name, v, v)
}

// Assert panics with msg if cond is false. Only active when debug is enabled.
func Assert(cond bool, msg string) {
	if !Enabled() || cond {
		return
	}
	output().Printf("ASSERTION FAILED: %s", msg)
	panic(fmt.Sprintf("debug assertion failed: %s", msg))
}
