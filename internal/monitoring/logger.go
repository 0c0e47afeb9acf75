package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// debugEnabled gates Debugf. Off by default: per-sample logging at typical
// accelerometer rates (50-100 Hz) would swamp the journal.
var debugEnabled atomic.Bool

// SetDebug toggles Debugf output.
func SetDebug(on bool) { debugEnabled.Store(on) }

// DebugEnabled reports whether per-sample debug logging is on.
func DebugEnabled() bool { return debugEnabled.Load() }

// Debugf logs via Logf only when debug logging has been enabled. Callers on
// hot paths should still avoid building expensive arguments unconditionally;
// guard with DebugEnabled when formatting is costly.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf(format, v...)
	}
}
