// Package monitoring holds the process-wide diagnostic loggers shared by the
// sensor driver and the daemon.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf is the verbose diagnostic logger. It is a no-op unless enabled by
// SetDebug; the decoder uses it to report discarded bytes and rejected frames,
// which is far too chatty for normal operation.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables verbose logging. When enabled, Debugf writes
// through the current Logf.
func SetDebug(enabled bool) {
	if enabled {
		Debugf = func(format string, v ...interface{}) {
			Logf(format, v...)
		}
		return
	}
	Debugf = func(string, ...interface{}) {}
}
