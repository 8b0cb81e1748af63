// Package monitoring holds the diagnostic logger shared by the controller,
// camera, GPIO and stream packages.
package monitoring

import "log"

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

// Infof logs a routine event.
func Infof(format string, v ...interface{}) {
	Logf("[info] "+format, v...)
}

// Warnf logs a degraded but recoverable condition (missing camera, lamp write
// failure, capture error on a viewer stream).
func Warnf(format string, v ...interface{}) {
	Logf("[warn] "+format, v...)
}

// Errorf logs a failure that leaves part of the system unavailable.
func Errorf(format string, v ...interface{}) {
	Logf("[error] "+format, v...)
}
