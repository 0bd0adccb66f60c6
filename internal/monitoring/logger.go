// Package monitoring holds the single diagnostic logger shared by every
// fusiond package that logs (cmd/fusiond, receiver, assembler,
// diagnostics), so one
// SetLogger call governs all of them instead of each package wiring its
// own *log.Logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// but may be replaced by SetLogger, which test packages use to silence
// the noisy listener-lifecycle lines emitted by short-lived UDP tests.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the shared logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
