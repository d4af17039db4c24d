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

// Prefixed routes Debugf calls to Logf with a component prefix such as
// "[invoke] ". It satisfies the Logger interfaces of the worker packages.
type Prefixed string

// Debugf logs through the current package logger.
func (p Prefixed) Debugf(format string, v ...interface{}) {
	Logf(string(p)+format, v...)
}
