// Package monitoring holds the process-wide diagnostic logger. The core
// packages stay silent; commands and long-running phases report through Logf
// so tests can mute or capture output.
package monitoring

import "log"

// Logf writes one diagnostic line. It defaults to log.Printf and can be
// swapped out with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger installs a replacement logger. nil installs a no-op, which is
// how tests silence the package.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
