// Package chanlog provides the leveled logging calls used by chanpool.
//
// It follows rclone's fs.Debugf call-site shape (a loggable tag as the
// first argument, a printf-style format after) while routing everything
// through logrus underneath.
package chanlog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Tag is anything that can identify itself in a log line - a
// ManagedChannelPool, a DeferredCall, a ChannelRef.
type Tag interface {
	String() string
}

var std = logrus.StandardLogger()

// SetOutput swaps the logger's output, for use by tests that want to
// assert on emitted lines.
func SetOutput(l *logrus.Logger) {
	std = l
}

// Debugf logs at debug level, tagged with the given loggable.
func Debugf(tag Tag, format string, args ...interface{}) {
	std.Debugf("%s: %s", tag, fmt.Sprintf(format, args...))
}

// Warnf logs at warn level, tagged with the given loggable.
func Warnf(tag Tag, format string, args ...interface{}) {
	std.Warnf("%s: %s", tag, fmt.Sprintf(format, args...))
}

// Errorf logs at error level, tagged with the given loggable.
func Errorf(tag Tag, format string, args ...interface{}) {
	std.Errorf("%s: %s", tag, fmt.Sprintf(format, args...))
}
