package quicly

import (
	"fmt"
	"os"
)

// LogLevel gates which trace lines debugf/infof/errorf actually print,
// mirroring quicly.c's QUICLY_DEBUG_LOG compile-time macro and
// quic-go/utils/log.go's runtime level, merged into one runtime switch
// since this module can't use a build tag to strip logging at compile time.
type LogLevel uint8

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelError
	LogLevelNothing
)

var logLevel = LogLevelNothing

// SetLogLevel sets the package-wide trace level.
func SetLogLevel(level LogLevel) {
	logLevel = level
}

func debugf(format string, args ...interface{}) {
	if logLevel == LogLevelDebug {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func infof(format string, args ...interface{}) {
	if logLevel <= LogLevelInfo {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func errorf(format string, args ...interface{}) {
	if logLevel <= LogLevelError {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
