// Package log holds the process-wide zap logger shared by the zone client
// packages. Components that are not handed an explicit logger fall back to L.
package log

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// SetLogger replaces the process-wide logger. A nil logger installs a no-op
// logger.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	current.Store(logger)
}

// L returns the process-wide logger.
func L() *zap.Logger {
	return current.Load()
}

// Or returns logger when it is non-nil and the process-wide logger otherwise.
func Or(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return L()
}
