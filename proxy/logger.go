package proxy

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the proxy package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger configures the proxy package's logger.
// Cleanups run on the runtime's cleanup goroutine and read the logger
// at that point, so it may be swapped at any time.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
