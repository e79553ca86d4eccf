package bridge

import "runtime/debug"

// SetMemoryLimit caps the Go heap at limit bytes and sets the GC target
// percentage. A non-positive value leaves that setting unchanged. It returns
// the previous limit.
func SetMemoryLimit(limit int64, gcPercent int) int64 {
	previous := debug.SetMemoryLimit(-1)
	if limit > 0 {
		debug.SetMemoryLimit(limit)
	}
	if gcPercent > 0 {
		debug.SetGCPercent(gcPercent)
	}
	return previous
}
