//go:build ios

package bridge

const (
	// iosMemoryLimit keeps the app extension hosting the zone client well
	// below its jetsam ceiling.
	iosMemoryLimit = 24 << 20
	iosGCPercent   = 50
)

func init() {
	SetMemoryLimit(iosMemoryLimit, iosGCPercent)
}
