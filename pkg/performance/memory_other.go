//go:build !linux

package performance

// systemMemory is not available here; callers treat zero as unknown.
func systemMemory() (totalMB, availableMB uint64) { return 0, 0 }
