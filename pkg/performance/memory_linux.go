//go:build linux

package performance

import (
	"syscall"

	"github.com/sirupsen/logrus"
)

// systemMemory reads sysinfo(2). Buffer memory is reclaimable and counts as
// available.
func systemMemory() (totalMB, availableMB uint64) {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		logrus.WithField("function", "systemMemory").WithError(err).Warn("Failed to read sysinfo")
		return 0, 0
	}
	unit := uint64(info.Unit)
	totalMB = uint64(info.Totalram) * unit / mb
	availableMB = (uint64(info.Freeram) + uint64(info.Bufferram)) * unit / mb
	return totalMB, availableMB
}
