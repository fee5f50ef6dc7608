package performance

import (
	"runtime"

	"github.com/sirupsen/logrus"
)

const mb = 1024 * 1024

// Pressure grades how little memory is left for decoding.
type Pressure int

const (
	PressureNone     Pressure = iota // >800MB available
	PressureLow                      // 400-800MB
	PressureMedium                   // 200-400MB
	PressureHigh                     // 100-200MB
	PressureCritical                 // <100MB
)

func (p Pressure) String() string {
	switch p {
	case PressureNone:
		return "None"
	case PressureLow:
		return "Low"
	case PressureMedium:
		return "Medium"
	case PressureHigh:
		return "High"
	case PressureCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// PressureFor grades an amount of available memory.
func PressureFor(availableMB uint64) Pressure {
	switch {
	case availableMB < 100:
		return PressureCritical
	case availableMB < 200:
		return PressureHigh
	case availableMB < 400:
		return PressureMedium
	case availableMB < 800:
		return PressureLow
	default:
		return PressureNone
	}
}

// MemorySnapshot combines system memory with this process's Go heap.
// TotalMB and AvailableMB are zero when the platform reports nothing.
type MemorySnapshot struct {
	TotalMB     uint64
	AvailableMB uint64
	HeapMB      uint64
	GoSysMB     uint64
	NumGC       uint32
}

// Snapshot reads the current memory state.
func Snapshot() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := MemorySnapshot{
		HeapMB:  m.HeapAlloc / mb,
		GoSysMB: m.Sys / mb,
		NumGC:   m.NumGC,
	}
	s.TotalMB, s.AvailableMB = systemMemory()
	return s
}

// Pressure grades the snapshot. Unknown system memory counts as no pressure.
func (s MemorySnapshot) Pressure() Pressure {
	if s.TotalMB == 0 {
		return PressureNone
	}
	return PressureFor(s.AvailableMB)
}

// Fits reports whether footprintMB more can be allocated without entering
// high pressure.
func (s MemorySnapshot) Fits(footprintMB uint64) bool {
	if s.TotalMB == 0 {
		return true
	}
	if footprintMB >= s.AvailableMB {
		return false
	}
	return PressureFor(s.AvailableMB-footprintMB) < PressureHigh
}

// SessionFootprintMB estimates the RGBA picture memory of one decode
// session: every output slot plus the renderer's two staging buffers.
func SessionFootprintMB(width, height, outputSlots int) uint64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	frame := uint64(width) * uint64(height) * 4
	return (frame*uint64(max(outputSlots, 0)+2) + mb - 1) / mb
}

// LogMemorySnapshot logs the current snapshot at debug level, or as a
// warning once available memory is under high pressure.
func LogMemorySnapshot(fields logrus.Fields) {
	s := Snapshot()
	entry := logrus.WithFields(fields).WithFields(logrus.Fields{
		"sys_total_mb": s.TotalMB,
		"sys_avail_mb": s.AvailableMB,
		"go_heap_mb":   s.HeapMB,
		"go_sys_mb":    s.GoSysMB,
		"num_gc":       s.NumGC,
		"pressure":     s.Pressure().String(),
	})
	if s.Pressure() >= PressureHigh {
		entry.Warn("Memory: running low")
		return
	}
	entry.Debug("Memory snapshot")
}
