// Package render copies decoded frames onto a drawing surface that the host
// may replace or invalidate at any time.
package render

import (
	"errors"
	"sync/atomic"

	"hevc-frame/pkg/video"
)

// ErrInvalidTarget is returned by targets that are locked after they stopped
// being valid.
var ErrInvalidTarget = errors.New("render target is not valid")

// Canvas is a locked, writable view of a target's pixels.
type Canvas struct {
	Pix    []byte
	Pitch  int
	Width  int
	Height int
	Format video.PixelFormat
}

// Target is a surface owned by the host. Valid may flip to false at any
// time from another goroutine; a Target must not be drawn on after that.
type Target interface {
	Valid() bool
	// LockCanvas returns a writable canvas, or nil when none is available.
	LockCanvas() (*Canvas, error)
	// UnlockCanvasAndPost publishes the canvas content and releases the lock.
	UnlockCanvasAndPost(c *Canvas) error
}

// Discarder is implemented by targets that can release a locked canvas
// without publishing what was drawn on it.
type Discarder interface {
	UnlockCanvas(c *Canvas) error
}

// Holder supplies the current target. It is re-read before every use, so a
// swap by the host is picked up on the next frame.
type Holder interface {
	Target() Target
}

// AtomicHolder is a Holder the host can update without locking the reader.
type AtomicHolder struct {
	v atomic.Pointer[targetBox]
}

type targetBox struct{ t Target }

// Set stores the current target. nil clears it.
func (h *AtomicHolder) Set(t Target) {
	if t == nil {
		h.v.Store(nil)
		return
	}
	h.v.Store(&targetBox{t: t})
}

// Target returns the current target or nil.
func (h *AtomicHolder) Target() Target {
	b := h.v.Load()
	if b == nil {
		return nil
	}
	return b.t
}
