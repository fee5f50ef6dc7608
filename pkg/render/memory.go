package render

import (
	"errors"
	"sync"
	"sync/atomic"

	"hevc-frame/pkg/video"
)

// MemoryTarget is an in-memory Target used for headless playback and tests.
type MemoryTarget struct {
	width  int
	height int
	format video.PixelFormat

	valid atomic.Bool

	mu     sync.Mutex
	pix    []byte
	locked bool
	posts  int
}

// NewMemoryTarget creates a valid target of the given size.
func NewMemoryTarget(width, height int, format video.PixelFormat) *MemoryTarget {
	t := &MemoryTarget{
		width:  width,
		height: height,
		format: format,
		pix:    make([]byte, width*height*format.BytesPerPixel()),
	}
	t.valid.Store(true)
	return t
}

// Valid reports whether the target may be drawn on.
func (t *MemoryTarget) Valid() bool { return t.valid.Load() }

// Invalidate marks the target unusable, as a destroyed surface would be.
func (t *MemoryTarget) Invalidate() { t.valid.Store(false) }

// Revalidate marks the target usable again.
func (t *MemoryTarget) Revalidate() { t.valid.Store(true) }

// LockCanvas returns the pixel buffer. It fails once the target is invalid.
func (t *MemoryTarget) LockCanvas() (*Canvas, error) {
	if !t.valid.Load() {
		return nil, ErrInvalidTarget
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked {
		return nil, errors.New("canvas already locked")
	}
	t.locked = true
	return &Canvas{
		Pix:    t.pix,
		Pitch:  t.width * t.format.BytesPerPixel(),
		Width:  t.width,
		Height: t.height,
		Format: t.format,
	}, nil
}

// UnlockCanvasAndPost releases the lock and counts a post.
func (t *MemoryTarget) UnlockCanvasAndPost(_ *Canvas) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.locked {
		return errors.New("canvas not locked")
	}
	t.locked = false
	t.posts++
	return nil
}

// UnlockCanvas releases the lock without counting a post.
func (t *MemoryTarget) UnlockCanvas(_ *Canvas) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.locked {
		return errors.New("canvas not locked")
	}
	t.locked = false
	return nil
}

// Posts returns how many canvases were posted.
func (t *MemoryTarget) Posts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.posts
}

// Locked reports whether a canvas is currently locked.
func (t *MemoryTarget) Locked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locked
}

// Pixels returns a copy of the current content.
func (t *MemoryTarget) Pixels() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.pix))
	copy(out, t.pix)
	return out
}
