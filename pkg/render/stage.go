package render

import (
	"errors"
	"sync"
	"sync/atomic"

	"hevc-frame/pkg/video"
)

// Stage is a double-buffered Target. The decode side draws into the back
// buffer and posts it; the display side takes the latest posted frame on
// its own thread. Frames posted faster than they are taken replace each
// other.
type Stage struct {
	width  int
	height int
	format video.PixelFormat
	pitch  int

	valid atomic.Bool

	mu     sync.Mutex
	back   []byte
	front  []byte
	locked bool
	dirty  bool
	posted uint64
	taken  uint64
}

// NewStage creates a valid stage of the given size.
func NewStage(width, height int, format video.PixelFormat) *Stage {
	pitch := width * format.BytesPerPixel()
	s := &Stage{
		width:  width,
		height: height,
		format: format,
		pitch:  pitch,
		back:   make([]byte, pitch*height),
		front:  make([]byte, pitch*height),
	}
	s.valid.Store(true)
	return s
}

// Size returns the stage dimensions in pixels.
func (s *Stage) Size() (int, int) { return s.width, s.height }

func (s *Stage) Valid() bool { return s.valid.Load() }

// Invalidate marks the stage unusable. Pending frames are dropped.
func (s *Stage) Invalidate() {
	s.valid.Store(false)
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

func (s *Stage) LockCanvas() (*Canvas, error) {
	if !s.valid.Load() {
		return nil, ErrInvalidTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, errors.New("canvas already locked")
	}
	s.locked = true
	return &Canvas{
		Pix:    s.back,
		Pitch:  s.pitch,
		Width:  s.width,
		Height: s.height,
		Format: s.format,
	}, nil
}

// UnlockCanvasAndPost swaps the drawn buffer to the front.
func (s *Stage) UnlockCanvasAndPost(_ *Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return errors.New("canvas not locked")
	}
	s.locked = false
	if !s.valid.Load() {
		return ErrInvalidTarget
	}
	s.back, s.front = s.front, s.back
	s.dirty = true
	s.posted++
	return nil
}

// UnlockCanvas releases the back buffer without swapping it to the front.
func (s *Stage) UnlockCanvas(_ *Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return errors.New("canvas not locked")
	}
	s.locked = false
	return nil
}

// Take hands the latest posted frame to fn and reports whether there was
// one. fn must not keep pix after returning.
func (s *Stage) Take(fn func(pix []byte, pitch int) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return false, nil
	}
	s.dirty = false
	s.taken++
	return true, fn(s.front, s.pitch)
}

// Counts returns how many frames were posted and taken.
func (s *Stage) Counts() (posted, taken uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted, s.taken
}
