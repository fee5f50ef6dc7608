package render

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/video"
)

// Outcome reports what happened to a frame handed to the renderer.
type Outcome int

const (
	// Presented means the frame was drawn and posted to the target.
	Presented Outcome = iota
	// Skipped means no valid target or canvas was available; nothing was drawn.
	Skipped
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == Presented {
		return "presented"
	}
	return "skipped"
}

// Stats counts renderer outcomes.
type Stats struct {
	Presented uint64
	Skipped   uint64
	Failed    uint64
}

// Renderer draws frames onto whatever target its Holder currently supplies.
// Lock, draw and post for a single frame happen under one critical section,
// and the canvas is always unlocked once it has been locked. A frame that
// fails to draw is discarded when the target is a Discarder.
type Renderer struct {
	holder Holder

	mu sync.Mutex

	presented atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// NewRenderer creates a renderer bound to holder.
func NewRenderer(holder Holder) *Renderer {
	return &Renderer{holder: holder}
}

// Present draws frame on the holder's current target.
func (r *Renderer) Present(frame *video.Frame) (Outcome, error) {
	var t Target
	if r.holder != nil {
		t = r.holder.Target()
	}
	return r.PresentTo(frame, t)
}

// PresentTo draws frame on t. A nil or invalid target, or a nil canvas, is a
// skip and not an error.
func (r *Renderer) PresentTo(frame *video.Frame, t Target) (outcome Outcome, err error) {
	if t == nil || !t.Valid() {
		r.skipped.Add(1)
		return Skipped, nil
	}
	if err := frame.Validate(); err != nil {
		r.failed.Add(1)
		return Skipped, fmt.Errorf("present: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	canvas, err := t.LockCanvas()
	if err != nil {
		// The target may have been invalidated between the check and the lock.
		if !t.Valid() {
			r.skipped.Add(1)
			return Skipped, nil
		}
		r.failed.Add(1)
		return Skipped, fmt.Errorf("lock canvas: %w", err)
	}
	if canvas == nil {
		r.skipped.Add(1)
		return Skipped, nil
	}

	defer func() {
		if err != nil {
			if d, ok := t.(Discarder); ok {
				if derr := d.UnlockCanvas(canvas); derr != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Renderer.PresentTo",
						"error":    derr.Error(),
					}).Warn("Failed to discard canvas")
				}
				return
			}
		}
		uerr := t.UnlockCanvasAndPost(canvas)
		if uerr != nil && err == nil && !t.Valid() {
			r.skipped.Add(1)
			outcome = Skipped
			return
		}
		if uerr != nil && err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Renderer.PresentTo",
				"error":    uerr.Error(),
			}).Warn("Failed to post canvas")
			r.failed.Add(1)
			outcome, err = Skipped, fmt.Errorf("post canvas: %w", uerr)
			return
		}
		if err == nil {
			r.presented.Add(1)
		}
	}()

	if err := Blit(canvas, frame); err != nil {
		r.failed.Add(1)
		return Skipped, fmt.Errorf("draw: %w", err)
	}
	return Presented, nil
}

// Stats returns a snapshot of outcome counters.
func (r *Renderer) Stats() Stats {
	return Stats{
		Presented: r.presented.Load(),
		Skipped:   r.skipped.Load(),
		Failed:    r.failed.Load(),
	}
}
