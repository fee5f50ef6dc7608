package video

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SkipMode is how many decoded frames share one rendered frame.
type SkipMode int

const (
	ModeNormal SkipMode = iota // Render every frame
	ModeSkip2                  // Render every 2nd frame
	ModeSkip3                  // Render every 3rd frame
)

// ladder rungs, indexed by SkipMode. A zero count disables that move.
var rungs = [...]struct {
	name          string
	renderEvery   uint64
	escalateAfter int // consecutive late frames before moving up
	relaxAfter    int // consecutive good frames before moving down
}{
	ModeNormal: {name: "Normal", renderEvery: 1, escalateAfter: 3},
	ModeSkip2:  {name: "Skip2", renderEvery: 2, escalateAfter: 5, relaxAfter: 60},
	ModeSkip3:  {name: "Skip3", renderEvery: 3, relaxAfter: 30},
}

func (m SkipMode) String() string {
	if m < 0 || int(m) >= len(rungs) {
		return "Unknown"
	}
	return rungs[m].name
}

// FrameSkipper decides whether a decoded frame should be rendered or released
// unrendered, based on how late the pump is running against the frame clock.
// Timestamps are never touched; skipping only changes the render flag.
type FrameSkipper struct {
	lateThreshold time.Duration // later than this is late
	goodThreshold time.Duration // earlier than this is good

	mu   sync.RWMutex
	mode SkipMode
	seen uint64
	late int
	good int
}

// SkipDecision is the verdict for one frame.
type SkipDecision struct {
	ShouldRender bool
	Reason       string
	CurrentMode  SkipMode
}

type FrameSkipperStats struct {
	Mode            SkipMode
	FrameCounter    uint64
	ConsecutiveLate int
	ConsecutiveGood int
}

// NewFrameSkipper creates a frame skipper tuned for a frame period.
// A frame more than one period behind is late; one within a quarter
// period is good.
func NewFrameSkipper(framePeriod time.Duration) *FrameSkipper {
	if framePeriod <= 0 {
		framePeriod = time.Second / 60
	}
	return &FrameSkipper{
		lateThreshold: framePeriod,
		goodThreshold: framePeriod / 4,
	}
}

// Observe records how late the latest frame was (positive = behind schedule)
// and returns whether that frame should be rendered.
func (f *FrameSkipper) Observe(lateness time.Duration) SkipDecision {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen++
	switch {
	case lateness > f.lateThreshold:
		f.late, f.good = f.late+1, 0
	case lateness < f.goodThreshold:
		f.late, f.good = 0, f.good+1
	default:
		f.late, f.good = 0, 0
	}

	rung := rungs[f.mode]
	switch {
	case rung.escalateAfter > 0 && f.late >= rung.escalateAfter:
		f.moveLocked(f.mode+1, lateness)
	case rung.relaxAfter > 0 && f.good >= rung.relaxAfter:
		f.moveLocked(f.mode-1, lateness)
	}

	every := rungs[f.mode].renderEvery
	render := f.seen%every == 0
	verdict := "render"
	if !render {
		verdict = "skip"
	}
	return SkipDecision{
		ShouldRender: render,
		Reason:       fmt.Sprintf("%s:%s", f.mode, verdict),
		CurrentMode:  f.mode,
	}
}

func (f *FrameSkipper) moveLocked(to SkipMode, lateness time.Duration) {
	logrus.WithFields(logrus.Fields{
		"function": "FrameSkipper.Observe",
		"from":     f.mode.String(),
		"to":       to.String(),
		"lateness": lateness,
	}).Info("FrameSkipper: mode changed")
	f.mode = to
	f.late, f.good = 0, 0
}

// Reset returns to ModeNormal and clears the counters.
func (f *FrameSkipper) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode, f.seen, f.late, f.good = ModeNormal, 0, 0, 0
}

func (f *FrameSkipper) GetMode() SkipMode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

func (f *FrameSkipper) GetStats() FrameSkipperStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return FrameSkipperStats{
		Mode:            f.mode,
		FrameCounter:    f.seen,
		ConsecutiveLate: f.late,
		ConsecutiveGood: f.good,
	}
}
