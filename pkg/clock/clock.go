// Package clock maps frame indices to presentation timestamps and paces the
// release of decoded frames against the wall clock.
package clock

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidFrameRate is returned when the configured frame rate is not positive.
var ErrInvalidFrameRate = errors.New("frame rate must be positive")

// TimeProvider abstracts wall-clock access so pacing can be tested without
// real sleeps.
type TimeProvider interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// After waits for the duration to elapse and then sends the current time.
func (DefaultTimeProvider) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FrameClock computes presentation times for a fixed frame rate.
type FrameClock struct {
	frameRate int64
	tp        TimeProvider
}

// New creates a frame clock for frameRate frames per second.
func New(frameRate int, tp TimeProvider) (*FrameClock, error) {
	if frameRate <= 0 {
		return nil, ErrInvalidFrameRate
	}
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	return &FrameClock{frameRate: int64(frameRate), tp: tp}, nil
}

// FrameRate returns the configured rate in frames per second.
func (c *FrameClock) FrameRate() int { return int(c.frameRate) }

// FramePeriod returns the nominal duration of one frame.
func (c *FrameClock) FramePeriod() time.Duration {
	return time.Second / time.Duration(c.frameRate)
}

// Now returns the current wall-clock time.
func (c *FrameClock) Now() time.Time { return c.tp.Now() }

// PresentationTime returns the presentation timestamp in microseconds of the
// frameIndex-th frame: frameIndex * 1_000_000 / frameRate, integer division.
func (c *FrameClock) PresentationTime(frameIndex int64) int64 {
	return frameIndex * 1_000_000 / c.frameRate
}

// SleepTime returns how long to wait before a frame with the given timestamp
// is due, relative to the session start. The timestamp is truncated to whole
// milliseconds before it is added to start. A negative result is how late
// the frame already is.
func (c *FrameClock) SleepTime(presentationUs int64, sessionStart time.Time) time.Duration {
	expected := sessionStart.Add(time.Duration(presentationUs/1000) * time.Millisecond)
	return expected.Sub(c.tp.Now())
}

// PaceUntil suspends the caller until the frame with the given timestamp is
// due. It returns the computed sleep time (negative when late, with no
// suspension). If ctx is cancelled before or during the wait, it returns
// immediately with ctx.Err().
func (c *FrameClock) PaceUntil(ctx context.Context, presentationUs int64, sessionStart time.Time) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sleep := c.SleepTime(presentationUs, sessionStart)
	if sleep <= 0 {
		return sleep, nil
	}

	select {
	case <-c.tp.After(sleep):
		return sleep, nil
	case <-ctx.Done():
		return sleep, ctx.Err()
	}
}
