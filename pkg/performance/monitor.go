// Package performance keeps rolling timing statistics for a decode session.
package performance

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RollingAverage maintains a rolling average of durations over a fixed window
type RollingAverage struct {
	samples []time.Duration
	sum     time.Duration
	max     time.Duration
	index   int
	filled  bool
	mu      sync.RWMutex
}

// NewRollingAverage creates a rolling average tracker with specified window size
func NewRollingAverage(windowSize int) *RollingAverage {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &RollingAverage{samples: make([]time.Duration, windowSize)}
}

// Add records a new sample
func (r *RollingAverage) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled {
		r.sum -= r.samples[r.index]
	}
	r.samples[r.index] = d
	r.sum += d
	if d > r.max {
		r.max = d
	}

	r.index++
	if r.index == len(r.samples) {
		r.index = 0
		r.filled = true
	}
}

// Average returns the mean of the samples in the window, or 0 with none
func (r *RollingAverage) Average() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.countLocked()
	if count == 0 {
		return 0
	}
	return r.sum / time.Duration(count)
}

// Max returns the largest sample seen since the last Reset
func (r *RollingAverage) Max() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.max
}

// Count returns the number of samples currently tracked
func (r *RollingAverage) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked()
}

func (r *RollingAverage) countLocked() int {
	if r.filled {
		return len(r.samples)
	}
	return r.index
}

// Reset clears all samples
func (r *RollingAverage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sum = 0
	r.max = 0
	r.index = 0
	r.filled = false
	clear(r.samples)
}

// Monitor tracks decode pump timing: how long input submission and frame
// presentation take, and how late frames are against the frame clock.
type Monitor struct {
	framePeriod time.Duration

	submitTimes *RollingAverage
	renderTimes *RollingAverage
	lateness    *RollingAverage

	submitted  int
	released   int
	rendered   int
	dropped    int
	lateFrames int
	startTime  time.Time
	lastReport time.Time

	mu sync.RWMutex
}

// Report contains aggregated performance metrics
type Report struct {
	AvgSubmitMs   float64 // average QueueInputBuffer round trip
	AvgRenderMs   float64 // average release + present time
	AvgLateMs     float64 // average lateness over the window, on-time frames count as 0
	MaxLateMs     float64
	DropRate      float64 // percentage of released frames not presented
	Submitted     int
	Released      int
	Rendered      int
	Dropped       int
	LateFrames    int
	IsHealthy     bool
	UptimeSeconds int64
}

// NewMonitor creates a monitor averaging over windowSize frames
// (120 = 2 seconds at 60fps). framePeriod is the nominal frame duration.
func NewMonitor(windowSize int, framePeriod time.Duration) *Monitor {
	now := time.Now()
	return &Monitor{
		framePeriod: framePeriod,
		submitTimes: NewRollingAverage(windowSize),
		renderTimes: NewRollingAverage(windowSize),
		lateness:    NewRollingAverage(windowSize),
		startTime:   now,
		lastReport:  now,
	}
}

// RecordSubmit records the time one input submission took
func (p *Monitor) RecordSubmit(duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submitTimes.Add(duration)
	p.submitted++
}

// RecordRelease records an output release. rendered is false for frames
// released without presentation.
func (p *Monitor) RecordRelease(duration time.Duration, rendered bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.released++
	if rendered {
		p.renderTimes.Add(duration)
		p.rendered++
	} else {
		p.dropped++
	}
}

// RecordPacing records the sleep computed by the frame clock. A negative
// sleep means the frame was late by that much.
func (p *Monitor) RecordPacing(sleep time.Duration) {
	if sleep >= 0 {
		p.lateness.Add(0)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lateness.Add(-sleep)
	if -sleep > p.framePeriod {
		p.lateFrames++
	}
}

// GetReport generates a report with current metrics
func (p *Monitor) GetReport() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dropRate := 0.0
	if p.released > 0 {
		dropRate = float64(p.dropped) / float64(p.released) * 100.0
	}

	avgLate := p.lateness.Average()
	avgRender := p.renderTimes.Average()

	// Healthy: under 1% drops and presentation fits in one frame period
	isHealthy := dropRate < 1.0 && (p.framePeriod <= 0 || (avgRender < p.framePeriod && avgLate < p.framePeriod))

	return Report{
		AvgSubmitMs:   ms(p.submitTimes.Average()),
		AvgRenderMs:   ms(avgRender),
		AvgLateMs:     ms(avgLate),
		MaxLateMs:     ms(p.lateness.Max()),
		DropRate:      dropRate,
		Submitted:     p.submitted,
		Released:      p.released,
		Rendered:      p.rendered,
		Dropped:       p.dropped,
		LateFrames:    p.lateFrames,
		IsHealthy:     isHealthy,
		UptimeSeconds: int64(time.Since(p.startTime).Seconds()),
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// IsPerformanceDegrading returns true if frames are dropping or running
// consistently more than two frame periods behind
func (p *Monitor) IsPerformanceDegrading() bool {
	report := p.GetReport()
	periodMs := ms(p.framePeriod)
	return report.DropRate > 5.0 || (periodMs > 0 && report.AvgLateMs > 2*periodMs)
}

// MaybeLog logs a report when at least interval passed since the last one.
func (p *Monitor) MaybeLog(fields logrus.Fields, interval time.Duration) {
	p.mu.Lock()
	if time.Since(p.lastReport) < interval {
		p.mu.Unlock()
		return
	}
	p.lastReport = time.Now()
	p.mu.Unlock()

	p.Log(fields)
}

// Log writes the current report through logrus.
func (p *Monitor) Log(fields logrus.Fields) {
	r := p.GetReport()
	entry := logrus.WithFields(fields).WithFields(logrus.Fields{
		"avg_submit_ms": r.AvgSubmitMs,
		"avg_render_ms": r.AvgRenderMs,
		"avg_late_ms":   r.AvgLateMs,
		"max_late_ms":   r.MaxLateMs,
		"rendered":      r.Rendered,
		"dropped":       r.Dropped,
		"late_frames":   r.LateFrames,
		"drop_rate":     r.DropRate,
	})
	if r.IsHealthy {
		entry.Debug("Performance: healthy")
		return
	}
	entry.Warn("Performance: degraded")
}

// Reset clears all metrics
func (p *Monitor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.submitTimes.Reset()
	p.renderTimes.Reset()
	p.lateness.Reset()
	p.submitted = 0
	p.released = 0
	p.rendered = 0
	p.dropped = 0
	p.lateFrames = 0
	p.startTime = time.Now()
}
