// Package pump runs the decode loop: each iteration offers one chunk of the
// elementary stream to the decoder and drains at most one decoded output,
// pacing presentation against the frame clock.
package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/clock"
	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/performance"
	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

// State of a pump.
type State int32

const (
	Running State = iota
	// Draining means end of input was submitted and the pump waits for the
	// decoder's end-of-stream output.
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a pump.
type Config struct {
	ChunkSize     int
	InputTimeout  time.Duration
	OutputTimeout time.Duration
	// LogEvery logs progress every N submitted chunks; 0 disables it.
	LogEvery int
	// AdaptiveSkip releases consistently late frames without rendering them.
	AdaptiveSkip   bool
	ReportInterval time.Duration
}

// DefaultConfig returns 128 KiB chunks, 10 ms slot waits and progress logs
// every 30 chunks.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      128 * 1024,
		InputTimeout:   10 * time.Millisecond,
		OutputTimeout:  10 * time.Millisecond,
		LogEvery:       30,
		ReportInterval: 5 * time.Second,
	}
}

// Validate rejects values that would make the loop block or spin.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	case c.InputTimeout <= 0 || c.OutputTimeout <= 0:
		return errors.New("slot timeouts must be positive")
	case c.LogEvery < 0:
		return errors.New("log interval must not be negative")
	}
	return nil
}

// Source opens the byte source. It is called once per Run, and the returned
// stream is closed before Run returns.
type Source func() (io.ReadCloser, error)

// Stats is a snapshot of pump progress.
type Stats struct {
	State       State
	Submitted   int64
	Released    int64
	Exchange    codec.ExchangeStats
	Performance performance.Report
}

// Option configures a Pump.
type Option func(*Pump)

// WithMonitor records timings into m instead of a private monitor.
func WithMonitor(m *performance.Monitor) Option {
	return func(p *Pump) { p.monitor = m }
}

// WithLogFields adds fields, such as a session id, to every log line.
func WithLogFields(fields logrus.Fields) Option {
	return func(p *Pump) {
		for k, v := range fields {
			p.fields[k] = v
		}
	}
}

// Pump drives one Exchange until end of stream, error or cancellation.
type Pump struct {
	ex      *codec.Exchange
	open    Source
	clock   *clock.FrameClock
	cfg     Config
	monitor *performance.Monitor
	skipper *video.FrameSkipper
	fields  logrus.Fields

	state     atomic.Int32
	submitted atomic.Int64
	released  atomic.Int64
	ran       atomic.Bool

	// owned by the Run goroutine
	sourceDone   bool
	sawInputEnd  bool
	sawOutputEnd bool
}

// New creates a pump. It does not touch the decoder or the source.
func New(ex *codec.Exchange, open Source, clk *clock.FrameClock, cfg Config, opts ...Option) (*Pump, error) {
	if ex == nil || open == nil || clk == nil {
		return nil, errors.New("pump needs an exchange, a source and a clock")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultConfig().ReportInterval
	}

	p := &Pump{
		ex:     ex,
		open:   open,
		clock:  clk,
		cfg:    cfg,
		fields: logrus.Fields{"decoder": ex.Decoder().Name()},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.monitor == nil {
		p.monitor = performance.NewMonitor(120, clk.FramePeriod())
	}
	if cfg.AdaptiveSkip {
		p.skipper = video.NewFrameSkipper(clk.FramePeriod())
	}
	return p, nil
}

// State returns the current pump state.
func (p *Pump) State() State { return State(p.state.Load()) }

// Stats returns a snapshot of progress counters.
func (p *Pump) Stats() Stats {
	return Stats{
		State:       p.State(),
		Submitted:   p.submitted.Load(),
		Released:    p.released.Load(),
		Exchange:    p.ex.Stats(),
		Performance: p.monitor.GetReport(),
	}
}

func (p *Pump) log(function string) *logrus.Entry {
	return logrus.WithFields(p.fields).WithField("function", function)
}

// Run executes the loop. It returns nil after the decoder's end-of-stream
// output, an error wrapping codec.ErrCancelled when ctx is cancelled, and
// other errors for source or decoder failures. A pump runs at most once.
func (p *Pump) Run(ctx context.Context) error {
	if err := p.ex.Claim(); err != nil {
		return err
	}
	defer p.ex.Unclaim()
	if !p.ran.CompareAndSwap(false, true) {
		return errors.New("pump already ran")
	}
	defer p.state.Store(int32(Terminated))

	src, err := p.open()
	if err != nil {
		return fmt.Errorf("%w: open: %w", codec.ErrSourceRead, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			p.log("Pump.Run").WithError(cerr).Warn("Pump: failed to close source")
		}
	}()

	chunk := make([]byte, p.cfg.ChunkSize)
	start := p.clock.Now()
	p.state.Store(int32(Running))
	p.log("Pump.Run").WithField("chunk_size", p.cfg.ChunkSize).Info("Pump: started")

	for {
		if err := ctx.Err(); err != nil {
			return p.cancelled(err)
		}

		if !p.sawInputEnd {
			if err := p.feedInput(src, chunk); err != nil {
				return err
			}
		}

		done, err := p.drainOutput(ctx, start)
		if err != nil {
			return err
		}
		if done {
			p.log("Pump.Run").WithField("frames", p.submitted.Load()).
				Infof("Pump: decoding completed. Total frames: %d", p.submitted.Load())
			p.monitor.Log(p.fields)
			return nil
		}
	}
}

func (p *Pump) cancelled(cause error) error {
	p.log("Pump.Run").WithField("frames", p.submitted.Load()).Info("Pump: cancelled")
	return fmt.Errorf("%w: %w", codec.ErrCancelled, cause)
}

// feedInput offers at most one chunk. A timed-out slot acquisition is not an
// error; the iteration simply moves on to the output side.
func (p *Pump) feedInput(src io.Reader, chunk []byte) error {
	slot, err := p.ex.AcquireInputSlot(p.cfg.InputTimeout)
	if err != nil {
		return err
	}
	if slot == codec.NoneAvailable {
		return nil
	}

	frameIndex := p.submitted.Load()
	pts := p.clock.PresentationTime(frameIndex)

	if p.sourceDone {
		return p.submitEndOfStream(slot, chunk, pts)
	}

	n, rerr := src.Read(chunk)
	switch {
	case n > 0:
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return fmt.Errorf("%w: %w", codec.ErrSourceRead, rerr)
		}
		t0 := p.clock.Now()
		if err := p.ex.SubmitInput(slot, chunk, n, pts, false); err != nil {
			return err
		}
		p.monitor.RecordSubmit(p.clock.Now().Sub(t0))
		count := p.submitted.Add(1)
		if p.cfg.LogEvery > 0 && count%int64(p.cfg.LogEvery) == 0 {
			p.log("Pump.feedInput").WithFields(logrus.Fields{
				"frame":  count,
				"pts_us": pts,
				"bytes":  n,
			}).Infof("Pump: submitted frame %d", count)
		}
		if rerr != nil {
			// data and EOF together: end of input goes out on the next free slot
			p.sourceDone = true
		}
		return nil

	case rerr == nil || errors.Is(rerr, io.EOF):
		return p.submitEndOfStream(slot, chunk, pts)

	default:
		return fmt.Errorf("%w: %w", codec.ErrSourceRead, rerr)
	}
}

func (p *Pump) submitEndOfStream(slot int, chunk []byte, pts int64) error {
	if err := p.ex.SubmitInput(slot, chunk, 0, pts, true); err != nil {
		return err
	}
	p.sawInputEnd = true
	p.state.Store(int32(Draining))
	p.log("Pump.feedInput").WithFields(logrus.Fields{
		"frames": p.submitted.Load(),
		"pts_us": pts,
	}).Info("Pump: input EOS reached")
	return nil
}

// drainOutput handles at most one output event and reports whether the
// end-of-stream output was seen.
func (p *Pump) drainOutput(ctx context.Context, start time.Time) (bool, error) {
	out, err := p.ex.AcquireOutputSlot(p.cfg.OutputTimeout)
	if err != nil {
		return false, err
	}

	switch out.Kind {
	case codec.OutputTryAgain:
		return false, nil
	case codec.OutputFormatChanged:
		p.log("Pump.drainOutput").WithField("format", out.Format.String()).Info("Pump: output format changed")
		return false, nil
	case codec.OutputBuffersChanged:
		p.log("Pump.drainOutput").Debug("Pump: output buffers changed")
		return false, nil
	}

	info := out.Info
	if info.EndOfStream() {
		p.sawOutputEnd = true
		p.log("Pump.drainOutput").WithField("pts_us", info.PresentationUs).Info("Pump: output EOS reached")
	}

	renderFrame := true
	if p.skipper != nil && info.Size > 0 {
		lateness := -p.clock.SleepTime(info.PresentationUs, start)
		renderFrame = p.skipper.Observe(lateness).ShouldRender
	}

	t0 := p.clock.Now()
	outcome, err := p.ex.ReleaseOutput(out.Slot, renderFrame)
	if err != nil {
		return false, err
	}
	if info.Size > 0 {
		p.monitor.RecordRelease(p.clock.Now().Sub(t0), outcome == render.Presented)
		p.released.Add(1)
	}

	sleep, err := p.clock.PaceUntil(ctx, info.PresentationUs, start)
	p.monitor.RecordPacing(sleep)
	if err != nil {
		return false, p.cancelled(err)
	}
	p.monitor.MaybeLog(p.fields, p.cfg.ReportInterval)

	return p.sawOutputEnd, nil
}
