// Package lifecycle owns a decoder session from configuration to release and
// reacts to the host's display surface appearing, changing and going away.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/clock"
	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/performance"
	"hevc-frame/pkg/pump"
	"hevc-frame/pkg/render"
)

// State of the controller.
type State int32

const (
	Idle State = iota
	Configured
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Configured:
		return "CONFIGURED"
	case Started:
		return "STARTED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInvalidTransition indicates a lifecycle call made in the wrong state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrNoTarget indicates Configure was called without a display target.
	ErrNoTarget = errors.New("no display target")

	// ErrJoinTimeout indicates the pump did not stop within the join timeout.
	// The session is torn down regardless.
	ErrJoinTimeout = errors.New("decode pump did not stop within join timeout")
)

// output queue depth assumed when estimating a session's picture memory
const typicalOutputSlots = 4

// Config describes the sessions a controller creates.
type Config struct {
	Format      codec.Format
	Pump        pump.Config
	JoinTimeout time.Duration
}

// Validate checks the format, the pump settings and the join timeout.
func (c Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if err := c.Pump.Validate(); err != nil {
		return err
	}
	if c.JoinTimeout <= 0 {
		return errors.New("join timeout must be positive")
	}
	return nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the function that surfaces session failures to the user.
// It is never called with the controller lock held.
func WithNotifier(fn func(error)) Option {
	return func(c *Controller) { c.notify = fn }
}

// WithTimeProvider replaces the wall clock used for pacing and joins.
func WithTimeProvider(tp clock.TimeProvider) Option {
	return func(c *Controller) { c.tp = tp }
}

type session struct {
	id      string
	dec     codec.Decoder
	pump    *pump.Pump
	monitor *performance.Monitor
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	teardown sync.Once
}

// Controller drives IDLE -> CONFIGURED -> STARTED -> STOPPED. Its methods are
// meant to be called from the host's UI goroutine; the pump runs on its own
// goroutine and is the only user of the decoder while the session is started.
type Controller struct {
	cfg     Config
	factory codec.Factory
	probe   codec.Probe
	source  pump.Source
	tp      clock.TimeProvider
	notify  func(error)

	holder   render.AtomicHolder
	renderer *render.Renderer

	mu     sync.Mutex
	state  State
	target render.Target
	sess   *session
	last   *session

	// probe verdict for cfg.Format.MIME, kept once answered
	probed    bool
	supported bool
}

// New creates an idle controller.
func New(cfg Config, factory codec.Factory, probe codec.Probe, source pump.Source, opts ...Option) (*Controller, error) {
	if factory == nil || source == nil {
		return nil, errors.New("controller needs a decoder factory and a source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrConfiguration, err)
	}
	if probe == nil {
		probe = codec.FactoryProbe{Factory: factory}
	}

	c := &Controller{
		cfg:     cfg,
		factory: factory,
		probe:   probe,
		source:  source,
		tp:      clock.DefaultTimeProvider{},
		notify:  func(error) {},
	}
	c.renderer = render.NewRenderer(&c.holder)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) log(function string) *logrus.Entry {
	entry := logrus.WithField("function", function)
	if c.sess != nil {
		entry = entry.WithField("session", c.sess.id)
	}
	return entry
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current session, or "" when there is none.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Done returns a channel closed when the most recent pump exits. It is nil
// before the first Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.sess != nil && c.sess.done != nil:
		return c.sess.done
	case c.last != nil:
		return c.last.done
	default:
		return nil
	}
}

// Err returns the error the most recent pump finished with. Cancellation by
// Stop is not an error.
func (c *Controller) Err() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		sess = c.last
	}
	c.mu.Unlock()

	if sess == nil || sess.done == nil {
		return nil
	}
	select {
	case <-sess.done:
		return sess.err
	default:
		return nil
	}
}

// Stats returns the running or most recent pump's statistics.
func (c *Controller) Stats() (pump.Stats, bool) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		sess = c.last
	}
	c.mu.Unlock()

	if sess == nil || sess.pump == nil {
		return pump.Stats{}, false
	}
	return sess.pump.Stats(), true
}

// Renderer returns the renderer fed by pull-mode decoders.
func (c *Controller) Renderer() *render.Renderer { return c.renderer }

// Configure creates a decoder for the configured MIME type and binds it to
// target. On failure the controller stays IDLE and the error wraps
// codec.ErrConfiguration.
func (c *Controller) Configure(target render.Target) error {
	c.mu.Lock()
	err := c.configureLocked(target)
	c.mu.Unlock()

	if err != nil {
		c.notify(err)
	}
	return err
}

func (c *Controller) configureLocked(target render.Target) error {
	if c.state == Configured || c.state == Started {
		return fmt.Errorf("%w: configure while %s", ErrInvalidTransition, c.state)
	}
	c.state = Idle
	// A nil target would otherwise be stored as a non-nil interface.
	if target == nil {
		return fmt.Errorf("%w: %w", codec.ErrConfiguration, ErrNoTarget)
	}

	format := c.cfg.Format
	supported, err := c.supportedLocked(format.MIME)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %w", codec.ErrConfiguration, format.MIME, err)
	}
	if !supported {
		return fmt.Errorf("%w: %w: %s", codec.ErrConfiguration, codec.ErrUnsupportedCodec, format.MIME)
	}

	dec, err := c.factory.CreateDecoderByType(format.MIME)
	if err != nil {
		return fmt.Errorf("%w: create decoder: %w", codec.ErrConfiguration, err)
	}
	if err := dec.Configure(format, target); err != nil {
		if rerr := dec.Release(); rerr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Controller.Configure",
				"error":    rerr.Error(),
			}).Warn("Lifecycle: failed to release rejected decoder")
		}
		return fmt.Errorf("%w: configure %s: %w", codec.ErrConfiguration, dec.Name(), err)
	}

	c.target = target
	c.holder.Set(target)
	c.sess = &session{id: uuid.NewString(), dec: dec}
	c.state = Configured

	c.log("Controller.Configure").WithFields(logrus.Fields{
		"decoder": dec.Name(),
		"format":  format.String(),
	}).Info("Lifecycle: configured")
	return nil
}

// supportedLocked asks the probe once per controller. Probe errors are not
// kept, so a later Configure asks again.
func (c *Controller) supportedLocked(mime string) (bool, error) {
	if c.probed {
		return c.supported, nil
	}
	ok, err := c.probe.Supports(mime)
	if err != nil {
		return false, err
	}
	c.probed, c.supported = true, ok
	c.log("Controller.Configure").WithFields(logrus.Fields{
		"mime":      mime,
		"supported": ok,
	}).Debug("Lifecycle: capability probed")
	return ok, nil
}

// Start starts the configured decoder and spawns the decode pump.
func (c *Controller) Start() error {
	c.mu.Lock()
	err := c.startLocked()
	c.mu.Unlock()

	if err != nil {
		c.notify(err)
	}
	return err
}

func (c *Controller) startLocked() error {
	if c.state != Configured {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, c.state)
	}
	sess := c.sess

	fail := func(err error) error {
		c.teardownLocked(sess)
		c.sess = nil
		c.last = sess
		c.state = Idle
		return err
	}

	clk, err := clock.New(c.cfg.Format.FrameRate, c.tp)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", codec.ErrConfiguration, err))
	}
	sess.monitor = performance.NewMonitor(120, clk.FramePeriod())

	ex := codec.NewExchange(sess.dec, c.renderer)
	p, err := pump.New(ex, c.source, clk, c.cfg.Pump,
		pump.WithMonitor(sess.monitor),
		pump.WithLogFields(logrus.Fields{"session": sess.id}))
	if err != nil {
		return fail(fmt.Errorf("%w: %w", codec.ErrConfiguration, err))
	}

	need := performance.SessionFootprintMB(c.cfg.Format.Width, c.cfg.Format.Height, typicalOutputSlots)
	if mem := performance.Snapshot(); !mem.Fits(need) {
		c.log("Controller.Start").WithFields(logrus.Fields{
			"need_mb":  need,
			"avail_mb": mem.AvailableMB,
		}).Warn("Lifecycle: low memory for decode session, frames may be dropped")
	}

	if err := sess.dec.Start(); err != nil {
		return fail(fmt.Errorf("%w: start %s: %w", codec.ErrDecoder, sess.dec.Name(), err))
	}
	sess.started = true
	sess.pump = p

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	sess.done = make(chan struct{})
	c.state = Started

	performance.LogMemorySnapshot(logrus.Fields{"session": sess.id})
	c.log("Controller.Start").WithField("direct", ex.Direct()).Info("Lifecycle: started")

	go c.supervise(ctx, sess)
	return nil
}

// supervise runs the pump and tears the session down when the pump ends on
// its own. When Stop ended it, Stop does the teardown.
func (c *Controller) supervise(ctx context.Context, sess *session) {
	err := sess.pump.Run(ctx)
	if errors.Is(err, codec.ErrCancelled) {
		err = nil
	}
	sess.err = err
	close(sess.done)

	entry := logrus.WithFields(logrus.Fields{"function": "Controller.supervise", "session": sess.id})
	if err != nil {
		entry.WithError(err).Error("Lifecycle: decode pump failed")
	} else {
		entry.Info("Lifecycle: decode pump finished")
	}

	c.mu.Lock()
	if c.sess == sess && c.state == Started {
		c.teardownLocked(sess)
		c.sess = nil
		c.last = sess
		c.state = Stopped
	}
	c.mu.Unlock()

	if err != nil {
		c.notify(err)
	}
}

// Stop cancels the pump, waits up to the join timeout, then stops and
// releases the decoder. It is safe to call in any state.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	sess := c.sess
	switch c.state {
	case Idle, Stopped:
		return nil
	case Configured:
		c.teardownLocked(sess)
		c.sess = nil
		c.last = sess
		c.state = Stopped
		return nil
	}

	var joinErr error
	sess.cancel()
	select {
	case <-sess.done:
	case <-c.tp.After(c.cfg.JoinTimeout):
		joinErr = ErrJoinTimeout
		c.log("Controller.Stop").WithField("join_timeout", c.cfg.JoinTimeout).
			Error("Lifecycle: decode pump did not stop in time, releasing decoder anyway")
	}

	c.teardownLocked(sess)
	c.sess = nil
	c.last = sess
	c.state = Stopped
	return joinErr
}

// teardownLocked stops and releases the session's decoder exactly once.
func (c *Controller) teardownLocked(sess *session) {
	if sess == nil {
		return
	}
	sess.teardown.Do(func() {
		entry := logrus.WithFields(logrus.Fields{"function": "Controller.teardown", "session": sess.id})
		if sess.cancel != nil {
			sess.cancel()
		}
		if sess.started {
			if err := sess.dec.Stop(); err != nil {
				entry.WithError(err).Warn("Lifecycle: decoder stop failed")
			}
		}
		if err := sess.dec.Release(); err != nil {
			entry.WithError(err).Warn("Lifecycle: decoder release failed")
		}
		if sess.monitor != nil {
			sess.monitor.Log(logrus.Fields{"session": sess.id})
		}
		performance.LogMemorySnapshot(logrus.Fields{"session": sess.id})
		entry.Info("Lifecycle: session released")
	})
}

// SurfaceCreated configures and starts a session on target unless one is
// already running on it.
func (c *Controller) SurfaceCreated(target render.Target) error {
	c.mu.Lock()
	err := c.surfaceCreatedLocked(target)
	c.mu.Unlock()

	if err != nil {
		c.notify(err)
	}
	return err
}

func (c *Controller) surfaceCreatedLocked(target render.Target) error {
	switch c.state {
	case Started:
		if c.target == target {
			return nil
		}
		return c.restartLocked(target)
	case Configured:
		if err := c.stopLocked(); err != nil && !errors.Is(err, ErrJoinTimeout) {
			return err
		}
	}
	if err := c.configureLocked(target); err != nil {
		return err
	}
	return c.startLocked()
}

// SurfaceChanged handles a resized or replaced surface. The same target is
// picked up by the renderer on the next frame; a new one forces a full stop
// and reconfiguration.
func (c *Controller) SurfaceChanged(target render.Target) error {
	c.mu.Lock()
	var err error
	switch {
	case c.state != Started && c.state != Configured:
		err = c.surfaceCreatedLocked(target)
	case c.target == target:
		c.log("Controller.SurfaceChanged").Debug("Lifecycle: surface changed in place")
	case c.state == Configured:
		err = c.surfaceCreatedLocked(target)
	default:
		err = c.restartLocked(target)
	}
	c.mu.Unlock()

	if err != nil {
		c.notify(err)
	}
	return err
}

func (c *Controller) restartLocked(target render.Target) error {
	c.log("Controller.SurfaceChanged").Info("Lifecycle: surface replaced, reconfiguring")
	c.holder.Set(nil)
	if err := c.stopLocked(); err != nil && !errors.Is(err, ErrJoinTimeout) {
		return err
	}
	if err := c.configureLocked(target); err != nil {
		return err
	}
	return c.startLocked()
}

// SurfaceDestroyed stops the session. The renderer stops drawing before the
// pump is joined.
func (c *Controller) SurfaceDestroyed() error {
	c.holder.Set(nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log("Controller.SurfaceDestroyed").Info("Lifecycle: surface destroyed")
	err := c.stopLocked()
	c.target = nil
	return err
}
