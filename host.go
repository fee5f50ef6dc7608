package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/config"
	"hevc-frame/pkg/lifecycle"
	"hevc-frame/pkg/render/sdltarget"
	"hevc-frame/pkg/streamstore"
)

const (
	targetFPS     = 60
	statsInterval = 5 * time.Second
	windowTitle   = "HEVC Frame"
)

// host owns the SDL window and turns its events into surface lifecycle
// calls on the controller. All methods run on the main thread except notify.
type host struct {
	cfg      *config.Config
	width    int
	height   int
	window   *sdl.Window
	renderer *sdl.Renderer
	ctrl     *lifecycle.Controller
	target   *sdltarget.Target

	failures chan error
	handled  <-chan struct{}
	lastLog  time.Time
}

func runHost(ctx context.Context, cfg *config.Config, stream string) error {
	lcCfg, err := cfg.LifecycleSettings()
	if err != nil {
		return err
	}
	factory, probe, err := newBackend(cfg.Decoder)
	if err != nil {
		return err
	}

	h := &host{
		cfg:      cfg,
		width:    lcCfg.Format.Width,
		height:   lcCfg.Format.Height,
		failures: make(chan error, 1),
	}
	h.ctrl, err = lifecycle.New(lcCfg, factory, probe, streamstore.Opener(stream), lifecycle.WithNotifier(h.notify))
	if err != nil {
		return err
	}

	if err := initializeSDL2(); err != nil {
		return err
	}
	defer sdl.Quit()

	screenWidth, screenHeight := getDisplayDimensions()
	logrus.WithFields(logrus.Fields{
		"function": "runHost",
		"stream":   filepath.Base(stream),
		"backend":  cfg.Decoder.Backend,
		"screen":   fmt.Sprintf("%dx%d", screenWidth, screenHeight),
		"format":   lcCfg.Format.String(),
	}).Info("Starting player")

	h.window, err = createWindow(windowTitle, screenWidth, screenHeight)
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	defer h.window.Destroy()
	sdl.ShowCursor(sdl.DISABLE)

	h.renderer, err = createRenderer(h.window)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	defer h.renderer.Destroy()

	h.surfaceCreated()
	defer h.shutdown()

	return h.loop(ctx)
}

// notify is called by the controller, possibly from the pump goroutine.
func (h *host) notify(err error) {
	select {
	case h.failures <- err:
	default:
	}
}

func (h *host) surfaceCreated() {
	if h.target == nil {
		t, err := sdltarget.New(h.renderer, h.width, h.height)
		if err != nil {
			logrus.WithField("function", "host.surfaceCreated").WithError(err).Error("Failed to create display target")
			return
		}
		h.target = t
	}
	// failures reach the user through notify
	_ = h.ctrl.SurfaceCreated(h.target)
}

func (h *host) surfaceDestroyed() {
	if h.target == nil {
		return
	}
	if err := h.ctrl.SurfaceDestroyed(); err != nil {
		logrus.WithField("function", "host.surfaceDestroyed").WithError(err).Warn("Playback did not stop cleanly")
	}
	h.target.Destroy()
	h.target = nil
}

// surfaceReset replaces the target after the renderer lost its textures.
func (h *host) surfaceReset() {
	if h.target == nil {
		return
	}
	t, err := sdltarget.New(h.renderer, h.width, h.height)
	if err != nil {
		logrus.WithField("function", "host.surfaceReset").WithError(err).Error("Failed to recreate display target")
		h.surfaceDestroyed()
		return
	}
	old := h.target
	h.target = t
	_ = h.ctrl.SurfaceChanged(t)
	old.Destroy()
}

func (h *host) shutdown() {
	if err := h.ctrl.Stop(); err != nil {
		logrus.WithField("function", "host.shutdown").WithError(err).Warn("Playback did not stop cleanly")
	}
	if h.target != nil {
		h.target.Destroy()
		h.target = nil
	}
	if stats, ok := h.ctrl.Stats(); ok {
		logrus.WithFields(logrus.Fields{
			"function":  "host.shutdown",
			"submitted": stats.Submitted,
			"released":  stats.Released,
			"rendered":  stats.Exchange.Rendered,
			"dropped":   stats.Exchange.Dropped,
		}).Info("Player shutting down")
	}
}

// handleEvent reports false when the host should exit.
func (h *host) handleEvent(event sdl.Event) bool {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return false
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYDOWN && (e.Keysym.Sym == sdl.K_ESCAPE || e.Keysym.Sym == sdl.K_q) {
			return false
		}
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_MINIMIZED, sdl.WINDOWEVENT_HIDDEN:
			h.surfaceDestroyed()
		case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_SHOWN:
			if h.target == nil {
				h.surfaceCreated()
			}
		case sdl.WINDOWEVENT_SIZE_CHANGED:
			logrus.WithFields(logrus.Fields{
				"function": "host.handleEvent",
				"width":    e.Data1,
				"height":   e.Data2,
			}).Debug("Window resized")
		}
	case *sdl.RenderEvent:
		h.surfaceReset()
	}
	return true
}

// checkFinished handles a pump that ended on its own: loop or stay on the
// last frame.
func (h *host) checkFinished() {
	done := h.ctrl.Done()
	if done == nil || done == h.handled {
		return
	}
	select {
	case <-done:
	default:
		return
	}
	h.handled = done

	if h.target == nil || h.ctrl.State() != lifecycle.Stopped || h.ctrl.Err() != nil {
		return
	}
	entry := logrus.WithField("function", "host.checkFinished")
	if !h.cfg.Stream.Loop {
		entry.Info("Playback finished")
		return
	}
	entry.Info("Playback finished, looping")
	_ = h.ctrl.SurfaceCreated(h.target)
}

func (h *host) showFailures() {
	select {
	case err := <-h.failures:
		title := windowTitle + " - playback failed"
		if errors.Is(err, codec.ErrUnsupportedCodec) {
			title = windowTitle + " - codec not supported on this device"
		}
		h.window.SetTitle(title)
		logrus.WithField("function", "host.showFailures").WithError(err).Error("Playback unavailable")
	default:
	}
}

func (h *host) logStats() {
	if time.Since(h.lastLog) < statsInterval {
		return
	}
	h.lastLog = time.Now()
	stats, ok := h.ctrl.Stats()
	if !ok {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":    "host.logStats",
		"state":       h.ctrl.State().String(),
		"submitted":   stats.Submitted,
		"released":    stats.Released,
		"avg_submit":  fmt.Sprintf("%.2fms", stats.Performance.AvgSubmitMs),
		"avg_render":  fmt.Sprintf("%.2fms", stats.Performance.AvgRenderMs),
		"avg_late":    fmt.Sprintf("%.2fms", stats.Performance.AvgLateMs),
		"drop_rate":   fmt.Sprintf("%.1f%%", stats.Performance.DropRate),
		"healthy":     stats.Performance.IsHealthy,
		"format_chgs": stats.Exchange.FormatChanges,
	}).Info("Playback stats")
}

func (h *host) draw() error {
	if err := h.renderer.SetDrawColor(0, 0, 0, 255); err != nil {
		return err
	}
	if err := h.renderer.Clear(); err != nil {
		return err
	}
	if h.target != nil {
		if _, err := h.target.Upload(); err != nil {
			return err
		}
		w, hgt, err := h.renderer.GetOutputSize()
		if err != nil {
			return err
		}
		if err := h.target.Draw(h.renderer, w, hgt); err != nil {
			return err
		}
	}
	h.renderer.Present()
	return nil
}

// loop runs the SDL event loop until the window closes or ctx ends.
func (h *host) loop(ctx context.Context) error {
	frameTime := time.Second / targetFPS
	for {
		start := time.Now()

		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			if !h.handleEvent(event) {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		h.showFailures()
		h.checkFinished()
		if err := h.draw(); err != nil {
			logrus.WithField("function", "host.loop").WithError(err).Warn("Draw failed")
		}
		h.logStats()

		if elapsed := time.Since(start); elapsed < frameTime {
			sdl.Delay(uint32((frameTime - elapsed) / time.Millisecond))
		}
	}
}
