// Package gstreamer decodes raw HEVC and H.264 streams through a GStreamer
// pipeline:
//
//	appsrc → h265parse → decoder → videoconvert → videoscale → capsfilter(RGBA) → appsink
//
// Pictures are pulled from the appsink and handed out through
// codec.PixelSource.
package gstreamer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"hevc-frame/pkg/clock"
	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

type elements struct {
	caps     string
	parser   string
	decoders []string
}

// decoder elements in preference order; the software decoder comes last
var byMIME = map[string]elements{
	video.MIMEHEVC: {
		caps:     "video/x-h265,stream-format=byte-stream",
		parser:   "h265parse",
		decoders: []string{"v4l2slh265dec", "vaapih265dec", "avdec_h265"},
	},
	video.MIMEH264: {
		caps:     "video/x-h264,stream-format=byte-stream",
		parser:   "h264parse",
		decoders: []string{"v4l2h264dec", "vaapih264dec", "avdec_h264"},
	},
}

var initOnce sync.Once

func initGStreamer() { initOnce.Do(func() { gst.Init(nil) }) }

// Options size the slot queues.
type Options struct {
	InputSlots  int
	OutputSlots int
	// Decoder forces one decoder element, e.g. "avdec_h265".
	Decoder string
}

func (o Options) withDefaults() Options {
	if o.InputSlots <= 0 {
		o.InputSlots = 4
	}
	if o.OutputSlots <= 0 {
		o.OutputSlots = 4
	}
	return o
}

type state int

const (
	stateCreated state = iota
	stateConfigured
	stateStarted
	stateStopped
	stateReleased
)

type decoded struct {
	info  codec.BufferInfo
	frame *video.Frame
}

// Decoder feeds chunks into appsrc and collects RGBA samples from appsink.
// Samples arrive on GStreamer's streaming thread; the dequeue calls wait on
// them up to their timeout.
type Decoder struct {
	mime string
	opts Options

	// set by Configure, read-only afterwards
	name     string
	format   codec.Format
	clock    *clock.FrameClock
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	mu         sync.Mutex
	changed    chan struct{}
	state      state
	freeInput  []int
	heldInput  map[int]bool
	freeOutput []int
	heldOutput map[int]decoded
	pending    []decoded
	announced  bool
	samples    int64
	eosPts     int64
	failure    error
	stopBus    chan struct{}
	busDone    chan struct{}
}

// New creates an unconfigured decoder for mime.
func New(mime string, opts Options) (*Decoder, error) {
	if _, ok := byMIME[mime]; !ok {
		return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedCodec, mime)
	}
	return &Decoder{mime: mime, opts: opts.withDefaults(), changed: make(chan struct{})}, nil
}

// NewFactory returns a factory creating decoders with opts.
func NewFactory(opts Options) codec.Factory {
	return codec.FactoryFunc(func(mime string) (codec.Decoder, error) {
		return New(mime, opts)
	})
}

// Name returns the decoder element in use once configured.
func (d *Decoder) Name() string {
	if d.name == "" {
		return "gstreamer"
	}
	return "gstreamer/" + d.name
}

func (d *Decoder) pickDecoder() (string, error) {
	els := byMIME[d.mime]
	names := els.decoders
	if d.opts.Decoder != "" {
		names = append([]string{d.opts.Decoder}, names...)
	}
	for _, name := range names {
		if gst.Find(name) != nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no GStreamer decoder element for %s", codec.ErrUnsupportedCodec, d.mime)
}

// Configure builds the pipeline in the NULL state. The target is not used.
func (d *Decoder) Configure(format codec.Format, _ render.Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated {
		return fmt.Errorf("%w: configure in state %d", codec.ErrInvalidState, d.state)
	}
	if err := format.Validate(); err != nil {
		return err
	}
	if format.MIME != d.mime {
		return fmt.Errorf("%w: decoder created for %s, configured for %s", codec.ErrInvalidFormat, d.mime, format.MIME)
	}
	clk, err := clock.New(format.FrameRate, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", codec.ErrInvalidFormat, err)
	}

	initGStreamer()
	name, err := d.pickDecoder()
	if err != nil {
		return err
	}
	if err := d.buildPipeline(name, format); err != nil {
		return fmt.Errorf("%w: %w", codec.ErrDecoder, err)
	}

	d.name = name
	d.format = format
	d.clock = clk
	d.state = stateConfigured
	logrus.WithFields(logrus.Fields{
		"function": "gstreamer.Configure",
		"decoder":  name,
		"format":   format.String(),
	}).Info("GStreamer: pipeline created")
	return nil
}

func (d *Decoder) buildPipeline(decoderName string, format codec.Format) error {
	els := byMIME[d.mime]

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return fmt.Errorf("failed to create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(els.caps))
	src.SetProperty("is-live", false)

	parser, err := gst.NewElement(els.parser)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", els.parser, err)
	}
	dec, err := gst.NewElement(decoderName)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", decoderName, err)
	}
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", format.Width, format.Height)))

	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", d.opts.OutputSlots)

	pipeline.AddMany(src.Element, parser, dec, converter, scaler, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src.Element, parser, dec, converter, scaler, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to link pipeline: %w", err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onSample,
	})

	d.pipeline = pipeline
	d.src = src
	d.sink = sink
	return nil
}

// onSample runs on the streaming thread.
func (d *Decoder) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	frame := video.NewFrame(d.format.Width, d.format.Height, video.PixelFormatRGBA)
	n := copy(frame.Pix, data)
	buffer.Unmap()
	if n < len(frame.Pix) {
		logrus.WithFields(logrus.Fields{
			"function": "gstreamer.onSample",
			"bytes":    len(data),
		}).Warn("GStreamer: short sample dropped")
		return gst.FlowOK
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateStarted {
		return gst.FlowFlushing
	}
	frame.PresentationUs = d.clock.PresentationTime(d.samples)
	d.samples++
	d.pending = append(d.pending, decoded{
		info:  codec.BufferInfo{Size: len(frame.Pix), PresentationUs: frame.PresentationUs},
		frame: frame,
	})
	d.notifyLocked()
	return gst.FlowOK
}

// watchBus turns EOS and error messages into decoder state.
func (d *Decoder) watchBus(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			d.mu.Lock()
			d.pending = append(d.pending, decoded{
				info: codec.BufferInfo{PresentationUs: d.eosPts, Flags: codec.FlagEndOfStream},
			})
			d.notifyLocked()
			d.mu.Unlock()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			logrus.WithFields(logrus.Fields{
				"function": "gstreamer.watchBus",
				"error":    gerr.Error(),
				"debug":    gerr.DebugString(),
			}).Error("GStreamer: pipeline error")
			d.mu.Lock()
			d.failure = fmt.Errorf("%w: %s", codec.ErrDecoder, gerr.Error())
			d.notifyLocked()
			d.mu.Unlock()
			return
		}
	}
}

// Start sets the pipeline PLAYING.
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateConfigured {
		return fmt.Errorf("%w: start in state %d", codec.ErrInvalidState, d.state)
	}
	d.freeInput = make([]int, d.opts.InputSlots)
	for i := range d.freeInput {
		d.freeInput[i] = i
	}
	d.freeOutput = make([]int, d.opts.OutputSlots)
	for i := range d.freeOutput {
		d.freeOutput[i] = i
	}
	d.heldInput = make(map[int]bool)
	d.heldOutput = make(map[int]decoded)
	d.state = stateStarted

	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		d.state = stateConfigured
		return fmt.Errorf("%w: set PLAYING: %w", codec.ErrDecoder, err)
	}
	d.stopBus = make(chan struct{})
	d.busDone = make(chan struct{})
	go d.watchBus(d.stopBus, d.busDone)
	return nil
}

func (d *Decoder) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

func (d *Decoder) checkStartedLocked(op string) error {
	switch {
	case d.state == stateReleased:
		return fmt.Errorf("%w: %s", codec.ErrReleased, op)
	case d.state != stateStarted:
		return fmt.Errorf("%w: %s in state %d", codec.ErrInvalidState, op, d.state)
	case d.failure != nil:
		return d.failure
	}
	return nil
}

// wait retries try until it reports done or timeout passes.
func (d *Decoder) wait(timeout time.Duration, try func() (int, bool, error)) (int, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		d.mu.Lock()
		idx, done, err := try()
		changed := d.changed
		d.mu.Unlock()
		if done || err != nil {
			return idx, err
		}
		select {
		case <-changed:
		case <-deadline.C:
			return codec.InfoTryAgainLater, nil
		}
	}
}

// DequeueInputBuffer waits for a free input slot while fewer than
// OutputSlots pictures are waiting to be dequeued.
func (d *Decoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	return d.wait(timeout, func() (int, bool, error) {
		if err := d.checkStartedLocked("DequeueInputBuffer"); err != nil {
			return 0, true, err
		}
		if len(d.freeInput) == 0 || len(d.pending) >= d.opts.OutputSlots {
			return 0, false, nil
		}
		idx := d.freeInput[0]
		d.freeInput = d.freeInput[1:]
		d.heldInput[idx] = true
		return idx, true, nil
	})
}

// QueueInputBuffer pushes data into appsrc; the end-of-stream flag ends the
// appsrc stream.
func (d *Decoder) QueueInputBuffer(index int, data []byte, presentationUs int64, flags codec.BufferFlags) error {
	d.mu.Lock()
	if err := d.checkStartedLocked("QueueInputBuffer"); err != nil {
		d.mu.Unlock()
		return err
	}
	if !d.heldInput[index] {
		d.mu.Unlock()
		return fmt.Errorf("%w: input slot %d is not dequeued", codec.ErrDecoder, index)
	}
	delete(d.heldInput, index)
	d.freeInput = append(d.freeInput, index)
	if flags&codec.FlagEndOfStream != 0 {
		d.eosPts = presentationUs
	}
	d.notifyLocked()
	d.mu.Unlock()

	// Pushing may block on the streaming thread, which needs d.mu.
	if len(data) > 0 {
		buf := gst.NewBufferFromBytes(append([]byte(nil), data...))
		if ret := d.src.PushBuffer(buf); ret != gst.FlowOK {
			return fmt.Errorf("%w: push buffer: %v", codec.ErrDecoder, ret)
		}
	}
	if flags&codec.FlagEndOfStream != 0 {
		if ret := d.src.EndStream(); ret != gst.FlowOK {
			return fmt.Errorf("%w: end stream: %v", codec.ErrDecoder, ret)
		}
	}
	return nil
}

// DequeueOutputBuffer announces the fixed RGBA output format once, then
// returns pictures in arrival order.
func (d *Decoder) DequeueOutputBuffer(info *codec.BufferInfo, timeout time.Duration) (int, error) {
	return d.wait(timeout, func() (int, bool, error) {
		if err := d.checkStartedLocked("DequeueOutputBuffer"); err != nil {
			return 0, true, err
		}
		if len(d.pending) == 0 || len(d.freeOutput) == 0 {
			return 0, false, nil
		}
		if !d.announced {
			d.announced = true
			return codec.InfoOutputFormatChanged, true, nil
		}
		out := d.pending[0]
		d.pending = d.pending[1:]
		idx := d.freeOutput[0]
		d.freeOutput = d.freeOutput[1:]
		d.heldOutput[idx] = out
		*info = out.info
		d.notifyLocked()
		return idx, true, nil
	})
}

// OutputFormat reports the capsfilter's RGBA format.
func (d *Decoder) OutputFormat() codec.Format {
	f := d.format
	f.ColorFormat = codec.ColorFormatRGBA
	return f
}

// OutputFrame returns the picture in a held slot.
func (d *Decoder) OutputFrame(index int) (*video.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.heldOutput[index]
	if !ok {
		return nil, fmt.Errorf("%w: output slot %d is not dequeued", codec.ErrDecoder, index)
	}
	if out.frame == nil {
		return nil, errors.New("output slot carries no picture")
	}
	return out.frame, nil
}

// ReleaseOutputBuffer frees a held slot.
func (d *Decoder) ReleaseOutputBuffer(index int, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("ReleaseOutputBuffer"); err != nil {
		return err
	}
	if _, ok := d.heldOutput[index]; !ok {
		return fmt.Errorf("%w: output slot %d is not dequeued", codec.ErrDecoder, index)
	}
	delete(d.heldOutput, index)
	d.freeOutput = append(d.freeOutput, index)
	d.notifyLocked()
	return nil
}

// Stop sets the pipeline to NULL and stops the bus watcher.
func (d *Decoder) Stop() error {
	d.mu.Lock()
	if d.state == stateReleased {
		d.mu.Unlock()
		return fmt.Errorf("%w: Stop", codec.ErrReleased)
	}
	d.state = stateStopped
	d.pending = nil
	d.notifyLocked()
	stopBus, busDone := d.stopBus, d.busDone
	d.stopBus, d.busDone = nil, nil
	d.mu.Unlock()

	if stopBus != nil {
		close(stopBus)
		<-busDone
	}
	if d.pipeline != nil {
		if err := d.pipeline.SetState(gst.StateNull); err != nil {
			return fmt.Errorf("%w: set NULL: %w", codec.ErrDecoder, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "gstreamer.Stop",
		"decoder":  d.name,
		"samples":  d.samples,
	}).Debug("GStreamer: pipeline stopped")
	return nil
}

// Release tears the pipeline down.
func (d *Decoder) Release() error {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	if state == stateReleased {
		return fmt.Errorf("%w: Release", codec.ErrReleased)
	}
	if state != stateStopped && d.pipeline != nil {
		if err := d.Stop(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.state = stateReleased
	d.pipeline, d.src, d.sink = nil, nil, nil
	d.notifyLocked()
	d.mu.Unlock()
	return nil
}

// Probe reports support when the parser and a decoder element are installed.
type Probe struct {
	Options Options
}

// Supports looks up the element factories for mime.
func (p Probe) Supports(mime string) (bool, error) {
	els, ok := byMIME[mime]
	if !ok {
		return false, nil
	}
	initGStreamer()
	if gst.Find(els.parser) == nil {
		return false, nil
	}
	d := &Decoder{mime: mime, opts: p.Options}
	if _, err := d.pickDecoder(); err != nil {
		return false, nil
	}
	return true, nil
}
