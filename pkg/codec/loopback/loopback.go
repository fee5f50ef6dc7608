// Package loopback is an in-process decoder that honours the codec.Decoder
// slot contract. Every queued chunk immediately yields one synthetic RGBA
// picture, which makes it useful for headless runs and for testing the
// decode loop without decoder hardware.
package loopback

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/clock"
	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

type state int

const (
	stateCreated state = iota
	stateConfigured
	stateStarted
	stateStopped
	stateReleased
)

// Options tune the decoder's queue shape.
type Options struct {
	InputSlots  int
	OutputSlots int
	// Direct makes the decoder present released frames onto the target
	// given to Configure instead of handing out pixels.
	Direct bool
	// StallInputs makes the first N DequeueInputBuffer calls time out, as a
	// saturated hardware queue would.
	StallInputs int
	// MIMEs lists the accepted types. Empty means HEVC and H.264.
	MIMEs []string
	// UnitsPerChunk makes every chunk yield that many pictures, as a chunk
	// holding several access units would. Above one, pictures are stamped
	// from the frame clock by output index instead of with the chunk's
	// timestamp.
	UnitsPerChunk int
}

func (o Options) withDefaults() Options {
	if o.InputSlots <= 0 {
		o.InputSlots = 4
	}
	if o.OutputSlots <= 0 {
		o.OutputSlots = 4
	}
	if o.UnitsPerChunk <= 0 {
		o.UnitsPerChunk = 1
	}
	if len(o.MIMEs) == 0 {
		o.MIMEs = []string{video.MIMEHEVC, video.MIMEH264}
	}
	return o
}

// Submission records one QueueInputBuffer call.
type Submission struct {
	Slot           int
	Size           int
	PresentationUs int64
	Flags          codec.BufferFlags
}

type decoded struct {
	info  codec.BufferInfo
	frame *video.Frame
}

// Decoder is the loopback decoder.
type Decoder struct {
	opts Options
	mime string

	mu      sync.Mutex
	changed chan struct{}
	state   state
	format  codec.Format
	clock   *clock.FrameClock
	target  render.Target
	drawer  *render.Renderer

	freeInput  []int
	heldInput  map[int]bool
	stalls     int
	pending    []decoded
	freeOutput []int
	heldOutput map[int]decoded
	announced  bool
	seq        int

	submissions []Submission
	renders     int
	stops       int
	releases    int
}

var (
	_ codec.Decoder         = (*Decoder)(nil)
	_ codec.PixelSource     = (*Decoder)(nil)
	_ codec.SurfaceRenderer = (*Decoder)(nil)
)

// New creates a decoder for mime.
func New(mime string, opts Options) (*Decoder, error) {
	opts = opts.withDefaults()
	if !accepts(opts.MIMEs, mime) {
		return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedCodec, mime)
	}
	return &Decoder{
		opts:    opts,
		mime:    mime,
		changed: make(chan struct{}),
	}, nil
}

// NewFactory returns a factory producing loopback decoders.
func NewFactory(opts Options) codec.Factory {
	return codec.FactoryFunc(func(mime string) (codec.Decoder, error) {
		return New(mime, opts)
	})
}

func accepts(mimes []string, mime string) bool {
	for _, m := range mimes {
		if m == mime {
			return true
		}
	}
	return false
}

// Name returns "loopback".
func (d *Decoder) Name() string { return "loopback" }

// RendersToSurface reports whether released frames are drawn by the decoder.
func (d *Decoder) RendersToSurface() bool { return d.opts.Direct }

// Configure accepts the format and target.
func (d *Decoder) Configure(format codec.Format, target render.Target) error {
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
	if d.opts.Direct && target == nil {
		return fmt.Errorf("%w: direct rendering needs a target", codec.ErrInvalidFormat)
	}

	clk, err := clock.New(format.FrameRate, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", codec.ErrInvalidFormat, err)
	}
	d.format = format
	d.clock = clk
	d.target = target
	if target != nil {
		d.drawer = render.NewRenderer(nil)
	}
	d.state = stateConfigured
	return nil
}

// Start makes the slot queues available.
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateConfigured {
		return fmt.Errorf("%w: start in state %d", codec.ErrInvalidState, d.state)
	}
	d.freeInput = make([]int, 0, d.opts.InputSlots)
	for i := 0; i < d.opts.InputSlots; i++ {
		d.freeInput = append(d.freeInput, i)
	}
	d.freeOutput = make([]int, 0, d.opts.OutputSlots)
	for i := 0; i < d.opts.OutputSlots; i++ {
		d.freeOutput = append(d.freeOutput, i)
	}
	d.heldInput = make(map[int]bool)
	d.heldOutput = make(map[int]decoded)
	d.stalls = d.opts.StallInputs
	d.state = stateStarted
	d.notifyLocked()
	return nil
}

// DequeueInputBuffer waits up to timeout for a free input slot. Input is
// refused while the pending output queue is full.
func (d *Decoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	return d.wait(timeout, func() (int, bool, error) {
		if err := d.checkStartedLocked("DequeueInputBuffer"); err != nil {
			return 0, true, err
		}
		if d.stalls > 0 {
			d.stalls--
			return codec.InfoTryAgainLater, true, nil
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

// QueueInputBuffer decodes data into UnitsPerChunk pending outputs. An
// end-of-stream flag adds an empty end-of-stream output after them.
func (d *Decoder) QueueInputBuffer(index int, data []byte, presentationUs int64, flags codec.BufferFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("QueueInputBuffer"); err != nil {
		return err
	}
	if !d.heldInput[index] {
		return fmt.Errorf("%w: input slot %d is not dequeued", codec.ErrDecoder, index)
	}
	delete(d.heldInput, index)
	d.freeInput = append(d.freeInput, index)
	d.submissions = append(d.submissions, Submission{Slot: index, Size: len(data), PresentationUs: presentationUs, Flags: flags})

	if len(data) > 0 {
		for i := 0; i < d.opts.UnitsPerChunk; i++ {
			pts := presentationUs
			if d.opts.UnitsPerChunk > 1 {
				pts = d.clock.PresentationTime(int64(d.seq))
			}
			d.pending = append(d.pending, decoded{
				info:  codec.BufferInfo{Size: d.format.Width * d.format.Height * 4, PresentationUs: pts},
				frame: d.synthesize(data, pts),
			})
		}
	}
	if flags&codec.FlagEndOfStream != 0 {
		d.pending = append(d.pending, decoded{
			info: codec.BufferInfo{PresentationUs: presentationUs, Flags: codec.FlagEndOfStream},
		})
	}
	d.notifyLocked()
	return nil
}

// synthesize paints a frame whose colour is derived from the chunk so tests
// can tell frames apart.
func (d *Decoder) synthesize(data []byte, presentationUs int64) *video.Frame {
	d.seq++
	f := video.NewFrame(d.format.Width, d.format.Height, video.PixelFormatRGBA)
	f.PresentationUs = presentationUs
	px := [4]byte{byte(d.seq), data[0], byte(len(data)), 0xff}
	for i := 0; i < len(f.Pix); i += 4 {
		copy(f.Pix[i:i+4], px[:])
	}
	return f
}

// DequeueOutputBuffer returns InfoOutputFormatChanged once before the first
// decoded slot, then decoded slots in queue order.
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

// OutputFormat returns the format decoded frames use.
func (d *Decoder) OutputFormat() codec.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.format
	f.ColorFormat = codec.ColorFormatRGBA
	if d.opts.Direct {
		f.ColorFormat = codec.ColorFormatSurface
	}
	return f
}

// OutputFrame returns a copy of the picture in a held output slot.
func (d *Decoder) OutputFrame(index int) (*video.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.heldOutput[index]
	if !ok {
		return nil, fmt.Errorf("%w: output slot %d is not dequeued", codec.ErrDecoder, index)
	}
	if out.frame == nil {
		return nil, fmt.Errorf("output slot %d carries no picture", index)
	}
	cp := *out.frame
	cp.Pix = append([]byte(nil), out.frame.Pix...)
	return &cp, nil
}

// ReleaseOutputBuffer frees a held slot, drawing it first in direct mode
// when render is set.
func (d *Decoder) ReleaseOutputBuffer(index int, renderFrame bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("ReleaseOutputBuffer"); err != nil {
		return err
	}
	out, ok := d.heldOutput[index]
	if !ok {
		return fmt.Errorf("%w: output slot %d is not dequeued", codec.ErrDecoder, index)
	}
	delete(d.heldOutput, index)
	d.freeOutput = append(d.freeOutput, index)

	if renderFrame && d.opts.Direct && out.frame != nil {
		if outcome, err := d.drawer.PresentTo(out.frame, d.target); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "loopback.ReleaseOutputBuffer",
				"slot":     index,
				"error":    err.Error(),
			}).Warn("Loopback: failed to draw frame")
		} else if outcome == render.Presented {
			d.renders++
		}
	}
	d.notifyLocked()
	return nil
}

// Stop drops all queued work. It is valid in any state but released.
func (d *Decoder) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateReleased {
		return codec.ErrReleased
	}
	d.stops++
	d.state = stateStopped
	d.pending = nil
	d.heldInput = nil
	d.heldOutput = nil
	d.notifyLocked()
	return nil
}

// Release frees the decoder. Further calls other than Release fail.
func (d *Decoder) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releases++
	d.state = stateReleased
	d.pending = nil
	d.target = nil
	d.notifyLocked()
	return nil
}

// Submissions returns every QueueInputBuffer call so far.
func (d *Decoder) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

// Renders counts frames drawn in direct mode.
func (d *Decoder) Renders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renders
}

// Stops counts Stop calls.
func (d *Decoder) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Releases counts Release calls.
func (d *Decoder) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *Decoder) checkStartedLocked(op string) error {
	switch d.state {
	case stateStarted:
		return nil
	case stateReleased:
		return fmt.Errorf("%s: %w", op, codec.ErrReleased)
	default:
		return fmt.Errorf("%w: %s in state %d", codec.ErrInvalidState, op, d.state)
	}
}

// notifyLocked wakes every waiter. d.mu must be held.
func (d *Decoder) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// wait polls try under the lock until it reports done or timeout elapses.
// On timeout it returns InfoTryAgainLater.
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
