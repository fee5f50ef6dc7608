package codec

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

// NoneAvailable is returned by AcquireInputSlot when no slot freed up in time.
const NoneAvailable = -1

// OutputKind classifies the result of AcquireOutputSlot.
type OutputKind int

const (
	OutputSlot OutputKind = iota
	OutputTryAgain
	OutputFormatChanged
	OutputBuffersChanged
)

func (k OutputKind) String() string {
	switch k {
	case OutputSlot:
		return "slot"
	case OutputTryAgain:
		return "try-again"
	case OutputFormatChanged:
		return "format-changed"
	case OutputBuffersChanged:
		return "buffers-changed"
	default:
		return "unknown"
	}
}

// Output is one result of AcquireOutputSlot. Info is set for OutputSlot,
// Format for OutputFormatChanged.
type Output struct {
	Kind   OutputKind
	Slot   int
	Info   BufferInfo
	Format Format
}

// Presenter receives frames copied out of pull-mode decoders.
type Presenter interface {
	Present(frame *video.Frame) (render.Outcome, error)
}

// ExchangeStats counts slot traffic.
type ExchangeStats struct {
	InputsQueued    uint64
	BytesQueued     uint64
	OutputsReleased uint64
	Rendered        uint64
	Dropped         uint64
	FormatChanges   uint64
	TryAgains       uint64
}

// Exchange tracks which input and output slots the caller holds and rejects
// any call that breaks the decoder's slot protocol. The slot methods must be
// called from one goroutine; Stats may be read from anywhere.
type Exchange struct {
	dec       Decoder
	pixels    PixelSource
	direct    bool
	presenter Presenter

	claimed atomic.Bool

	heldInput  map[int]struct{}
	heldOutput map[int]BufferInfo
	inputEnded bool
	lastInPts  int64
	anyInput   bool

	inputsQueued    atomic.Uint64
	bytesQueued     atomic.Uint64
	outputsReleased atomic.Uint64
	rendered        atomic.Uint64
	dropped         atomic.Uint64
	formatChanges   atomic.Uint64
	tryAgains       atomic.Uint64
}

// NewExchange wraps dec. Decoders that render to their own surface are
// released with the render flag only; pull-mode decoders have their frame
// copied out and handed to presenter before the slot is released.
func NewExchange(dec Decoder, presenter Presenter) *Exchange {
	ex := &Exchange{
		dec:        dec,
		presenter:  presenter,
		heldInput:  make(map[int]struct{}),
		heldOutput: make(map[int]BufferInfo),
	}
	if sr, ok := dec.(SurfaceRenderer); ok && sr.RendersToSurface() {
		ex.direct = true
	} else if ps, ok := dec.(PixelSource); ok {
		ex.pixels = ps
	}
	return ex
}

// Decoder returns the wrapped decoder.
func (ex *Exchange) Decoder() Decoder { return ex.dec }

// Direct reports whether frames are presented by the decoder itself.
func (ex *Exchange) Direct() bool { return ex.direct }

// Claim marks the exchange as driven by one pump. A second claim fails with
// ErrExchangeBusy until Unclaim.
func (ex *Exchange) Claim() error {
	if !ex.claimed.CompareAndSwap(false, true) {
		return ErrExchangeBusy
	}
	return nil
}

// Unclaim releases a Claim.
func (ex *Exchange) Unclaim() { ex.claimed.Store(false) }

// InputEnded reports whether the end-of-stream input was submitted.
func (ex *Exchange) InputEnded() bool { return ex.inputEnded }

// AcquireInputSlot waits up to timeout for an input slot. It returns
// NoneAvailable, not an error, when none frees up in time.
func (ex *Exchange) AcquireInputSlot(timeout time.Duration) (int, error) {
	if ex.inputEnded {
		return NoneAvailable, misuse("AcquireInputSlot", NoneAvailable, "input already ended")
	}

	idx, err := ex.dec.DequeueInputBuffer(timeout)
	if err != nil {
		return NoneAvailable, fmt.Errorf("%w: dequeue input: %w", ErrDecoder, err)
	}
	if idx < 0 {
		return NoneAvailable, nil
	}
	if _, held := ex.heldInput[idx]; held {
		return NoneAvailable, misuse("AcquireInputSlot", idx, "decoder returned a slot that is already held")
	}
	ex.heldInput[idx] = struct{}{}
	return idx, nil
}

// SubmitInput queues the first n bytes of chunk on a held input slot. An
// end-of-stream submission may be made exactly once, after which no input
// call is accepted.
func (ex *Exchange) SubmitInput(slot int, chunk []byte, n int, presentationUs int64, endOfStream bool) error {
	const op = "SubmitInput"
	if ex.inputEnded {
		return misuse(op, slot, "input already ended")
	}
	if _, held := ex.heldInput[slot]; !held {
		return misuse(op, slot, "slot was not acquired")
	}
	if n < 0 || n > len(chunk) {
		return misuse(op, slot, fmt.Sprintf("length %d outside chunk of %d bytes", n, len(chunk)))
	}
	if ex.anyInput && presentationUs < ex.lastInPts {
		return misuse(op, slot, fmt.Sprintf("presentation time %d before %d", presentationUs, ex.lastInPts))
	}
	delete(ex.heldInput, slot)

	var flags BufferFlags
	if endOfStream {
		flags |= FlagEndOfStream
		ex.inputEnded = true
	}
	ex.anyInput = true
	ex.lastInPts = presentationUs

	if err := ex.dec.QueueInputBuffer(slot, chunk[:n], presentationUs, flags); err != nil {
		return fmt.Errorf("%w: queue input slot %d: %w", ErrDecoder, slot, err)
	}
	ex.inputsQueued.Add(1)
	ex.bytesQueued.Add(uint64(n))
	return nil
}

// AcquireOutputSlot waits up to timeout for a decoded slot or an
// informational event.
func (ex *Exchange) AcquireOutputSlot(timeout time.Duration) (Output, error) {
	var info BufferInfo
	idx, err := ex.dec.DequeueOutputBuffer(&info, timeout)
	if err != nil {
		return Output{Kind: OutputTryAgain, Slot: NoneAvailable}, fmt.Errorf("%w: dequeue output: %w", ErrDecoder, err)
	}

	switch {
	case idx == InfoTryAgainLater:
		ex.tryAgains.Add(1)
		return Output{Kind: OutputTryAgain, Slot: NoneAvailable}, nil
	case idx == InfoOutputFormatChanged:
		ex.formatChanges.Add(1)
		return Output{Kind: OutputFormatChanged, Slot: NoneAvailable, Format: ex.dec.OutputFormat()}, nil
	case idx == InfoOutputBuffersChanged:
		return Output{Kind: OutputBuffersChanged, Slot: NoneAvailable}, nil
	case idx < 0:
		return Output{Kind: OutputTryAgain, Slot: NoneAvailable}, fmt.Errorf("%w: unknown output info %d", ErrDecoder, idx)
	}

	if _, held := ex.heldOutput[idx]; held {
		return Output{Kind: OutputTryAgain, Slot: NoneAvailable}, misuse("AcquireOutputSlot", idx, "decoder returned a slot that is already held")
	}
	ex.heldOutput[idx] = info
	return Output{Kind: OutputSlot, Slot: idx, Info: info}, nil
}

// ReleaseOutput gives a held output slot back to the decoder. With render
// set, direct decoders present the slot themselves; for pull-mode decoders
// the frame is copied out first and passed to the presenter after release.
// Presentation failures are counted as drops, never returned.
func (ex *Exchange) ReleaseOutput(slot int, renderFrame bool) (render.Outcome, error) {
	info, held := ex.heldOutput[slot]
	if !held {
		return render.Skipped, misuse("ReleaseOutput", slot, "slot is not held")
	}
	delete(ex.heldOutput, slot)

	var frame *video.Frame
	if renderFrame && !ex.direct && ex.pixels != nil && ex.presenter != nil && info.Size > 0 {
		f, err := ex.pixels.OutputFrame(slot)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Exchange.ReleaseOutput",
				"slot":     slot,
				"error":    err.Error(),
			}).Warn("Exchange: failed to copy output frame")
		} else {
			frame = f
			frame.PresentationUs = info.PresentationUs
		}
	}

	if err := ex.dec.ReleaseOutputBuffer(slot, renderFrame); err != nil {
		return render.Skipped, fmt.Errorf("%w: release output slot %d: %w", ErrDecoder, slot, err)
	}
	ex.outputsReleased.Add(1)

	if !renderFrame {
		ex.dropped.Add(1)
		return render.Skipped, nil
	}
	if ex.direct {
		ex.rendered.Add(1)
		return render.Presented, nil
	}
	if frame == nil {
		if info.Size > 0 {
			ex.dropped.Add(1)
		}
		return render.Skipped, nil
	}

	outcome, err := ex.presenter.Present(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Exchange.ReleaseOutput",
			"slot":     slot,
			"pts_us":   info.PresentationUs,
			"error":    err.Error(),
		}).Warn("Exchange: failed to present frame")
		ex.dropped.Add(1)
		return render.Skipped, nil
	}
	if outcome == render.Presented {
		ex.rendered.Add(1)
	} else {
		ex.dropped.Add(1)
	}
	return outcome, nil
}

// HeldOutputs returns the number of output slots currently held.
func (ex *Exchange) HeldOutputs() int { return len(ex.heldOutput) }

// Stats returns a snapshot of slot counters.
func (ex *Exchange) Stats() ExchangeStats {
	return ExchangeStats{
		InputsQueued:    ex.inputsQueued.Load(),
		BytesQueued:     ex.bytesQueued.Load(),
		OutputsReleased: ex.outputsReleased.Load(),
		Rendered:        ex.rendered.Load(),
		Dropped:         ex.dropped.Load(),
		FormatChanges:   ex.formatChanges.Load(),
		TryAgains:       ex.tryAgains.Load(),
	}
}
