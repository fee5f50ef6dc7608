package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors for decoder sessions.
// These errors enable reliable error classification using errors.Is().

// Configuration errors.
var (
	// ErrUnsupportedCodec indicates no decoder exists for the requested MIME type.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrConfiguration indicates the decoder rejected the format or could not be created.
	ErrConfiguration = errors.New("decoder configuration failed")

	// ErrInvalidFormat indicates a format description with missing or out-of-range fields.
	ErrInvalidFormat = errors.New("invalid format")
)

// Runtime errors.
var (
	// ErrSourceRead indicates the byte source failed with an I/O error.
	ErrSourceRead = errors.New("byte source read failed")

	// ErrSlotMisuse indicates a buffer slot was used out of protocol.
	// It is a programming error and aborts the pump.
	ErrSlotMisuse = errors.New("buffer slot misuse")

	// ErrCancelled indicates decoding stopped because cancellation was requested.
	ErrCancelled = errors.New("decoding cancelled")

	// ErrDecoder indicates the decoder reported a failure it could not recover from.
	ErrDecoder = errors.New("decoder failure")

	// ErrInvalidState indicates an operation was called in the wrong decoder state.
	ErrInvalidState = errors.New("invalid decoder state")

	// ErrReleased indicates the decoder was used after Release.
	ErrReleased = errors.New("decoder released")

	// ErrExchangeBusy indicates a second pump tried to drive the same session.
	ErrExchangeBusy = errors.New("exchange already driven by a running pump")
)

// SlotMisuseError describes a slot protocol violation.
type SlotMisuseError struct {
	Op     string
	Slot   int
	Reason string
}

func (e *SlotMisuseError) Error() string {
	return fmt.Sprintf("%s: slot %d: %s", e.Op, e.Slot, e.Reason)
}

// Is reports whether target is ErrSlotMisuse.
func (e *SlotMisuseError) Is(target error) bool {
	return target == ErrSlotMisuse
}

func misuse(op string, slot int, reason string) error {
	return &SlotMisuseError{Op: op, Slot: slot, Reason: reason}
}
