// Package codec defines the contract of an asynchronous hardware-style video
// decoder with separate input and output slot queues, and the bookkeeping that
// keeps a decode loop within that contract.
package codec

//go:generate mockgen -destination=mock_codec/mock_codec.go -package=mock_codec hevc-frame/pkg/codec Decoder,Factory,Probe

import (
	"fmt"
	"strings"
	"time"

	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

// Info values returned by DequeueInputBuffer and DequeueOutputBuffer in place
// of a slot index.
const (
	InfoTryAgainLater        = -1
	InfoOutputFormatChanged  = -2
	InfoOutputBuffersChanged = -3
)

// BufferFlags qualify a queued or dequeued buffer.
type BufferFlags uint32

const (
	FlagKeyFrame    BufferFlags = 1 << 0
	FlagEndOfStream BufferFlags = 1 << 2
)

// BufferInfo describes a dequeued output buffer.
type BufferInfo struct {
	Offset         int
	Size           int
	PresentationUs int64
	Flags          BufferFlags
}

// EndOfStream reports whether the buffer carries the end-of-stream flag.
func (b BufferInfo) EndOfStream() bool { return b.Flags&FlagEndOfStream != 0 }

// ColorFormat selects how the decoder hands out pictures.
type ColorFormat int

const (
	// ColorFormatSurface means the decoder renders onto the bound target itself.
	ColorFormatSurface ColorFormat = iota
	ColorFormatRGBA
	ColorFormatYUV420
)

func (c ColorFormat) String() string {
	switch c {
	case ColorFormatSurface:
		return "surface"
	case ColorFormatRGBA:
		return "rgba"
	case ColorFormatYUV420:
		return "yuv420"
	default:
		return "unknown"
	}
}

// ParseColorFormat parses the names returned by ColorFormat.String.
func ParseColorFormat(s string) (ColorFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "surface", "":
		return ColorFormatSurface, nil
	case "rgba":
		return ColorFormatRGBA, nil
	case "yuv420", "i420":
		return ColorFormatYUV420, nil
	default:
		return 0, fmt.Errorf("%w: unknown color format %q", ErrInvalidFormat, s)
	}
}

// Format is the session's format description.
type Format struct {
	MIME             string
	Width            int
	Height           int
	FrameRate        int
	BitRate          int
	KeyFrameInterval int
	ColorFormat      ColorFormat
}

// Validate checks that the fields a decoder needs are present.
func (f Format) Validate() error {
	switch {
	case f.MIME == "":
		return fmt.Errorf("%w: missing mime type", ErrInvalidFormat)
	case f.Width <= 0 || f.Height <= 0:
		return fmt.Errorf("%w: invalid size %dx%d", ErrInvalidFormat, f.Width, f.Height)
	case f.FrameRate <= 0:
		return fmt.Errorf("%w: invalid frame rate %d", ErrInvalidFormat, f.FrameRate)
	case f.BitRate < 0 || f.KeyFrameInterval < 0:
		return fmt.Errorf("%w: negative bit rate or keyframe interval", ErrInvalidFormat)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d@%d bitrate=%d i-frame=%ds color=%s",
		f.MIME, f.Width, f.Height, f.FrameRate, f.BitRate, f.KeyFrameInterval, f.ColorFormat)
}

// Decoder is an external asynchronous decoder session. Slot indices are
// non-negative; negative return values are the Info* constants. A Decoder is
// driven from a single goroutine at a time.
type Decoder interface {
	Name() string
	// Configure binds the format and the display target. target may be nil
	// when the decoder hands out pixels instead of rendering itself.
	Configure(format Format, target render.Target) error
	Start() error
	// DequeueInputBuffer waits up to timeout for a free input slot.
	DequeueInputBuffer(timeout time.Duration) (int, error)
	QueueInputBuffer(index int, data []byte, presentationUs int64, flags BufferFlags) error
	// DequeueOutputBuffer waits up to timeout for a decoded buffer or an
	// informational event and fills info for real slots.
	DequeueOutputBuffer(info *BufferInfo, timeout time.Duration) (int, error)
	OutputFormat() Format
	// ReleaseOutputBuffer returns the slot to the decoder. render asks the
	// decoder to present it when it owns a surface.
	ReleaseOutputBuffer(index int, render bool) error
	Stop() error
	Release() error
}

// PixelSource is implemented by decoders that expose decoded pixels. The
// frame must be copied out before the slot is released.
type PixelSource interface {
	OutputFrame(index int) (*video.Frame, error)
}

// SurfaceRenderer is implemented by decoders that can present directly onto
// the target given to Configure.
type SurfaceRenderer interface {
	RendersToSurface() bool
}

// Factory creates decoders by MIME type.
type Factory interface {
	CreateDecoderByType(mime string) (Decoder, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(mime string) (Decoder, error)

// CreateDecoderByType calls f.
func (f FactoryFunc) CreateDecoderByType(mime string) (Decoder, error) { return f(mime) }

// Probe reports whether a MIME type can be decoded on this host.
type Probe interface {
	Supports(mime string) (bool, error)
}
