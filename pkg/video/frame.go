package video

import "fmt"

// PixelFormat describes the memory layout of a decoded frame or a canvas.
type PixelFormat int

const (
	PixelFormatRGBA PixelFormat = iota // 4 bytes per pixel, R G B A
	PixelFormatBGRA                    // 4 bytes per pixel, B G R A
	PixelFormatI420                    // planar Y, U, V with 2x2 chroma subsampling
)

// String returns human-readable pixel format name
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGBA:
		return "RGBA"
	case PixelFormatBGRA:
		return "BGRA"
	case PixelFormatI420:
		return "I420"
	default:
		return "Unknown"
	}
}

// BytesPerPixel returns the size of one packed pixel, or 0 for planar formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGBA, PixelFormatBGRA:
		return 4
	default:
		return 0
	}
}

// Frame is a decoded picture copied out of a decoder output slot.
//
// For packed formats Pix holds Height rows of Stride bytes. For I420 Pix holds
// the Y plane (Stride bytes per row) followed by the U and V planes
// (Stride/2 bytes per row, Height/2 rows each).
type Frame struct {
	Width          int
	Height         int
	Stride         int
	Format         PixelFormat
	Pix            []byte
	PresentationUs int64
}

// NewFrame allocates a packed frame with a tight stride.
func NewFrame(width, height int, format PixelFormat) *Frame {
	stride := width * format.BytesPerPixel()
	return &Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: format,
		Pix:    make([]byte, stride*height),
	}
}

// Validate checks that Pix is large enough for the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size: %dx%d", f.Width, f.Height)
	}

	var need int
	switch f.Format {
	case PixelFormatRGBA, PixelFormatBGRA:
		if f.Stride < f.Width*4 {
			return fmt.Errorf("invalid frame stride %d for width %d", f.Stride, f.Width)
		}
		need = f.Stride * f.Height
	case PixelFormatI420:
		if f.Stride < f.Width {
			return fmt.Errorf("invalid frame stride %d for width %d", f.Stride, f.Width)
		}
		chroma := (f.Stride / 2) * ((f.Height + 1) / 2)
		need = f.Stride*f.Height + 2*chroma
	default:
		return fmt.Errorf("unsupported pixel format %s", f.Format)
	}

	if len(f.Pix) < need {
		return fmt.Errorf("frame buffer too small: have %d bytes, need %d", len(f.Pix), need)
	}
	return nil
}
