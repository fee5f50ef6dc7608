package render

import (
	"fmt"
	"image"
	"image/color"

	"hevc-frame/pkg/video"
)

// Blit copies frame into canvas at the origin, converting the pixel format
// when needed. Content outside the overlapping area is clipped.
func Blit(canvas *Canvas, frame *video.Frame) error {
	if canvas.Format.BytesPerPixel() != 4 {
		return fmt.Errorf("unsupported canvas format %s", canvas.Format)
	}

	w := min(canvas.Width, frame.Width)
	h := min(canvas.Height, frame.Height)
	if w <= 0 || h <= 0 {
		return nil
	}
	if len(canvas.Pix) < canvas.Pitch*(h-1)+w*4 {
		return fmt.Errorf("canvas buffer too small")
	}

	switch frame.Format {
	case video.PixelFormatRGBA, video.PixelFormatBGRA:
		blitPacked(canvas, frame, w, h)
	case video.PixelFormatI420:
		blitI420(canvas, frame, w, h)
	default:
		return fmt.Errorf("unsupported frame format %s", frame.Format)
	}
	return nil
}

func blitPacked(canvas *Canvas, frame *video.Frame, w, h int) {
	swap := canvas.Format != frame.Format
	for y := 0; y < h; y++ {
		src := frame.Pix[y*frame.Stride : y*frame.Stride+w*4]
		dst := canvas.Pix[y*canvas.Pitch : y*canvas.Pitch+w*4]
		if !swap {
			copy(dst, src)
			continue
		}
		// RGBA <-> BGRA: swap the first and third byte of each pixel
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
}

func blitI420(canvas *Canvas, frame *video.Frame, w, h int) {
	ycc := i420Image(frame)
	bgra := canvas.Format == video.PixelFormatBGRA
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Pitch:]
		for x := 0; x < w; x++ {
			yi := ycc.YOffset(x, y)
			ci := ycc.COffset(x, y)
			r, g, b := color.YCbCrToRGB(ycc.Y[yi], ycc.Cb[ci], ycc.Cr[ci])
			o := x * 4
			if bgra {
				row[o+0], row[o+2] = b, r
			} else {
				row[o+0], row[o+2] = r, b
			}
			row[o+1] = g
			row[o+3] = 0xff
		}
	}
}

// i420Image views an I420 frame as an image.YCbCr without copying.
func i420Image(frame *video.Frame) *image.YCbCr {
	cStride := frame.Stride / 2
	cRows := (frame.Height + 1) / 2
	ySize := frame.Stride * frame.Height
	cSize := cStride * cRows
	return &image.YCbCr{
		Y:              frame.Pix[:ySize],
		Cb:             frame.Pix[ySize : ySize+cSize],
		Cr:             frame.Pix[ySize+cSize : ySize+2*cSize],
		YStride:        frame.Stride,
		CStride:        cStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, frame.Width, frame.Height),
	}
}

// Letterbox returns the largest rectangle with the source aspect ratio that
// fits centred inside a dstW x dstH area.
func Letterbox(srcW, srcH, dstW, dstH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rectangle{}
	}

	var w, h int
	if srcW*dstH > dstW*srcH {
		// wider than the area: fit to width, bars top and bottom
		w = dstW
		h = dstW * srcH / srcW
	} else {
		// fit to height, bars left and right
		h = dstH
		w = dstH * srcW / srcH
	}

	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
