// Package sdltarget presents decoded frames through an SDL streaming texture.
//
// The decode goroutine draws into a render.Stage; the SDL thread calls
// Upload and Draw from its event loop. Only Upload, Draw and Destroy touch
// SDL and they must run on the thread that owns the renderer.
package sdltarget

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

type Target struct {
	*render.Stage

	texture *sdl.Texture
	width   int
	height  int
}

// New creates a width x height RGBA texture on renderer.
func New(renderer *sdl.Renderer, width, height int) (*Target, error) {
	texture, err := renderer.CreateTexture(uint32(sdl.PIXELFORMAT_RGBA32), sdl.TEXTUREACCESS_STREAMING, int32(width), int32(height))
	if err != nil {
		return nil, fmt.Errorf("failed to create texture: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sdltarget.New",
		"width":    width,
		"height":   height,
	}).Debug("Created streaming texture")

	return &Target{
		Stage:   render.NewStage(width, height, video.PixelFormatRGBA),
		texture: texture,
		width:   width,
		height:  height,
	}, nil
}

// Upload copies the latest posted frame into the texture. It reports whether
// a new frame was uploaded.
func (t *Target) Upload() (bool, error) {
	if t.texture == nil {
		return false, nil
	}
	return t.Take(func(pix []byte, pitch int) error {
		pixels, texPitch, err := t.texture.Lock(nil)
		if err != nil {
			return fmt.Errorf("failed to lock texture: %v", err)
		}
		defer t.texture.Unlock()

		if texPitch == pitch {
			copy(pixels, pix)
			return nil
		}
		row := t.width * 4
		for y := 0; y < t.height; y++ {
			copy(pixels[y*texPitch:y*texPitch+row], pix[y*pitch:y*pitch+row])
		}
		return nil
	})
}

// Draw copies the texture letterboxed into a screenWidth x screenHeight area.
func (t *Target) Draw(renderer *sdl.Renderer, screenWidth, screenHeight int32) error {
	if t.texture == nil {
		return nil
	}
	r := render.Letterbox(t.width, t.height, int(screenWidth), int(screenHeight))
	if r.Empty() {
		return nil
	}
	dst := sdl.Rect{X: int32(r.Min.X), Y: int32(r.Min.Y), W: int32(r.Dx()), H: int32(r.Dy())}
	return renderer.Copy(t.texture, nil, &dst)
}

// Destroy invalidates the target and frees the texture.
func (t *Target) Destroy() {
	t.Invalidate()
	if t.texture != nil {
		t.texture.Destroy()
		t.texture = nil
	}
}
