package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hevc-frame/pkg/video"
)

func TestStageTakesLatestPost(t *testing.T) {
	s := NewStage(1, 1, video.PixelFormatRGBA)

	for _, v := range []byte{1, 2} {
		c, err := s.LockCanvas()
		require.NoError(t, err)
		c.Pix[0] = v
		require.NoError(t, s.UnlockCanvasAndPost(c))
	}

	var got byte
	ok, err := s.Take(func(pix []byte, pitch int) error {
		assert.Equal(t, 4, pitch)
		got = pix[0]
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(2), got)

	ok, err = s.Take(func([]byte, int) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok)

	posted, taken := s.Counts()
	assert.Equal(t, uint64(2), posted)
	assert.Equal(t, uint64(1), taken)
}

func TestStageRejectsDoubleLock(t *testing.T) {
	s := NewStage(2, 2, video.PixelFormatRGBA)
	_, err := s.LockCanvas()
	require.NoError(t, err)
	_, err = s.LockCanvas()
	assert.Error(t, err)
	assert.Error(t, NewStage(1, 1, video.PixelFormatRGBA).UnlockCanvasAndPost(nil))
}

func TestStageInvalidateDropsPending(t *testing.T) {
	s := NewStage(1, 1, video.PixelFormatRGBA)
	c, err := s.LockCanvas()
	require.NoError(t, err)
	require.NoError(t, s.UnlockCanvasAndPost(c))

	s.Invalidate()
	assert.False(t, s.Valid())
	ok, err := s.Take(func([]byte, int) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.LockCanvas()
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestStageInvalidatedWhileLocked(t *testing.T) {
	s := NewStage(1, 1, video.PixelFormatRGBA)
	c, err := s.LockCanvas()
	require.NoError(t, err)
	s.Invalidate()
	assert.ErrorIs(t, s.UnlockCanvasAndPost(c), ErrInvalidTarget)
	posted, _ := s.Counts()
	assert.Zero(t, posted)
}

func TestStageTakePropagatesError(t *testing.T) {
	s := NewStage(1, 1, video.PixelFormatRGBA)
	c, _ := s.LockCanvas()
	require.NoError(t, s.UnlockCanvasAndPost(c))

	boom := errors.New("upload failed")
	ok, err := s.Take(func([]byte, int) error { return boom })
	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestStageUnderRenderer(t *testing.T) {
	s := NewStage(2, 2, video.PixelFormatRGBA)
	holder := &AtomicHolder{}
	holder.Set(s)
	r := NewRenderer(holder)

	out, err := r.Present(solidFrame(2, 2, video.PixelFormatRGBA, [4]byte{7, 8, 9, 10}))
	require.NoError(t, err)
	assert.Equal(t, Presented, out)

	ok, err := s.Take(func(pix []byte, _ int) error {
		assert.Equal(t, []byte{7, 8, 9, 10}, pix[:4])
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

// shortStage hands out a truncated back buffer so drawing fails.
type shortStage struct{ *Stage }

func (s shortStage) LockCanvas() (*Canvas, error) {
	c, err := s.Stage.LockCanvas()
	if err != nil {
		return nil, err
	}
	c.Pix = c.Pix[:1]
	return c, nil
}

func TestStageDiscardsFailedDraw(t *testing.T) {
	s := NewStage(2, 2, video.PixelFormatRGBA)
	r := NewRenderer(nil)

	out, err := r.PresentTo(solidFrame(2, 2, video.PixelFormatRGBA, [4]byte{1, 1, 1, 1}), shortStage{s})
	assert.Error(t, err)
	assert.Equal(t, Skipped, out)
	assert.Equal(t, uint64(1), r.Stats().Failed)

	posted, _ := s.Counts()
	assert.Zero(t, posted)
	ok, err := s.Take(func([]byte, int) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok)

	// the lock was released
	c, err := s.LockCanvas()
	require.NoError(t, err)
	require.NoError(t, s.UnlockCanvas(c))
}
