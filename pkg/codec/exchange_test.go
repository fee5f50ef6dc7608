package codec_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/codec/mock_codec"
	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

const timeout = 10 * time.Millisecond

type recordingPresenter struct {
	frames  []*video.Frame
	outcome render.Outcome
	err     error
	log     *[]string
}

func (p *recordingPresenter) Present(f *video.Frame) (render.Outcome, error) {
	if p.log != nil {
		*p.log = append(*p.log, "present")
	}
	p.frames = append(p.frames, f)
	return p.outcome, p.err
}

// pixelDecoder is a pull-mode decoder: the mock plus a PixelSource.
type pixelDecoder struct {
	*mock_codec.MockDecoder
	frame *video.Frame
	log   *[]string
}

func (d *pixelDecoder) OutputFrame(int) (*video.Frame, error) {
	*d.log = append(*d.log, "copy")
	return d.frame, nil
}

// surfaceDecoder presents on its own surface.
type surfaceDecoder struct {
	*mock_codec.MockDecoder
}

func (surfaceDecoder) RendersToSurface() bool { return true }

func TestAcquireInputSlotTimeoutIsNotAnError(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)
	dec.EXPECT().DequeueInputBuffer(timeout).Return(codec.InfoTryAgainLater, nil)

	ex := codec.NewExchange(dec, nil)
	slot, err := ex.AcquireInputSlot(timeout)
	require.NoError(t, err)
	assert.Equal(t, codec.NoneAvailable, slot)
}

func TestSubmitInputRequiresAcquiredSlot(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)

	ex := codec.NewExchange(dec, nil)
	err := ex.SubmitInput(2, make([]byte, 8), 8, 0, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrSlotMisuse)

	var me *codec.SlotMisuseError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "SubmitInput", me.Op)
	assert.Equal(t, 2, me.Slot)
}

func TestSubmitInputTwiceOnSameSlotFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)
	dec.EXPECT().DequeueInputBuffer(timeout).Return(0, nil)
	dec.EXPECT().QueueInputBuffer(0, gomock.Len(4), int64(0), codec.BufferFlags(0)).Return(nil)

	ex := codec.NewExchange(dec, nil)
	slot, err := ex.AcquireInputSlot(timeout)
	require.NoError(t, err)
	require.NoError(t, ex.SubmitInput(slot, make([]byte, 16), 4, 0, false))
	assert.ErrorIs(t, ex.SubmitInput(slot, make([]byte, 16), 4, 0, false), codec.ErrSlotMisuse)
}

func TestEndOfStreamSubmittedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)
	dec.EXPECT().DequeueInputBuffer(timeout).Return(1, nil).Times(1)
	dec.EXPECT().QueueInputBuffer(1, gomock.Len(0), int64(33333), codec.FlagEndOfStream).Return(nil).Times(1)

	ex := codec.NewExchange(dec, nil)
	slot, err := ex.AcquireInputSlot(timeout)
	require.NoError(t, err)
	require.NoError(t, ex.SubmitInput(slot, make([]byte, 16), 0, 33333, true))
	assert.True(t, ex.InputEnded())

	_, err = ex.AcquireInputSlot(timeout)
	assert.ErrorIs(t, err, codec.ErrSlotMisuse)
	assert.ErrorIs(t, ex.SubmitInput(slot, nil, 0, 33333, true), codec.ErrSlotMisuse)
}

func TestSubmitInputRejectsDecreasingTimestamps(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)
	gomock.InOrder(
		dec.EXPECT().DequeueInputBuffer(timeout).Return(0, nil),
		dec.EXPECT().QueueInputBuffer(0, gomock.Any(), int64(16666), codec.BufferFlags(0)).Return(nil),
		dec.EXPECT().DequeueInputBuffer(timeout).Return(1, nil),
	)

	ex := codec.NewExchange(dec, nil)
	slot, _ := ex.AcquireInputSlot(timeout)
	require.NoError(t, ex.SubmitInput(slot, []byte{1}, 1, 16666, false))
	slot, _ = ex.AcquireInputSlot(timeout)
	assert.ErrorIs(t, ex.SubmitInput(slot, []byte{1}, 1, 0, false), codec.ErrSlotMisuse)
}

func TestAcquireOutputSlotInfoOutcomes(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)
	outFormat := codec.Format{MIME: video.MIMEHEVC, Width: 1280, Height: 720, FrameRate: 60}
	gomock.InOrder(
		dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).Return(codec.InfoTryAgainLater, nil),
		dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).Return(codec.InfoOutputFormatChanged, nil),
		dec.EXPECT().OutputFormat().Return(outFormat),
		dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).Return(codec.InfoOutputBuffersChanged, nil),
		dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).DoAndReturn(func(info *codec.BufferInfo, _ time.Duration) (int, error) {
			*info = codec.BufferInfo{Size: 100, PresentationUs: 16666}
			return 3, nil
		}),
	)

	ex := codec.NewExchange(dec, nil)

	out, err := ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	assert.Equal(t, codec.OutputTryAgain, out.Kind)

	out, err = ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	assert.Equal(t, codec.OutputFormatChanged, out.Kind)
	assert.Equal(t, outFormat, out.Format)

	out, err = ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	assert.Equal(t, codec.OutputBuffersChanged, out.Kind)

	out, err = ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	assert.Equal(t, codec.OutputSlot, out.Kind)
	assert.Equal(t, 3, out.Slot)
	assert.Equal(t, int64(16666), out.Info.PresentationUs)
	assert.Equal(t, 1, ex.HeldOutputs())

	stats := ex.Stats()
	assert.Equal(t, uint64(1), stats.TryAgains)
	assert.Equal(t, uint64(1), stats.FormatChanges)
}

func TestReleaseOutputRequiresHeldSlot(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)

	ex := codec.NewExchange(dec, nil)
	_, err := ex.ReleaseOutput(0, true)
	assert.ErrorIs(t, err, codec.ErrSlotMisuse)
}

func TestReleaseOutputPullModeCopiesBeforeRelease(t *testing.T) {
	ctrl := gomock.NewController(t)
	var calls []string
	dec := &pixelDecoder{
		MockDecoder: mock_codec.NewMockDecoder(ctrl),
		frame:       video.NewFrame(2, 2, video.PixelFormatRGBA),
		log:         &calls,
	}
	dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).DoAndReturn(func(info *codec.BufferInfo, _ time.Duration) (int, error) {
		*info = codec.BufferInfo{Size: 16, PresentationUs: 33333}
		return 0, nil
	})
	dec.EXPECT().ReleaseOutputBuffer(0, true).DoAndReturn(func(int, bool) error {
		calls = append(calls, "release")
		return nil
	})

	presenter := &recordingPresenter{outcome: render.Presented, log: &calls}
	ex := codec.NewExchange(dec, presenter)
	require.False(t, ex.Direct())

	out, err := ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	outcome, err := ex.ReleaseOutput(out.Slot, true)
	require.NoError(t, err)

	assert.Equal(t, render.Presented, outcome)
	assert.Equal(t, []string{"copy", "release", "present"}, calls)
	require.Len(t, presenter.frames, 1)
	assert.Equal(t, int64(33333), presenter.frames[0].PresentationUs)
	assert.Equal(t, uint64(1), ex.Stats().Rendered)
}

func TestReleaseOutputPresenterFailureCountsAsDrop(t *testing.T) {
	ctrl := gomock.NewController(t)
	var calls []string
	dec := &pixelDecoder{
		MockDecoder: mock_codec.NewMockDecoder(ctrl),
		frame:       video.NewFrame(2, 2, video.PixelFormatRGBA),
		log:         &calls,
	}
	dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).DoAndReturn(func(info *codec.BufferInfo, _ time.Duration) (int, error) {
		*info = codec.BufferInfo{Size: 16}
		return 1, nil
	})
	dec.EXPECT().ReleaseOutputBuffer(1, true).Return(nil)

	ex := codec.NewExchange(dec, &recordingPresenter{err: errors.New("lost surface")})
	out, err := ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	outcome, err := ex.ReleaseOutput(out.Slot, true)
	require.NoError(t, err)
	assert.Equal(t, render.Skipped, outcome)
	assert.Equal(t, uint64(1), ex.Stats().Dropped)
}

func TestReleaseOutputDirectModeSkipsPresenter(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := surfaceDecoder{mock_codec.NewMockDecoder(ctrl)}
	dec.EXPECT().DequeueOutputBuffer(gomock.Any(), timeout).DoAndReturn(func(info *codec.BufferInfo, _ time.Duration) (int, error) {
		*info = codec.BufferInfo{Size: 16}
		return 2, nil
	})
	dec.EXPECT().ReleaseOutputBuffer(2, true).Return(nil)

	presenter := &recordingPresenter{outcome: render.Presented}
	ex := codec.NewExchange(dec, presenter)
	require.True(t, ex.Direct())

	out, err := ex.AcquireOutputSlot(timeout)
	require.NoError(t, err)
	outcome, err := ex.ReleaseOutput(out.Slot, true)
	require.NoError(t, err)
	assert.Equal(t, render.Presented, outcome)
	assert.Empty(t, presenter.frames)
}

func TestClaimAllowsOnePump(t *testing.T) {
	ctrl := gomock.NewController(t)
	ex := codec.NewExchange(mock_codec.NewMockDecoder(ctrl), nil)

	require.NoError(t, ex.Claim())
	assert.ErrorIs(t, ex.Claim(), codec.ErrExchangeBusy)
	ex.Unclaim()
	assert.NoError(t, ex.Claim())
}

func TestFactoryProbe(t *testing.T) {
	ctrl := gomock.NewController(t)
	dec := mock_codec.NewMockDecoder(ctrl)
	dec.EXPECT().Release().Return(nil).Times(1)

	factory := mock_codec.NewMockFactory(ctrl)
	factory.EXPECT().CreateDecoderByType(video.MIMEHEVC).Return(dec, nil)
	factory.EXPECT().CreateDecoderByType(video.MIMEAV1).Return(nil, codec.ErrUnsupportedCodec)

	probe := codec.FactoryProbe{Factory: factory}
	ok, err := probe.Supports(video.MIMEHEVC)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = probe.Supports(video.MIMEAV1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFormatValidate(t *testing.T) {
	good := codec.Format{MIME: video.MIMEHEVC, Width: 1280, Height: 720, FrameRate: 60, BitRate: 8_000_000, KeyFrameInterval: 1}
	assert.NoError(t, good.Validate())

	bad := good
	bad.FrameRate = 0
	assert.ErrorIs(t, bad.Validate(), codec.ErrInvalidFormat)

	bad = good
	bad.MIME = ""
	assert.ErrorIs(t, bad.Validate(), codec.ErrInvalidFormat)

	cf, err := codec.ParseColorFormat("RGBA")
	require.NoError(t, err)
	assert.Equal(t, codec.ColorFormatRGBA, cf)
	_, err = codec.ParseColorFormat("nv12")
	assert.Error(t, err)
}
