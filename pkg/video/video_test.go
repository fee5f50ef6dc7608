package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCodecType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want CodecType
	}{
		{"hevc mime", MIMEHEVC, CodecTypeHEVC},
		{"hevc hw decoder", "hevc_rkmpp", CodecTypeHEVC},
		{"h265 name", "H265", CodecTypeHEVC},
		{"avc mime", MIMEH264, CodecTypeH264},
		{"vp9 mime", MIMEVP9, CodecTypeVP9},
		{"av1 mime", MIMEAV1, CodecTypeAV1},
		{"unknown", "video/x-unknown", CodecTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCodecType(tt.in))
		})
	}
}

func TestCodecTypeMIMERoundTrip(t *testing.T) {
	for _, ct := range []CodecType{CodecTypeH264, CodecTypeHEVC, CodecTypeVP8, CodecTypeVP9, CodecTypeAV1} {
		assert.Equal(t, ct, DetectCodecType(ct.MIME()), ct.String())
	}
	assert.Empty(t, CodecTypeUnknown.MIME())
}

func TestAnalyzeCodec(t *testing.T) {
	hw := AnalyzeCodec(CodecInfo{Name: "hevc_vaapi", IsHardwareAccel: true, Width: 1280, Height: 720, FPS: 60})
	assert.True(t, hw.IsOptimal)
	assert.Equal(t, CodecTypeHEVC, hw.CurrentType)
	assert.Empty(t, hw.ReencodingCommand)

	sw := AnalyzeCodec(CodecInfo{Name: "hevc", Width: 3840, Height: 2160, FPS: 60})
	assert.False(t, sw.IsOptimal)
	assert.Equal(t, CodecTypeH264, sw.RecommendedType)
	assert.Contains(t, sw.ReencodingCommand, "scale=1920:1080")

	av1 := AnalyzeCodec(CodecInfo{Name: "libdav1d", MIME: MIMEAV1})
	assert.Equal(t, CodecTypeAV1, av1.CurrentType)
	assert.Equal(t, CodecTypeHEVC, av1.RecommendedType)
	assert.Contains(t, av1.ReencodingCommand, "-f hevc")
}

func TestFrameValidate(t *testing.T) {
	f := NewFrame(4, 2, PixelFormatRGBA)
	require.NoError(t, f.Validate())
	assert.Equal(t, 16, f.Stride)

	f.Pix = f.Pix[:10]
	assert.Error(t, f.Validate())

	i420 := &Frame{Width: 4, Height: 4, Stride: 4, Format: PixelFormatI420, Pix: make([]byte, 16+4+4)}
	assert.NoError(t, i420.Validate())

	assert.Error(t, (&Frame{Width: 0, Height: 1}).Validate())
}

func TestFrameSkipperStaysNormalWhenOnTime(t *testing.T) {
	s := NewFrameSkipper(16 * time.Millisecond)
	for i := 0; i < 100; i++ {
		d := s.Observe(0)
		require.True(t, d.ShouldRender)
	}
	assert.Equal(t, ModeNormal, s.GetMode())
}

func TestFrameSkipperEntersSkipModesWhenLate(t *testing.T) {
	s := NewFrameSkipper(16 * time.Millisecond)

	for i := 0; i < 3; i++ {
		s.Observe(50 * time.Millisecond)
	}
	assert.Equal(t, ModeSkip2, s.GetMode())

	for i := 0; i < 5; i++ {
		s.Observe(50 * time.Millisecond)
	}
	assert.Equal(t, ModeSkip3, s.GetMode())

	rendered := 0
	for i := 0; i < 9; i++ {
		if s.Observe(50 * time.Millisecond).ShouldRender {
			rendered++
		}
	}
	assert.Equal(t, 3, rendered)
}

func TestFrameSkipperRecoversAndResets(t *testing.T) {
	s := NewFrameSkipper(16 * time.Millisecond)
	for i := 0; i < 3; i++ {
		s.Observe(time.Second)
	}
	require.Equal(t, ModeSkip2, s.GetMode())

	for i := 0; i < 60; i++ {
		s.Observe(0)
	}
	assert.Equal(t, ModeNormal, s.GetMode())

	s.Observe(time.Second)
	s.Reset()
	stats := s.GetStats()
	assert.Equal(t, ModeNormal, stats.Mode)
	assert.Zero(t, stats.FrameCounter)
	assert.Zero(t, stats.ConsecutiveLate)
}
