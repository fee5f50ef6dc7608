package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hevc-frame/pkg/codec"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, "video/hevc", v.GetString("codec.mime"))
	assert.Equal(t, 60, v.GetInt("video.frame_rate"))
	assert.Equal(t, 131072, v.GetInt("pump.chunk_size"))
	assert.Equal(t, 10*time.Millisecond, v.GetDuration("pump.input_timeout"))
	assert.Equal(t, time.Second, v.GetDuration("lifecycle.join_timeout"))
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendFFmpeg, cfg.Decoder.Backend)
	assert.Equal(t, defaultStreamDir, cfg.Stream.Dir)

	format, err := cfg.Format()
	require.NoError(t, err)
	assert.Equal(t, codec.Format{
		MIME:             "video/hevc",
		Width:            1280,
		Height:           720,
		FrameRate:        60,
		BitRate:          8_000_000,
		KeyFrameInterval: 1,
		ColorFormat:      codec.ColorFormatSurface,
	}, format)

	lc, err := cfg.LifecycleSettings()
	require.NoError(t, err)
	assert.Equal(t, 30, lc.Pump.LogEvery)
	assert.Equal(t, 10*time.Millisecond, lc.Pump.OutputTimeout)
	assert.Equal(t, time.Second, lc.JoinTimeout)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[video]
width = 1920
height = 1080
color_format = "RGBA"

[decoder]
backend = "Loopback"

[pump]
output_timeout = "25ms"
`), 0o644))

	t.Setenv("HEVCFRAME_VIDEO_FRAME_RATE", "30")
	t.Setenv("VIDEO_DECODER", "hevc_v4l2m2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1920, cfg.Video.Width)
	assert.Equal(t, 30, cfg.Video.FrameRate)
	assert.Equal(t, BackendLoopback, cfg.Decoder.Backend)
	assert.Equal(t, "hevc_v4l2m2m", cfg.Decoder.Name)
	assert.Equal(t, 25*time.Millisecond, cfg.Pump.OutputTimeout)

	format, err := cfg.Format()
	require.NoError(t, err)
	assert.Equal(t, codec.ColorFormatRGBA, format.ColorFormat)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Video.FrameRate = 0
	assert.ErrorContains(t, bad.Validate(), "frame_rate")

	bad = *cfg
	bad.Decoder.Backend = "mediacodec"
	assert.ErrorContains(t, bad.Validate(), "unknown decoder.backend")

	bad = *cfg
	bad.Pump.ChunkSize = 0
	assert.ErrorContains(t, bad.Validate(), "chunk size")

	bad = *cfg
	bad.Lifecycle.JoinTimeout = 0
	assert.ErrorContains(t, bad.Validate(), "join_timeout")

	bad = *cfg
	bad.Video.ColorFormat = "nv12"
	assert.ErrorIs(t, bad.Validate(), codec.ErrInvalidFormat)
}

func TestReloadNotifiesCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)

	var got *Config
	calls := 0
	m.OnChange(func(c *Config) { got = c })
	m.OnChange(func(*Config) { calls++ })

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644))
	require.NoError(t, m.reload())
	require.NotNil(t, got)
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "debug", m.Config().Logging.Level)
	assert.Equal(t, 1, calls)

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0o644))
	assert.Error(t, m.reload())
	assert.Equal(t, "debug", m.Config().Logging.Level)
	assert.Equal(t, 1, calls)
}
