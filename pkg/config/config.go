// Package config loads player settings from defaults, an optional config
// file, a .env file and HEVCFRAME_* environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/lifecycle"
	"hevc-frame/pkg/pump"
)

// Decoder backends.
const (
	BackendFFmpeg    = "ffmpeg"
	BackendGStreamer = "gstreamer"
	BackendLoopback  = "loopback"
)

// Config is the full player configuration.
type Config struct {
	Codec     CodecConfig     `mapstructure:"codec"`
	Video     VideoConfig     `mapstructure:"video"`
	Pump      PumpConfig      `mapstructure:"pump"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Decoder   DecoderConfig   `mapstructure:"decoder"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	AWS       AWSConfig       `mapstructure:"aws"`
}

type CodecConfig struct {
	MIME string `mapstructure:"mime"`
}

type VideoConfig struct {
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	FrameRate        int    `mapstructure:"frame_rate"`
	BitRate          int    `mapstructure:"bit_rate"`
	KeyFrameInterval int    `mapstructure:"keyframe_interval"`
	ColorFormat      string `mapstructure:"color_format"`
}

type PumpConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	InputTimeout  time.Duration `mapstructure:"input_timeout"`
	OutputTimeout time.Duration `mapstructure:"output_timeout"`
	LogEvery      int           `mapstructure:"log_every"`
	AdaptiveSkip  bool          `mapstructure:"adaptive_skip"`
}

type LifecycleConfig struct {
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

// DecoderConfig selects and sizes the decoder backend.
type DecoderConfig struct {
	Backend     string `mapstructure:"backend"`
	InputSlots  int    `mapstructure:"input_slots"`
	OutputSlots int    `mapstructure:"output_slots"`
	// Name forces a specific libavcodec decoder, e.g. "hevc_v4l2m2m".
	Name          string `mapstructure:"name"`
	ForceSoftware bool   `mapstructure:"force_software"`
}

// StreamConfig locates the raw elementary stream to play.
type StreamConfig struct {
	Path   string `mapstructure:"path"`
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Loop   bool   `mapstructure:"loop"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// Format returns the decoder configuration described by the codec and video
// sections.
func (c *Config) Format() (codec.Format, error) {
	color, err := codec.ParseColorFormat(c.Video.ColorFormat)
	if err != nil {
		return codec.Format{}, err
	}
	return codec.Format{
		MIME:             c.Codec.MIME,
		Width:            c.Video.Width,
		Height:           c.Video.Height,
		FrameRate:        c.Video.FrameRate,
		BitRate:          c.Video.BitRate,
		KeyFrameInterval: c.Video.KeyFrameInterval,
		ColorFormat:      color,
	}, nil
}

// PumpSettings converts the pump section.
func (c *Config) PumpSettings() pump.Config {
	p := pump.DefaultConfig()
	p.ChunkSize = c.Pump.ChunkSize
	p.InputTimeout = c.Pump.InputTimeout
	p.OutputTimeout = c.Pump.OutputTimeout
	p.LogEvery = c.Pump.LogEvery
	p.AdaptiveSkip = c.Pump.AdaptiveSkip
	return p
}

// LifecycleSettings builds the controller configuration.
func (c *Config) LifecycleSettings() (lifecycle.Config, error) {
	format, err := c.Format()
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{
		Format:      format,
		Pump:        c.PumpSettings(),
		JoinTimeout: c.Lifecycle.JoinTimeout,
	}, nil
}

// Validate rejects settings the player cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Codec.MIME == "" {
		errs = append(errs, errors.New("codec.mime must be set"))
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		errs = append(errs, fmt.Errorf("video size must be positive, got %dx%d", c.Video.Width, c.Video.Height))
	}
	if c.Video.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("video.frame_rate must be positive, got %d", c.Video.FrameRate))
	}
	if _, err := codec.ParseColorFormat(c.Video.ColorFormat); err != nil {
		errs = append(errs, err)
	}
	if err := c.PumpSettings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Lifecycle.JoinTimeout <= 0 {
		errs = append(errs, errors.New("lifecycle.join_timeout must be positive"))
	}
	switch c.Decoder.Backend {
	case BackendFFmpeg, BackendGStreamer, BackendLoopback:
	default:
		errs = append(errs, fmt.Errorf("unknown decoder.backend %q", c.Decoder.Backend))
	}
	if c.Decoder.InputSlots <= 0 || c.Decoder.OutputSlots <= 0 {
		errs = append(errs, errors.New("decoder slot counts must be positive"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func normalize(c *Config) {
	c.Decoder.Backend = strings.ToLower(strings.TrimSpace(c.Decoder.Backend))
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Video.ColorFormat = strings.ToLower(c.Video.ColorFormat)
	if c.Stream.Dir == "" {
		c.Stream.Dir = defaultStreamDir
	}
}

const defaultStreamDir = "assets/streams"

func setDefaults(v *viper.Viper) {
	v.SetDefault("codec.mime", "video/hevc")

	v.SetDefault("video.width", 1280)
	v.SetDefault("video.height", 720)
	v.SetDefault("video.frame_rate", 60)
	v.SetDefault("video.bit_rate", 8_000_000)
	v.SetDefault("video.keyframe_interval", 1)
	v.SetDefault("video.color_format", "surface")

	v.SetDefault("pump.chunk_size", 128*1024)
	v.SetDefault("pump.input_timeout", "10ms")
	v.SetDefault("pump.output_timeout", "10ms")
	v.SetDefault("pump.log_every", 30)
	v.SetDefault("pump.adaptive_skip", false)

	v.SetDefault("lifecycle.join_timeout", "1s")

	v.SetDefault("decoder.backend", BackendFFmpeg)
	v.SetDefault("decoder.input_slots", 4)
	v.SetDefault("decoder.output_slots", 4)
	v.SetDefault("decoder.name", "")
	v.SetDefault("decoder.force_software", false)

	v.SetDefault("stream.path", "")
	v.SetDefault("stream.dir", defaultStreamDir)
	v.SetDefault("stream.bucket", "")
	v.SetDefault("stream.prefix", "")
	v.SetDefault("stream.loop", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("aws.region", "")
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("hevc-frame")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HEVCFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variable names older deployments already export.
	bindings := map[string][]string{
		"aws.region":             {"HEVCFRAME_AWS_REGION", "AWS_DEFAULT_REGION"},
		"logging.level":          {"HEVCFRAME_LOGGING_LEVEL", "HEVCFRAME_LOG_LEVEL"},
		"decoder.name":           {"HEVCFRAME_DECODER_NAME", "VIDEO_DECODER"},
		"decoder.force_software": {"HEVCFRAME_DECODER_FORCE_SOFTWARE", "FORCE_SOFTWARE_DECODER"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	setDefaults(v)
	return v, nil
}

// Manager holds the loaded configuration and reloads it when the config file
// changes.
type Manager struct {
	viper     *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	watching  bool
}

// NewManager loads .env, then the config file at path. An empty path looks
// for hevc-frame.toml in the working directory and tolerates its absence.
func NewManager(path string) (*Manager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "config.NewManager",
			"error":    err.Error(),
		}).Debug("Config: .env file not loaded")
	}

	v, err := newViper()
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	m := &Manager{viper: v}
	if err := m.readConfigFile(path != ""); err != nil {
		return nil, err
	}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

// Load is NewManager(path).Config() for callers that never watch.
func Load(path string) (*Config, error) {
	m, err := NewManager(path)
	if err != nil {
		return nil, err
	}
	return m.Config(), nil
}

func (m *Manager) readConfigFile(required bool) error {
	err := m.viper.ReadInConfig()
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"function": "config.readConfigFile",
			"file":     m.viper.ConfigFileUsed(),
		}).Info("Config: loaded config file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && !required {
		return nil
	}
	return fmt.Errorf("failed to read config file %s: %w", m.viper.ConfigFileUsed(), err)
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns a copy of the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// OnChange registers a callback run after every successful reload.
func (m *Manager) OnChange(cb func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Watch starts reloading the config file when it changes on disk. Invalid
// edits are logged and the previous configuration is kept.
func (m *Manager) Watch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching || m.viper.ConfigFileUsed() == "" {
		return
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		entry := logrus.WithFields(logrus.Fields{
			"function": "config.Watch",
			"op":       e.Op.String(),
			"file":     e.Name,
		})
		if err := m.reload(); err != nil {
			entry.WithError(err).Warn("Config: reload failed, keeping previous configuration")
			return
		}
		entry.Info("Config: reloaded")
	})
	m.viper.WatchConfig()
	m.watching = true
}

func (m *Manager) reload() error {
	if err := m.viper.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := m.decode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := slices.Clone(m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		c := *cfg
		cb(&c)
	}
	return nil
}
