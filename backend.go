package main

import (
	"fmt"
	"strings"

	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/codec/ffmpeg"
	"hevc-frame/pkg/codec/gstreamer"
	"hevc-frame/pkg/codec/loopback"
	"hevc-frame/pkg/config"
)

// hardware decoder name fragments across libavcodec and GStreamer
var hardwareMarkers = []string{"vaapi", "nvdec", "cuvid", "rkmpp", "videotoolbox", "v4l2", "omx", "mpp"}

func isHardwareDecoder(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range hardwareMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// newBackend returns the decoder factory and capability probe for the
// configured backend.
func newBackend(cfg config.DecoderConfig) (codec.Factory, codec.Probe, error) {
	switch cfg.Backend {
	case config.BackendFFmpeg:
		opts := ffmpeg.Options{
			Name:          cfg.Name,
			ForceSoftware: cfg.ForceSoftware,
			InputSlots:    cfg.InputSlots,
			OutputSlots:   cfg.OutputSlots,
		}
		return ffmpeg.NewFactory(opts), ffmpeg.Probe{Options: opts}, nil

	case config.BackendGStreamer:
		opts := gstreamer.Options{
			InputSlots:  cfg.InputSlots,
			OutputSlots: cfg.OutputSlots,
			Decoder:     cfg.Name,
		}
		return gstreamer.NewFactory(opts), gstreamer.Probe{Options: opts}, nil

	case config.BackendLoopback:
		factory := loopback.NewFactory(loopback.Options{
			InputSlots:  cfg.InputSlots,
			OutputSlots: cfg.OutputSlots,
		})
		return factory, codec.FactoryProbe{Factory: factory}, nil

	default:
		return nil, nil, fmt.Errorf("unknown decoder backend %q", cfg.Backend)
	}
}
