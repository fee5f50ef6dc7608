package ffmpeg

import (
	"runtime"

	"hevc-frame/pkg/video"
)

// Options select the libavcodec decoder.
type Options struct {
	// Name forces one decoder, e.g. "hevc_v4l2m2m". It is skipped when it
	// does not decode the configured codec.
	Name string
	// ForceSoftware skips the hardware candidates.
	ForceSoftware bool
	InputSlots    int
	OutputSlots   int
}

func (o Options) withDefaults() Options {
	if o.InputSlots <= 0 {
		o.InputSlots = 4
	}
	if o.OutputSlots <= 0 {
		o.OutputSlots = 4
	}
	return o
}

// hardware decoders in the order they are tried per platform
var hardwareDecoders = map[string]map[string][]string{
	"linux": {
		// V4L2 decoders are left out: they do not work on Raspberry Pi 4 kernels.
		video.MIMEHEVC: {"hevc_rkmpp", "hevc_vaapi", "hevc_nvdec"},
		video.MIMEH264: {"h264_rkmpp", "h264_vaapi", "h264_nvdec", "h264_cuvid"},
	},
	"darwin": {
		video.MIMEHEVC: {"hevc_videotoolbox"},
		video.MIMEH264: {"h264_videotoolbox"},
	},
}

var softwareDecoders = map[string]string{
	video.MIMEHEVC: "hevc",
	video.MIMEH264: "h264",
}

// candidates returns decoder names to try for mime, best first. The last
// entry is always the software decoder.
func candidates(mime, goos string, opts Options) []string {
	sw, ok := softwareDecoders[mime]
	if !ok {
		return nil
	}

	var names []string
	if !opts.ForceSoftware {
		if opts.Name != "" {
			names = append(names, opts.Name)
		}
		for _, name := range hardwareDecoders[goos][mime] {
			if name != opts.Name {
				names = append(names, name)
			}
		}
	}
	if opts.Name != sw || opts.ForceSoftware {
		names = append(names, sw)
	}
	return names
}

func platformCandidates(mime string, opts Options) []string {
	return candidates(mime, runtime.GOOS, opts)
}
