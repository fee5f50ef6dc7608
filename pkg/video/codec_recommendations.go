package video

import (
	"fmt"
	"strings"
)

// CodecType represents the type of codec
type CodecType int

const (
	CodecTypeMPEG2 CodecType = iota
	CodecTypeMPEG4
	CodecTypeH264
	CodecTypeHEVC
	CodecTypeVP8
	CodecTypeVP9
	CodecTypeAV1
	CodecTypeUnknown
)

// MIME types accepted by the decoder factories.
const (
	MIMEMPEG2 = "video/mpeg2"
	MIMEMPEG4 = "video/mp4v-es"
	MIMEH264  = "video/avc"
	MIMEHEVC  = "video/hevc"
	MIMEVP8   = "video/x-vnd.on2.vp8"
	MIMEVP9   = "video/x-vnd.on2.vp9"
	MIMEAV1   = "video/av01"
)

// CodecInfo describes the decoder picked for a session.
type CodecInfo struct {
	Name            string
	LongName        string
	MIME            string
	IsHardwareAccel bool
	Width           int
	Height          int
	FPS             float64
}

// CodecRecommendation contains codec analysis and recommendations
type CodecRecommendation struct {
	CurrentCodec      string
	CurrentType       CodecType
	IsHardwareAccel   bool
	IsOptimal         bool
	RecommendedCodec  string
	RecommendedType   CodecType
	Reason            string
	ReencodingCommand string
}

var codecTypes = [...]struct {
	name      string
	mime      string
	fragments []string // substrings of decoder names and MIME types
}{
	CodecTypeMPEG2: {"MPEG-2", MIMEMPEG2, []string{"mpeg2"}},
	CodecTypeMPEG4: {"MPEG-4", MIMEMPEG4, []string{"mpeg4", "mp4v"}},
	CodecTypeH264:  {"H.264/AVC", MIMEH264, []string{"h264", "avc"}},
	CodecTypeHEVC:  {"H.265/HEVC", MIMEHEVC, []string{"h265", "hevc"}},
	CodecTypeVP8:   {"VP8", MIMEVP8, []string{"vp8"}},
	CodecTypeVP9:   {"VP9", MIMEVP9, []string{"vp9"}},
	CodecTypeAV1:   {"AV1", MIMEAV1, []string{"av1", "av01"}},
}

// first match wins
var detectOrder = []CodecType{
	CodecTypeH264, CodecTypeHEVC, CodecTypeMPEG2, CodecTypeMPEG4,
	CodecTypeVP8, CodecTypeVP9, CodecTypeAV1,
}

// DetectCodecType determines the codec type from a decoder name or MIME type
func DetectCodecType(codecName string) CodecType {
	lower := strings.ToLower(codecName)
	for _, c := range detectOrder {
		for _, frag := range codecTypes[c].fragments {
			if strings.Contains(lower, frag) {
				return c
			}
		}
	}
	return CodecTypeUnknown
}

func (c CodecType) known() bool { return c >= 0 && int(c) < len(codecTypes) }

// MIME returns the MIME type for the codec, or "" for CodecTypeUnknown.
func (c CodecType) MIME() string {
	if !c.known() {
		return ""
	}
	return codecTypes[c].mime
}

func (c CodecType) String() string {
	if !c.known() {
		return "Unknown"
	}
	return codecTypes[c].name
}

// AnalyzeCodec reports whether the selected decoder is a sensible choice for
// real-time playback of a raw elementary stream
func AnalyzeCodec(info CodecInfo) CodecRecommendation {
	currentType := DetectCodecType(info.Name)
	if currentType == CodecTypeUnknown {
		currentType = DetectCodecType(info.MIME)
	}

	rec := CodecRecommendation{
		CurrentCodec:    info.Name,
		CurrentType:     currentType,
		IsHardwareAccel: info.IsHardwareAccel,
	}

	switch currentType {
	case CodecTypeH264, CodecTypeHEVC:
		rec.RecommendedType = currentType
		if info.IsHardwareAccel {
			rec.IsOptimal = true
			rec.RecommendedCodec = info.Name
			rec.Reason = fmt.Sprintf("%s with hardware acceleration", currentType)
			return rec
		}
		rec.RecommendedCodec = currentType.String()
		rec.Reason = fmt.Sprintf("%s is decoded in software; no hardware decoder was opened", currentType)
		if info.Width*info.Height > 1920*1080 || info.FPS > 30 {
			rec.RecommendedType = CodecTypeH264
			rec.RecommendedCodec = "h264"
			rec.ReencodingCommand = generateReencodingCommand(info, "h264")
		}

	case CodecTypeAV1, CodecTypeVP8, CodecTypeVP9, CodecTypeMPEG2, CodecTypeMPEG4:
		if info.IsHardwareAccel {
			rec.IsOptimal = true
			rec.RecommendedCodec = info.Name
			rec.RecommendedType = currentType
			rec.Reason = fmt.Sprintf("%s with hardware acceleration", currentType)
			return rec
		}
		rec.RecommendedCodec = "hevc"
		rec.RecommendedType = CodecTypeHEVC
		rec.Reason = fmt.Sprintf("%s has no hardware path here, re-encode to HEVC", currentType)
		rec.ReencodingCommand = generateReencodingCommand(info, "hevc")

	default:
		rec.RecommendedCodec = "hevc"
		rec.RecommendedType = CodecTypeHEVC
		rec.Reason = "Unknown codec - recommend HEVC elementary stream"
		rec.ReencodingCommand = generateReencodingCommand(info, "hevc")
	}

	return rec
}

// generateReencodingCommand creates an ffmpeg command that writes a raw
// elementary stream the player can consume directly
func generateReencodingCommand(info CodecInfo, targetCodec string) string {
	var scaleFilter string
	if info.Height > 1080 {
		scaleFilter = "-vf scale=1920:1080 "
	}

	switch targetCodec {
	case "h264":
		return fmt.Sprintf("ffmpeg -i input.mp4 -c:v libx264 -preset slow -crf 23 %s-an -f h264 output.h264", scaleFilter)
	case "hevc":
		return fmt.Sprintf("ffmpeg -i input.mp4 -c:v libx265 -preset slow -crf 28 %s-an -f hevc output.h265", scaleFilter)
	default:
		return ""
	}
}
