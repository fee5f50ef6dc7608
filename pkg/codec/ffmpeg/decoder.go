// Package ffmpeg decodes raw Annex B HEVC and H.264 streams with libavcodec.
// Pictures are converted to RGBA with libswscale and handed out through
// codec.PixelSource, so the caller presents them.
package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil libswscale

#include <stdlib.h>
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/log.h>
#include <libswscale/swscale.h>

typedef struct {
    const AVCodec        *codec;
    AVCodecContext       *ctx;
    AVCodecParserContext *parser;
    AVPacket             *pkt;
    AVFrame              *frame;
    struct SwsContext    *sws;
    uint8_t              *rgba;
    int                   rgba_size;
    int                   width;
    int                   height;
    int                   src_fmt;
} ffdec;

static void ff_close(ffdec *d) {
    if (!d) return;
    sws_freeContext(d->sws);
    d->sws = NULL;
    av_freep(&d->rgba);
    av_frame_free(&d->frame);
    av_packet_free(&d->pkt);
    if (d->parser) {
        av_parser_close(d->parser);
        d->parser = NULL;
    }
    avcodec_free_context(&d->ctx);
    d->codec = NULL;
}

// Returns 0 when the named decoder exists, decodes codec_id and opens.
static int ff_open(ffdec *d, const char *name, int codec_id) {
    d->codec = avcodec_find_decoder_by_name(name);
    if (!d->codec) return -1;
    if ((int)d->codec->id != codec_id) return -2;

    d->ctx = avcodec_alloc_context3(d->codec);
    if (!d->ctx) return -3;
    d->ctx->thread_type = FF_THREAD_FRAME;
    d->ctx->thread_count = 0;
    if (avcodec_open2(d->ctx, d->codec, NULL) < 0) {
        avcodec_free_context(&d->ctx);
        return -4;
    }

    d->parser = av_parser_init(codec_id);
    d->pkt = av_packet_alloc();
    d->frame = av_frame_alloc();
    if (!d->parser || !d->pkt || !d->frame) {
        ff_close(d);
        return -5;
    }
    return 0;
}

// Splits input into access units. Returns bytes consumed; *have_pkt is set
// when d->pkt holds a complete unit. data == NULL flushes the parser.
static int ff_parse(ffdec *d, const uint8_t *data, int size, int64_t pts, int *have_pkt) {
    uint8_t *out = NULL;
    int out_size = 0;
    *have_pkt = 0;
    int used = av_parser_parse2(d->parser, d->ctx, &out, &out_size,
                                data, size, pts, AV_NOPTS_VALUE, 0);
    if (used < 0) return used;
    if (out_size > 0) {
        av_packet_unref(d->pkt);
        d->pkt->data = out;
        d->pkt->size = out_size;
        d->pkt->pts = d->parser->pts;
        *have_pkt = 1;
    }
    return used;
}

// Returns 0 when accepted, 1 when frames must be received first, <0 on error.
static int ff_send(ffdec *d, int flush) {
    int ret = avcodec_send_packet(d->ctx, flush ? NULL : d->pkt);
    if (ret == AVERROR(EAGAIN)) return 1;
    if (ret == AVERROR_EOF) return 0;
    return ret < 0 ? ret : 0;
}

// Returns 1 with d->rgba holding a converted picture, 0 when none is ready,
// <0 on error.
static int ff_receive(ffdec *d) {
    int ret = avcodec_receive_frame(d->ctx, d->frame);
    if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
    if (ret < 0) return ret;

    int w = d->frame->width;
    int h = d->frame->height;
    int fmt = d->frame->format;
    if (!d->sws || w != d->width || h != d->height || fmt != d->src_fmt) {
        sws_freeContext(d->sws);
        av_freep(&d->rgba);
        d->sws = sws_getContext(w, h, fmt, w, h, AV_PIX_FMT_RGBA,
                                SWS_BILINEAR, NULL, NULL, NULL);
        d->rgba_size = av_image_get_buffer_size(AV_PIX_FMT_RGBA, w, h, 1);
        d->rgba = av_malloc(d->rgba_size);
        if (!d->sws || !d->rgba) {
            av_frame_unref(d->frame);
            return AVERROR(ENOMEM);
        }
        d->width = w;
        d->height = h;
        d->src_fmt = fmt;
    }

    uint8_t *dst[4];
    int dst_linesize[4];
    av_image_fill_arrays(dst, dst_linesize, d->rgba, AV_PIX_FMT_RGBA, w, h, 1);
    sws_scale(d->sws, (const uint8_t * const *)d->frame->data, d->frame->linesize,
              0, h, dst, dst_linesize);

    av_frame_unref(d->frame);
    return 1;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	"hevc-frame/pkg/clock"
	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

func init() {
	// Suppress non-critical warnings such as the colourspace-conversion notice.
	C.av_log_set_level(C.AV_LOG_ERROR)
}

var codecIDs = map[string]C.int{
	video.MIMEHEVC: C.int(C.AV_CODEC_ID_HEVC),
	video.MIMEH264: C.int(C.AV_CODEC_ID_H264),
}

func averror(code C.int) string {
	var buf [128]C.char
	C.av_strerror(code, &buf[0], C.size_t(len(buf)))
	return C.GoString(&buf[0])
}

type state int

const (
	stateCreated state = iota
	stateConfigured
	stateStarted
	stateStopped
	stateReleased
)

type decoded struct {
	formatChange bool
	info         codec.BufferInfo
	frame        *video.Frame
}

// Decoder runs libavcodec synchronously inside QueueInputBuffer. Nothing
// decodes in the background, so an empty dequeue just waits out its timeout
// and reports InfoTryAgainLater.
//
// A chunk is cut into several access units, so pictures are stamped from the
// frame clock by output index rather than with the chunk's timestamp.
type Decoder struct {
	mu    sync.Mutex
	mime  string
	opts  Options
	name  string
	cdec  *C.ffdec
	clock *clock.FrameClock

	state  state
	format codec.Format
	width  int
	height int

	freeInput  []int
	heldInput  map[int]bool
	freeOutput []int
	heldOutput map[int]decoded
	pending    []decoded
	frames     int64
}

// New creates an unconfigured decoder for mime.
func New(mime string, opts Options) (*Decoder, error) {
	if _, ok := codecIDs[mime]; !ok {
		return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedCodec, mime)
	}
	return &Decoder{mime: mime, opts: opts.withDefaults()}, nil
}

// NewFactory returns a factory creating decoders with opts.
func NewFactory(opts Options) codec.Factory {
	return codec.FactoryFunc(func(mime string) (codec.Decoder, error) {
		return New(mime, opts)
	})
}

// Name returns the libavcodec decoder name once configured.
func (d *Decoder) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.name == "" {
		return "ffmpeg"
	}
	return "ffmpeg/" + d.name
}

// Configure opens the best working decoder for the format. The target is not
// used; pictures are pulled with OutputFrame.
func (d *Decoder) Configure(format codec.Format, _ render.Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated {
		return fmt.Errorf("%w: configure in state %d", codec.ErrInvalidState, d.state)
	}
	if err := format.Validate(); err != nil {
		return err
	}
	if format.MIME != d.mime {
		return fmt.Errorf("%w: decoder created for %s, configured for %s", codec.ErrInvalidFormat, d.mime, format.MIME)
	}

	clk, err := clock.New(format.FrameRate, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", codec.ErrInvalidFormat, err)
	}

	cdec := (*C.ffdec)(C.calloc(1, C.size_t(unsafe.Sizeof(C.ffdec{}))))
	if cdec == nil {
		return fmt.Errorf("%w: out of memory", codec.ErrDecoder)
	}
	id := codecIDs[d.mime]
	for _, name := range platformCandidates(d.mime, d.opts) {
		entry := logrus.WithFields(logrus.Fields{"function": "ffmpeg.Configure", "decoder": name})
		cname := C.CString(name)
		ret := C.ff_open(cdec, cname, id)
		C.free(unsafe.Pointer(cname))
		if ret != 0 {
			entry.WithField("code", int(ret)).Debug("FFmpeg: decoder not usable")
			continue
		}
		d.cdec = cdec
		d.clock = clk
		d.name = name
		d.format = format
		d.width, d.height = format.Width, format.Height
		d.state = stateConfigured
		entry.Info("FFmpeg: opened decoder")
		return nil
	}

	C.free(unsafe.Pointer(cdec))
	return fmt.Errorf("%w: no working libavcodec decoder for %s", codec.ErrUnsupportedCodec, d.mime)
}

// Start makes the slot queues available.
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateConfigured {
		return fmt.Errorf("%w: start in state %d", codec.ErrInvalidState, d.state)
	}
	d.freeInput = make([]int, d.opts.InputSlots)
	for i := range d.freeInput {
		d.freeInput[i] = i
	}
	d.freeOutput = make([]int, d.opts.OutputSlots)
	for i := range d.freeOutput {
		d.freeOutput[i] = i
	}
	d.heldInput = make(map[int]bool)
	d.heldOutput = make(map[int]decoded)
	d.pending = nil
	d.state = stateStarted
	return nil
}

func (d *Decoder) checkStartedLocked(op string) error {
	switch d.state {
	case stateStarted:
		return nil
	case stateReleased:
		return fmt.Errorf("%w: %s", codec.ErrReleased, op)
	default:
		return fmt.Errorf("%w: %s in state %d", codec.ErrInvalidState, op, d.state)
	}
}

// idle waits out timeout after a dequeue found nothing, so a caller polling
// both queues spends at least one timeout per empty pass.
func idle(idx int, err error, timeout time.Duration) (int, error) {
	if err == nil && idx == codec.InfoTryAgainLater && timeout > 0 {
		time.Sleep(timeout)
	}
	return idx, err
}

// DequeueInputBuffer returns a free input slot, or InfoTryAgainLater after
// timeout while the decoded queue is full.
func (d *Decoder) DequeueInputBuffer(timeout time.Duration) (int, error) {
	idx, err := d.dequeueInput()
	return idle(idx, err, timeout)
}

func (d *Decoder) dequeueInput() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("DequeueInputBuffer"); err != nil {
		return 0, err
	}
	if len(d.freeInput) == 0 || len(d.pending) >= d.opts.OutputSlots {
		return codec.InfoTryAgainLater, nil
	}
	idx := d.freeInput[0]
	d.freeInput = d.freeInput[1:]
	d.heldInput[idx] = true
	return idx, nil
}

// QueueInputBuffer parses data into access units and decodes them. The
// end-of-stream flag drains the decoder and queues an empty end-of-stream
// output after the last picture.
func (d *Decoder) QueueInputBuffer(index int, data []byte, presentationUs int64, flags codec.BufferFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("QueueInputBuffer"); err != nil {
		return err
	}
	if !d.heldInput[index] {
		return fmt.Errorf("%w: input slot %d is not dequeued", codec.ErrDecoder, index)
	}
	delete(d.heldInput, index)
	d.freeInput = append(d.freeInput, index)

	if len(data) > 0 {
		if err := d.decodeLocked(data, presentationUs); err != nil {
			return err
		}
	}
	if flags&codec.FlagEndOfStream != 0 {
		if err := d.drainLocked(presentationUs); err != nil {
			return err
		}
		d.pending = append(d.pending, decoded{
			info: codec.BufferInfo{PresentationUs: d.clock.PresentationTime(d.frames), Flags: codec.FlagEndOfStream},
		})
	}
	return nil
}

func (d *Decoder) decodeLocked(data []byte, pts int64) error {
	// The parser may hand back pointers into its input, so the chunk lives in
	// C memory until every unit cut from it has been sent.
	buf := C.CBytes(data)
	defer C.free(buf)

	ptr := (*C.uint8_t)(buf)
	remaining := C.int(len(data))
	for remaining > 0 {
		var have C.int
		used := C.ff_parse(d.cdec, ptr, remaining, C.int64_t(pts), &have)
		if used < 0 {
			return fmt.Errorf("%w: parse: %s", codec.ErrDecoder, averror(used))
		}
		ptr = (*C.uint8_t)(unsafe.Add(unsafe.Pointer(ptr), int(used)))
		remaining -= used
		if have != 0 {
			if err := d.sendLocked(false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decoder) drainLocked(pts int64) error {
	var have C.int
	if used := C.ff_parse(d.cdec, nil, 0, C.int64_t(pts), &have); used < 0 {
		return fmt.Errorf("%w: parse flush: %s", codec.ErrDecoder, averror(used))
	}
	if have != 0 {
		if err := d.sendLocked(false); err != nil {
			return err
		}
	}
	return d.sendLocked(true)
}

func (d *Decoder) sendLocked(flush bool) error {
	f := C.int(0)
	if flush {
		f = 1
	}
	for {
		ret := C.ff_send(d.cdec, f)
		if ret < 0 {
			return fmt.Errorf("%w: send packet: %s", codec.ErrDecoder, averror(ret))
		}
		if err := d.receiveLocked(); err != nil {
			return err
		}
		if ret == 0 {
			return nil
		}
	}
}

func (d *Decoder) receiveLocked() error {
	for {
		ret := C.ff_receive(d.cdec)
		if ret < 0 {
			return fmt.Errorf("%w: receive frame: %s", codec.ErrDecoder, averror(ret))
		}
		if ret == 0 {
			return nil
		}

		w, h := int(d.cdec.width), int(d.cdec.height)
		if w != d.width || h != d.height || d.frames == 0 {
			d.width, d.height = w, h
			d.pending = append(d.pending, decoded{formatChange: true})
		}
		pts := d.clock.PresentationTime(d.frames)
		d.frames++

		frame := &video.Frame{
			Width:          w,
			Height:         h,
			Stride:         w * 4,
			Format:         video.PixelFormatRGBA,
			Pix:            C.GoBytes(unsafe.Pointer(d.cdec.rgba), d.cdec.rgba_size),
			PresentationUs: pts,
		}
		d.pending = append(d.pending, decoded{
			info:  codec.BufferInfo{Size: len(frame.Pix), PresentationUs: pts},
			frame: frame,
		})
	}
}

// DequeueOutputBuffer returns the next decoded slot or format change, or
// InfoTryAgainLater after timeout when there is none.
func (d *Decoder) DequeueOutputBuffer(info *codec.BufferInfo, timeout time.Duration) (int, error) {
	idx, err := d.dequeueOutput(info)
	return idle(idx, err, timeout)
}

func (d *Decoder) dequeueOutput(info *codec.BufferInfo) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("DequeueOutputBuffer"); err != nil {
		return 0, err
	}
	if len(d.pending) == 0 {
		return codec.InfoTryAgainLater, nil
	}
	if d.pending[0].formatChange {
		d.pending = d.pending[1:]
		return codec.InfoOutputFormatChanged, nil
	}
	if len(d.freeOutput) == 0 {
		return codec.InfoTryAgainLater, nil
	}

	out := d.pending[0]
	d.pending = d.pending[1:]
	idx := d.freeOutput[0]
	d.freeOutput = d.freeOutput[1:]
	d.heldOutput[idx] = out
	*info = out.info
	return idx, nil
}

// OutputFormat reports the decoded picture size in RGBA.
func (d *Decoder) OutputFormat() codec.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.format
	f.Width, f.Height = d.width, d.height
	f.ColorFormat = codec.ColorFormatRGBA
	return f
}

// OutputFrame returns the picture in a held output slot. The frame is owned
// by the caller.
func (d *Decoder) OutputFrame(index int) (*video.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.heldOutput[index]
	if !ok {
		return nil, fmt.Errorf("%w: output slot %d is not dequeued", codec.ErrDecoder, index)
	}
	if out.frame == nil {
		return nil, fmt.Errorf("output slot %d carries no picture", index)
	}
	return out.frame, nil
}

// ReleaseOutputBuffer frees a held slot. Rendering is the caller's job.
func (d *Decoder) ReleaseOutputBuffer(index int, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkStartedLocked("ReleaseOutputBuffer"); err != nil {
		return err
	}
	if _, ok := d.heldOutput[index]; !ok {
		return fmt.Errorf("%w: output slot %d is not dequeued", codec.ErrDecoder, index)
	}
	delete(d.heldOutput, index)
	d.freeOutput = append(d.freeOutput, index)
	return nil
}

// Stop drops queued work.
func (d *Decoder) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateReleased {
		return fmt.Errorf("%w: Stop", codec.ErrReleased)
	}
	d.pending = nil
	d.heldInput = nil
	d.heldOutput = nil
	d.state = stateStopped
	logrus.WithFields(logrus.Fields{
		"function": "ffmpeg.Stop",
		"decoder":  d.name,
		"frames":   d.frames,
	}).Debug("FFmpeg: decoder stopped")
	return nil
}

// Release frees the libavcodec context. Further calls fail with
// codec.ErrReleased.
func (d *Decoder) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateReleased {
		return fmt.Errorf("%w: Release", codec.ErrReleased)
	}
	if d.cdec != nil {
		C.ff_close(d.cdec)
		C.free(unsafe.Pointer(d.cdec))
		d.cdec = nil
	}
	d.pending = nil
	d.state = stateReleased
	return nil
}

// Probe checks codec support by opening and closing a decoder, as Configure
// would.
type Probe struct {
	Options Options
}

// Supports reports whether any candidate decoder for mime opens.
func (p Probe) Supports(mime string) (bool, error) {
	id, ok := codecIDs[mime]
	if !ok {
		return false, nil
	}

	cdec := (*C.ffdec)(C.calloc(1, C.size_t(unsafe.Sizeof(C.ffdec{}))))
	if cdec == nil {
		return false, fmt.Errorf("%w: out of memory", codec.ErrDecoder)
	}
	defer C.free(unsafe.Pointer(cdec))

	for _, name := range platformCandidates(mime, p.Options.withDefaults()) {
		cname := C.CString(name)
		ret := C.ff_open(cdec, cname, id)
		C.free(unsafe.Pointer(cname))
		if ret == 0 {
			C.ff_close(cdec)
			return true, nil
		}
	}
	return false, nil
}
