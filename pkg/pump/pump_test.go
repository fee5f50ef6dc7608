package pump

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hevc-frame/pkg/clock"
	"hevc-frame/pkg/codec"
	"hevc-frame/pkg/codec/loopback"
	"hevc-frame/pkg/render"
	"hevc-frame/pkg/video"
)

// fakeTime advances instantly through pacing sleeps.
type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

// driftTime moves forward by step on every Now call.
type driftTime struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (d *driftTime) Now() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = d.now.Add(d.step)
	return d.now
}

func (d *driftTime) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- d.Now()
	return ch
}

// scriptedReader returns reads of the given sizes, then EOF.
type scriptedReader struct {
	sizes  []int
	err    error // returned instead of EOF when set
	closed atomic.Int32
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.sizes) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := min(r.sizes[0], len(p))
	r.sizes = r.sizes[1:]
	for i := 0; i < n; i++ {
		p[i] = byte(i + 1)
	}
	return n, nil
}

func (r *scriptedReader) Close() error {
	r.closed.Add(1)
	return nil
}

// endlessReader never reaches end of input.
type endlessReader struct{ closed atomic.Int32 }

func (r *endlessReader) Read(p []byte) (int, error) {
	p[0] = 1
	return 1, nil
}

func (r *endlessReader) Close() error {
	r.closed.Add(1)
	return nil
}

type fixture struct {
	dec    *loopback.Decoder
	ex     *codec.Exchange
	target *render.MemoryTarget
	holder *render.AtomicHolder
}

func newFixture(t *testing.T, opts loopback.Options) *fixture {
	t.Helper()
	dec, err := loopback.New(video.MIMEHEVC, opts)
	require.NoError(t, err)
	require.NoError(t, dec.Configure(codec.Format{
		MIME: video.MIMEHEVC, Width: 4, Height: 2, FrameRate: 60, ColorFormat: codec.ColorFormatRGBA,
	}, nil))
	require.NoError(t, dec.Start())

	target := render.NewMemoryTarget(4, 2, video.PixelFormatRGBA)
	holder := &render.AtomicHolder{}
	holder.Set(target)
	return &fixture{
		dec:    dec,
		ex:     codec.NewExchange(dec, render.NewRenderer(holder)),
		target: target,
		holder: holder,
	}
}

func fakeClock(t *testing.T, rate int) *clock.FrameClock {
	t.Helper()
	clk, err := clock.New(rate, &fakeTime{now: time.Unix(0, 0)})
	require.NoError(t, err)
	return clk
}

func sourceOf(r io.ReadCloser) Source {
	return func() (io.ReadCloser, error) { return r, nil }
}

func TestRunSubmitsChunksThenEndOfStream(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	src := &scriptedReader{sizes: []int{1000, 2000}}

	p, err := New(f.ex, sourceOf(src), fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	subs := f.dec.Submissions()
	require.Len(t, subs, 3)
	assert.Equal(t, loopback.Submission{Slot: subs[0].Slot, Size: 1000, PresentationUs: 0}, subs[0])
	assert.Equal(t, loopback.Submission{Slot: subs[1].Slot, Size: 2000, PresentationUs: 16666}, subs[1])
	assert.Equal(t, 0, subs[2].Size)
	assert.Equal(t, int64(33333), subs[2].PresentationUs)
	assert.Equal(t, codec.FlagEndOfStream, subs[2].Flags)

	assert.Equal(t, Terminated, p.State())
	assert.Equal(t, int32(1), src.closed.Load())
	assert.Equal(t, 2, f.target.Posts())

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(2), stats.Released)
	assert.Equal(t, uint64(2), stats.Exchange.Rendered)
}

func TestRunEndOfStreamSubmittedExactlyOnce(t *testing.T) {
	f := newFixture(t, loopback.Options{InputSlots: 8, OutputSlots: 8})
	src := &scriptedReader{}

	p, err := New(f.ex, sourceOf(src), fakeClock(t, 30), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	eos := 0
	for _, s := range f.dec.Submissions() {
		if s.Flags&codec.FlagEndOfStream != 0 {
			eos++
		}
	}
	assert.Equal(t, 1, eos)
	assert.Len(t, f.dec.Submissions(), 1)
	assert.Zero(t, f.target.Posts())
}

func TestRunSurvivesSaturatedInput(t *testing.T) {
	f := newFixture(t, loopback.Options{InputSlots: 1, OutputSlots: 1, StallInputs: 5})
	src := &scriptedReader{sizes: []int{10, 20, 30, 40}}

	p, err := New(f.ex, sourceOf(src), fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	subs := f.dec.Submissions()
	require.Len(t, subs, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, int64(i)*1_000_000/60, subs[i].PresentationUs)
	}
	assert.Equal(t, 4, f.target.Posts())
}

func TestRunDataWithEOFSubmitsEndOfStreamNext(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	r := &eofWithDataReader{}

	p, err := New(f.ex, func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	subs := f.dec.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, 5, subs[0].Size)
	assert.Equal(t, codec.FlagEndOfStream, subs[1].Flags)
	assert.Equal(t, 1, r.reads)
}

type eofWithDataReader struct{ reads int }

func (r *eofWithDataReader) Read(p []byte) (int, error) {
	r.reads++
	return copy(p, []byte("hello")), io.EOF
}

func TestRunSourceErrorAbortsAndCloses(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	src := &scriptedReader{sizes: []int{100}, err: errors.New("disk gone")}

	p, err := New(f.ex, sourceOf(src), fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)

	err = p.Run(context.Background())
	assert.ErrorIs(t, err, codec.ErrSourceRead)
	assert.Equal(t, int32(1), src.closed.Load())
	assert.Equal(t, Terminated, p.State())
}

func TestRunOpenFailure(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	p, err := New(f.ex, func() (io.ReadCloser, error) { return nil, errors.New("no such file") }, fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Run(context.Background()), codec.ErrSourceRead)
}

func TestRunCancellationDuringPacing(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	src := &endlessReader{}

	// one frame per second with the real clock: the pump spends its time pacing
	clk, err := clock.New(1, nil)
	require.NoError(t, err)
	p, err := New(f.ex, sourceOf(src), clk, DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return f.target.Posts() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, codec.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("pump did not observe cancellation within a bounded time")
	}
	assert.Equal(t, int32(1), src.closed.Load())
	assert.Equal(t, Terminated, p.State())
}

func TestRunRejectsSecondPumpOnSameExchange(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	require.NoError(t, f.ex.Claim())

	opened := false
	p, err := New(f.ex, func() (io.ReadCloser, error) {
		opened = true
		return io.NopCloser(&scriptedReader{}), nil
	}, fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, p.Run(context.Background()), codec.ErrExchangeBusy)
	assert.False(t, opened)
}

// flakyTarget is invalid for its first n validity checks.
type flakyTarget struct {
	*render.MemoryTarget
	invalidFor atomic.Int32
}

func (f *flakyTarget) Valid() bool {
	if f.invalidFor.Add(-1) >= 0 {
		return false
	}
	return f.MemoryTarget.Valid()
}

func TestRunSkipsFramesWhileTargetInvalid(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	target := &flakyTarget{MemoryTarget: render.NewMemoryTarget(4, 2, video.PixelFormatRGBA)}
	target.invalidFor.Store(1)
	f.holder.Set(target)

	p, err := New(f.ex, sourceOf(&scriptedReader{sizes: []int{1, 1}}), fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 1, target.Posts())
	assert.Equal(t, uint64(1), p.Stats().Exchange.Dropped)
}

func TestRunDirectMode(t *testing.T) {
	target := render.NewMemoryTarget(4, 2, video.PixelFormatRGBA)
	dec, err := loopback.New(video.MIMEHEVC, loopback.Options{Direct: true})
	require.NoError(t, err)
	require.NoError(t, dec.Configure(codec.Format{MIME: video.MIMEHEVC, Width: 4, Height: 2, FrameRate: 60}, target))
	require.NoError(t, dec.Start())
	ex := codec.NewExchange(dec, nil)

	p, err := New(ex, sourceOf(&scriptedReader{sizes: []int{3, 3, 3}}), fakeClock(t, 60), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 3, dec.Renders())
	assert.Equal(t, 3, target.Posts())
}

func TestRunAdaptiveSkipReleasesLateFramesUnrendered(t *testing.T) {
	f := newFixture(t, loopback.Options{})
	sizes := make([]int, 20)
	for i := range sizes {
		sizes[i] = 1
	}

	// every clock read costs 50ms, so the pump falls further behind each frame
	clk, err := clock.New(60, &driftTime{now: time.Unix(0, 0), step: 50 * time.Millisecond})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AdaptiveSkip = true
	p, err := New(f.ex, sourceOf(&scriptedReader{sizes: sizes}), clk, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))

	stats := p.Stats()
	assert.Equal(t, int64(20), stats.Released)
	assert.Greater(t, stats.Exchange.Dropped, uint64(0))
	assert.Less(t, f.target.Posts(), 20)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ChunkSize = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.InputTimeout = 0
	assert.Error(t, bad.Validate())
}
