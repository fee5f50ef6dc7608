package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimeProvider advances its own clock by the requested duration instead of sleeping.
type fakeTimeProvider struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	block  bool
}

func (f *fakeTimeProvider) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeProvider) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	ch := make(chan time.Time, 1)
	if !f.block {
		f.now = f.now.Add(d)
		ch <- f.now
	}
	return ch
}

func TestNewRejectsNonPositiveRate(t *testing.T) {
	_, err := New(0, nil)
	assert.ErrorIs(t, err, ErrInvalidFrameRate)
	_, err = New(-30, nil)
	assert.ErrorIs(t, err, ErrInvalidFrameRate)
}

func TestPresentationTimeIntegerSemantics(t *testing.T) {
	for _, rate := range []int{1, 24, 25, 30, 60, 120} {
		c, err := New(rate, nil)
		require.NoError(t, err)

		prev := int64(-1)
		for i := int64(0); i < 1000; i++ {
			got := c.PresentationTime(i)
			require.Equal(t, i*1_000_000/int64(rate), got)
			require.Greater(t, got, prev, "rate=%d i=%d", rate, i)
			prev = got
		}
	}
}

func TestPresentationTimeAt60fps(t *testing.T) {
	c, err := New(60, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.PresentationTime(0))
	assert.Equal(t, int64(16666), c.PresentationTime(1))
	assert.Equal(t, int64(33333), c.PresentationTime(2))
	assert.Equal(t, 60, c.FrameRate())
	assert.Equal(t, time.Second/60, c.FramePeriod())
}

func TestPaceUntilSleepsRemainingTime(t *testing.T) {
	start := time.Unix(1000, 0)
	tp := &fakeTimeProvider{now: start.Add(5 * time.Millisecond)}
	c, err := New(60, tp)
	require.NoError(t, err)

	slept, err := c.PaceUntil(context.Background(), 16666, start)
	require.NoError(t, err)
	// 16666us truncates to 16ms
	assert.Equal(t, 11*time.Millisecond, slept)
	assert.Equal(t, []time.Duration{11 * time.Millisecond}, tp.sleeps)
}

func TestPaceUntilLateFrameDoesNotSleep(t *testing.T) {
	start := time.Unix(1000, 0)
	tp := &fakeTimeProvider{now: start.Add(100 * time.Millisecond)}
	c, err := New(60, tp)
	require.NoError(t, err)

	slept, err := c.PaceUntil(context.Background(), 16666, start)
	require.NoError(t, err)
	assert.Equal(t, -84*time.Millisecond, slept)
	assert.Empty(t, tp.sleeps)
}

func TestPaceUntilReturnsOnCancellation(t *testing.T) {
	start := time.Unix(1000, 0)
	tp := &fakeTimeProvider{now: start, block: true}
	c, err := New(1, tp)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.PaceUntil(ctx, 10_000_000, start)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("PaceUntil did not observe cancellation")
	}
}

func TestPaceUntilAlreadyCancelled(t *testing.T) {
	c, err := New(30, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.PaceUntil(ctx, 1_000_000_000, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
