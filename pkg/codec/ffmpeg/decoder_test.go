package ffmpeg

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hevc-frame/pkg/codec"
)

func TestIdleWaitsOnEmptyDequeue(t *testing.T) {
	const timeout = 20 * time.Millisecond

	start := time.Now()
	idx, err := idle(codec.InfoTryAgainLater, nil, timeout)
	assert.NoError(t, err)
	assert.Equal(t, codec.InfoTryAgainLater, idx)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
}

func TestIdleReturnsResultsImmediately(t *testing.T) {
	const timeout = time.Second
	boom := errors.New("decoder gone")

	start := time.Now()
	idx, err := idle(2, nil, timeout)
	assert.NoError(t, err)
	assert.Equal(t, 2, idx)

	idx, err = idle(codec.InfoOutputFormatChanged, nil, timeout)
	assert.NoError(t, err)
	assert.Equal(t, codec.InfoOutputFormatChanged, idx)

	_, err = idle(0, boom, timeout)
	assert.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), timeout)
}
