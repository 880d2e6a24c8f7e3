package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func primedOptimistic(t *testing.T) *OptimisticFilter {
	t.Helper()
	f := NewOptimisticFilter(DefaultRejectionThreshold, DefaultMaxRejections)
	v, ok := f.Filter(-50, InitialEstimate)
	require.True(t, ok)
	require.Equal(t, -50.0, v)
	return f
}

func TestOptimisticFilter_FirstSampleAlwaysAccepted(t *testing.T) {
	f := NewOptimisticFilter(DefaultRejectionThreshold, DefaultMaxRejections)
	v, ok := f.Filter(-95, -40)
	assert.True(t, ok)
	assert.Equal(t, -95.0, v)
}

func TestOptimisticFilter_StrongerSignalAccepted(t *testing.T) {
	f := primedOptimistic(t)
	v, ok := f.Filter(-40, -50)
	assert.True(t, ok)
	assert.Equal(t, -40.0, v)
	assert.Equal(t, 0, f.Rejections())
}

func TestOptimisticFilter_SmallDropIsNoise(t *testing.T) {
	f := primedOptimistic(t)
	v, ok := f.Filter(-55, -50)
	assert.True(t, ok, "delta equal to threshold is accepted")
	assert.Equal(t, -55.0, v)
}

func TestOptimisticFilter_ForcedAcceptOnFifthRejection(t *testing.T) {
	f := primedOptimistic(t)

	for i := 1; i <= 4; i++ {
		_, ok := f.Filter(-60, -50)
		assert.False(t, ok, "attempt %d", i)
		assert.Equal(t, i, f.Rejections())
	}

	v, ok := f.Filter(-60, -50)
	assert.True(t, ok)
	assert.Equal(t, -60.0, v)
	assert.Equal(t, 0, f.Rejections())

	_, ok = f.Filter(-60, -50)
	assert.False(t, ok, "counter restarts after forced accept")
}

func TestOptimisticFilter_AcceptResetsRejectionRun(t *testing.T) {
	f := primedOptimistic(t)
	f.Filter(-60, -50)
	f.Filter(-60, -50)
	require.Equal(t, 2, f.Rejections())

	_, ok := f.Filter(-45, -50)
	require.True(t, ok)
	assert.Equal(t, 0, f.Rejections())

	for i := 0; i < 4; i++ {
		_, ok := f.Filter(-60, -50)
		assert.False(t, ok)
	}
}

func TestOptimisticFilter_Reset(t *testing.T) {
	f := primedOptimistic(t)
	f.Filter(-70, -50)
	f.Reset()

	_, seen := f.LastAccepted()
	assert.False(t, seen)
	assert.Equal(t, 0, f.Rejections())
	assert.Equal(t, DefaultRejectionThreshold, f.Threshold())

	v, ok := f.Filter(-90, -50)
	assert.True(t, ok)
	assert.Equal(t, -90.0, v)
}
