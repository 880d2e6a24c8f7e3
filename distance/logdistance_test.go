package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultInfo(points int) ModelInfo {
	return ModelInfo{
		ReferenceRssi:         DefaultReferenceRssi,
		PathLossExponent:      DefaultPathLossExponent,
		CalibrationPointCount: points,
	}
}

func TestLogDistanceModel_TwoPointFit(t *testing.T) {
	m := NewLogDistanceModel()
	require.NoError(t, m.AddPoint(1, -45))
	assert.False(t, m.Calibrated())
	require.NoError(t, m.AddPoint(10, -65))
	assert.True(t, m.Calibrated())

	info := m.Info()
	assert.InDelta(t, -45.0, info.ReferenceRssi, 1e-9)
	assert.InDelta(t, 2.0, info.PathLossExponent, 1e-9)
	assert.InDelta(t, 1.0, info.RSquared, 1e-9)
	assert.InDelta(t, 0.0, info.RMSE, 1e-9)
	assert.Equal(t, 2, info.CalibrationPointCount)

	assert.InDelta(t, 1.0, m.Distance(-45), 0.1)
	assert.InDelta(t, 10.0, m.Distance(-65), 0.2)
}

func TestLogDistanceModel_UncalibratedDefaults(t *testing.T) {
	m := NewLogDistanceModel()
	assert.Equal(t, defaultInfo(0), m.Info())
	assert.InDelta(t, 1.0, m.Distance(-40), 1e-9)
	assert.InDelta(t, 10.0, m.Distance(-60), 1e-9)

	require.NoError(t, m.AddPoint(3, -52))
	assert.Equal(t, defaultInfo(1), m.Info())
	assert.False(t, m.Calibrated())
}

func TestLogDistanceModel_DistanceClamped(t *testing.T) {
	m := NewLogDistanceModel()
	assert.Equal(t, MinDistance, m.Distance(20))
	assert.Equal(t, MaxDistance, m.Distance(-127))
	assert.Equal(t, MinDistance, m.Distance(math.NaN()))
}

func TestLogDistanceModel_ExponentClamped(t *testing.T) {
	m := NewLogDistanceModel()
	require.NoError(t, m.AddPoint(1, -40))
	require.NoError(t, m.AddPoint(10, -41))
	assert.Equal(t, MinPathLossExponent, m.Info().PathLossExponent)

	m.Clear()
	require.NoError(t, m.AddPoint(1, -40))
	require.NoError(t, m.AddPoint(10, -100))
	assert.Equal(t, MaxPathLossExponent, m.Info().PathLossExponent)
}

func TestLogDistanceModel_UpsertByDistance(t *testing.T) {
	m := NewLogDistanceModel()
	require.NoError(t, m.AddPoint(1, -45))
	require.NoError(t, m.AddPoint(10, -70))
	require.NoError(t, m.AddPoint(10, -65))

	assert.Equal(t, 2, m.Info().CalibrationPointCount)
	assert.Equal(t, -65.0, m.Points()[10])
	assert.InDelta(t, 2.0, m.Info().PathLossExponent, 1e-9)
}

func TestLogDistanceModel_RejectsBadPoint(t *testing.T) {
	m := NewLogDistanceModel()
	for _, d := range []float64{0, -1, math.Inf(1), math.NaN()} {
		assert.ErrorIs(t, m.AddPoint(d, -50), ErrInvalidDistance)
	}
	for _, rssi := range []float64{math.NaN(), math.Inf(-1), math.Inf(1)} {
		err := m.AddPoint(1, rssi)
		assert.ErrorIs(t, err, ErrInvalidRssi)
		assert.NotErrorIs(t, err, ErrInvalidDistance)
	}
	assert.Empty(t, m.Points())
}

func TestLogDistanceModel_NoisyFitQuality(t *testing.T) {
	m := NewLogDistanceModel()
	require.NoError(t, m.AddPoint(1, -44))
	require.NoError(t, m.AddPoint(2, -53))
	require.NoError(t, m.AddPoint(5, -57))
	require.NoError(t, m.AddPoint(10, -66))

	info := m.Info()
	assert.Greater(t, info.RSquared, 0.8)
	assert.Less(t, info.RSquared, 1.0)
	assert.Greater(t, info.RMSE, 0.0)
	assert.Less(t, info.RMSE, 3.0)
	assert.True(t, info.PathLossExponent > 1.5 && info.PathLossExponent < 2.5)
}

func TestLogDistanceModel_RemoveBelowTwoResets(t *testing.T) {
	m := NewLogDistanceModel()
	require.NoError(t, m.AddPoint(1, -45))
	require.NoError(t, m.AddPoint(5, -60))
	require.NoError(t, m.AddPoint(10, -65))

	m.RemovePoint(5)
	assert.Equal(t, 2, m.Info().CalibrationPointCount)
	assert.InDelta(t, 2.0, m.Info().PathLossExponent, 1e-9)

	m.RemovePoint(10)
	assert.Equal(t, defaultInfo(1), m.Info())
}

func TestLogDistanceModel_ClearIsIdempotent(t *testing.T) {
	m := NewLogDistanceModel()
	require.NoError(t, m.AddPoint(1, -45))
	require.NoError(t, m.AddPoint(10, -65))

	m.Clear()
	m.Clear()
	assert.Equal(t, defaultInfo(0), m.Info())
	assert.False(t, m.Calibrated())
}

func TestLogDistanceModel_LoadIsReproducible(t *testing.T) {
	points := map[float64]float64{0.5: -38.2, 1: -44.7, 2: -51.3, 3: -55.9, 5: -60.4, 8: -64.8, 13: -69.1}

	var first ModelInfo
	for i := 0; i < 20; i++ {
		m := NewLogDistanceModel()
		m.Load(points)
		if i == 0 {
			first = m.Info()
			continue
		}
		require.Equal(t, first, m.Info())
	}
	assert.Equal(t, len(points), first.CalibrationPointCount)
}

func TestLogDistanceModel_LoadSkipsInvalid(t *testing.T) {
	m := NewLogDistanceModel()
	m.Load(map[float64]float64{0: -40, 1: -45, 10: -65})
	assert.Equal(t, 2, m.Info().CalibrationPointCount)
	assert.InDelta(t, -45.0, m.Info().ReferenceRssi, 1e-9)
}

func TestLogDistanceModel_PredictRSSI(t *testing.T) {
	m := NewLogDistanceModel()
	assert.InDelta(t, -40.0, m.PredictRSSI(1), 1e-12)
	assert.InDelta(t, -60.0, m.PredictRSSI(10), 1e-12)
}
