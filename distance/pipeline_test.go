package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_ConstantSignal(t *testing.T) {
	p := NewPipeline(nil, DefaultPipelineConfig())

	var results int
	for i := 0; i < 350; i++ {
		u := p.Process(Sample{TimestampMs: int64(i) * 100, Rssi: -60})
		require.True(t, u.Accepted)
		assert.Equal(t, -60.0, u.FilteredRssi)

		if i < 9 {
			require.Nil(t, u.Result, "sample %d", i)
			continue
		}
		if u.Result == nil {
			continue
		}
		results++
		require.NotNil(t, u.Smoothed)
		assert.InDelta(t, 10.0, u.Result.Distance, 1e-9)
		assert.InDelta(t, 10.0, u.Smoothed.Distance, 1e-9)
	}
	assert.Equal(t, 43, results)

	hist := p.History()
	require.Len(t, hist, HistoryLen)
	assert.Equal(t, int64(5000), hist[0].TimestampMs)
	assert.Equal(t, int64(34900), hist[len(hist)-1].TimestampMs)

	st := p.Stats()
	assert.Equal(t, 43, st.SampleCount)
	assert.InDelta(t, 10.0, st.Current, 1e-9)
	assert.InDelta(t, 10.0, st.Average, 1e-9)
	assert.InDelta(t, 10.0, st.Min, 1e-9)
	assert.InDelta(t, 10.0, st.Max, 1e-9)
	assert.Equal(t, int64(34500), st.LastUpdatedMs)
}

func TestPipeline_RejectsWeakSpike(t *testing.T) {
	p := NewPipeline(nil, DefaultPipelineConfig())
	for i := 0; i < 3; i++ {
		p.Process(Sample{TimestampMs: int64(i) * 100, Rssi: -60})
	}

	u := p.Process(Sample{TimestampMs: 300, Rssi: -80})
	assert.False(t, u.Accepted)
	assert.Equal(t, -60.0, u.FilteredRssi)
	assert.Nil(t, u.Result)
	assert.Equal(t, 1, p.Optimistic().Rejections())
	assert.Equal(t, 3, p.Estimator().Buffered())

	// a stronger reading is always taken
	u = p.Process(Sample{TimestampMs: 400, Rssi: -50})
	assert.True(t, u.Accepted)
	assert.Greater(t, u.FilteredRssi, -60.0)
	assert.Equal(t, 0, p.Optimistic().Rejections())
}

func TestPipeline_ClampsRawRssi(t *testing.T) {
	p := NewPipeline(nil, DefaultPipelineConfig())
	u := p.Process(Sample{TimestampMs: 1, Rssi: 45})
	assert.Equal(t, RssiCeiling, u.Sample.Rssi)
	assert.Equal(t, RssiCeiling, p.History()[0].Rssi)
}

func TestPipeline_Flush(t *testing.T) {
	p := NewPipeline(nil, DefaultPipelineConfig())
	_, ok := p.Flush(0)
	assert.False(t, ok)

	for i := 0; i < 4; i++ {
		p.Process(Sample{TimestampMs: int64(i) * 100, Rssi: -60})
	}
	u, ok := p.Flush(500)
	require.True(t, ok)
	require.NotNil(t, u.Result)
	assert.Equal(t, int64(500), u.Sample.TimestampMs)
	assert.InDelta(t, 10.0, u.Smoothed.Distance, 1e-9)
	assert.Equal(t, 1, p.Stats().SampleCount)
}

func TestPipeline_SharedModel(t *testing.T) {
	m := NewLogDistanceModel()
	cfg := DefaultPipelineConfig()
	cfg.Estimator.UseClustering = false
	p := NewPipeline(m, cfg)

	m.Load(map[float64]float64{1: -45, 10: -65})
	u := p.Process(Sample{TimestampMs: 0, Rssi: -65})
	require.NotNil(t, u.Result)
	assert.InDelta(t, 10.0, u.Result.Distance, 1e-9)
	assert.Equal(t, MethodDirect, u.Result.Method)
}

func TestPipeline_ConfigAppliesMovementMode(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.MovementMode = Running
	assert.Equal(t, RunningSpeed, NewPipeline(nil, cfg).Smoother().MaxVelocity())

	cfg.MaxVelocity = 2.5
	assert.Equal(t, 2.5, NewPipeline(nil, cfg).Smoother().MaxVelocity())
}

func TestPipeline_Reset(t *testing.T) {
	p := NewPipeline(nil, DefaultPipelineConfig())
	for i := 0; i < 12; i++ {
		p.Process(Sample{TimestampMs: int64(i) * 100, Rssi: -60})
	}
	require.Equal(t, 1, p.Stats().SampleCount)

	p.Reset()
	assert.Empty(t, p.History())
	assert.Equal(t, DistanceStats{}, p.Stats())
	assert.Equal(t, 0, p.Estimator().Buffered())
	assert.False(t, p.Kalman().Initialized())
	assert.False(t, p.Smoother().Tracking())
}
