package distance

import "math"

// Sample is one raw RSSI reading from the transport.
type Sample struct {
	TimestampMs int64   `json:"ts"`
	Rssi        float64 `json:"rssi"`
}

// Update reports what one sample did to the pipeline. Result and Smoothed
// are nil while the estimator is still filling a batch.
type Update struct {
	Sample       Sample          `json:"sample"`
	Accepted     bool            `json:"accepted"`
	FilteredRssi float64         `json:"filteredRssi"`
	Result       *DistanceResult `json:"result,omitempty"`
	Smoothed     *SmoothedResult `json:"smoothed,omitempty"`
}

// DistanceStats summarises the smoothed outputs of a session.
type DistanceStats struct {
	Current       float64 `json:"current"`
	Average       float64 `json:"average"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	SampleCount   int     `json:"sampleCount"`
	LastUpdatedMs int64   `json:"lastUpdatedMs"`
}

type PipelineConfig struct {
	ProcessNoise       float64
	MeasurementNoise   float64
	RejectionThreshold float64
	MaxRejections      int
	Estimator          EstimatorConfig
	MovementMode       MovementMode
	MaxVelocity        float64 // 0 keeps the movement mode speed
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ProcessNoise:       DefaultProcessNoise,
		MeasurementNoise:   DefaultMeasurementNoise,
		RejectionThreshold: DefaultRejectionThreshold,
		MaxRejections:      DefaultMaxRejections,
		Estimator:          DefaultEstimatorConfig(),
		MovementMode:       Walking,
	}
}

// Pipeline runs raw samples through optimistic rejection, Kalman smoothing,
// batch clustering, the path-loss model and velocity smoothing.
// It is not safe for concurrent use.
type Pipeline struct {
	optimistic *OptimisticFilter
	kalman     *KalmanFilter
	estimator  *Estimator
	smoother   *VelocitySmoother

	history []Sample
	outputs []float64
	stats   DistanceStats
}

// NewPipeline builds a pipeline around model, which may be shared with a
// calibration controller.
func NewPipeline(model *LogDistanceModel, cfg PipelineConfig) *Pipeline {
	sm := NewVelocitySmoother()
	sm.SetMovementMode(cfg.MovementMode)
	if cfg.MaxVelocity > 0 {
		sm.SetMaxVelocity(cfg.MaxVelocity)
	}
	return &Pipeline{
		optimistic: NewOptimisticFilter(cfg.RejectionThreshold, cfg.MaxRejections),
		kalman:     NewKalmanFilter(cfg.ProcessNoise, cfg.MeasurementNoise),
		estimator:  NewEstimator(model, cfg.Estimator),
		smoother:   sm,
		history:    make([]Sample, 0, HistoryLen),
	}
}

func (p *Pipeline) Process(s Sample) Update {
	s.Rssi = clamp(s.Rssi, RssiFloor, RssiCeiling)
	p.remember(s)

	u := Update{Sample: s}
	accepted, ok := p.optimistic.Filter(s.Rssi, p.kalman.Estimate())
	if !ok {
		u.FilteredRssi = p.kalman.Estimate()
		return u
	}
	u.Accepted = true
	u.FilteredRssi = p.kalman.Filter(accepted)

	if res, ok := p.estimator.Process(u.FilteredRssi); ok {
		p.finish(&u, res, s.TimestampMs)
	}
	return u
}

// Flush forces a result out of a partially filled batch, used when the
// stream stalls.
func (p *Pipeline) Flush(tsMs int64) (Update, bool) {
	res, ok := p.estimator.Flush()
	if !ok {
		return Update{}, false
	}
	u := Update{Sample: Sample{TimestampMs: tsMs}, FilteredRssi: p.kalman.Estimate()}
	p.finish(&u, res, tsMs)
	return u, true
}

func (p *Pipeline) finish(u *Update, res DistanceResult, tsMs int64) {
	sm := p.smoother.Process(res.Distance, res.Confidence, tsMs)
	u.Result = &res
	u.Smoothed = &sm
	p.record(sm.Distance, tsMs)
}

func (p *Pipeline) remember(s Sample) {
	if len(p.history) == HistoryLen {
		copy(p.history, p.history[1:])
		p.history = p.history[:HistoryLen-1]
	}
	p.history = append(p.history, s)
}

func (p *Pipeline) record(d float64, tsMs int64) {
	if len(p.outputs) == HistoryLen {
		copy(p.outputs, p.outputs[1:])
		p.outputs = p.outputs[:HistoryLen-1]
	}
	p.outputs = append(p.outputs, d)

	var sum float64
	for _, o := range p.outputs {
		sum += o
	}
	st := &p.stats
	if st.SampleCount == 0 {
		st.Min, st.Max = d, d
	} else {
		st.Min = math.Min(st.Min, d)
		st.Max = math.Max(st.Max, d)
	}
	st.Current = d
	st.Average = sum / float64(len(p.outputs))
	st.SampleCount++
	st.LastUpdatedMs = tsMs
}

// History returns a copy of the most recent raw samples, oldest first.
func (p *Pipeline) History() []Sample {
	return append([]Sample(nil), p.history...)
}

func (p *Pipeline) Stats() DistanceStats { return p.stats }

func (p *Pipeline) Kalman() *KalmanFilter         { return p.kalman }
func (p *Pipeline) Optimistic() *OptimisticFilter { return p.optimistic }
func (p *Pipeline) Estimator() *Estimator         { return p.estimator }
func (p *Pipeline) Smoother() *VelocitySmoother   { return p.smoother }

// Reset clears all filter state and statistics. Calibration is untouched.
func (p *Pipeline) Reset() {
	p.optimistic.Reset()
	p.kalman.Reset()
	p.estimator.ClearBuffer()
	p.smoother.Reset()
	p.history = p.history[:0]
	p.outputs = p.outputs[:0]
	p.stats = DistanceStats{}
}
