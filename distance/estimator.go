package distance

import "gonum.org/v1/gonum/stat"

// Method tags carried in DistanceResult.
const (
	MethodClustered = "clustered+log-regression"
	MethodAveraged  = "averaged+log-regression"
	MethodDirect    = "direct+log-regression"
)

type ClusterInfo struct {
	ClusterCount        int `json:"clusterCount"`
	MajorityClusterSize int `json:"majorityClusterSize"`
	TotalSamples        int `json:"totalSamples"`
}

// DistanceResult is one raw distance estimate.
type DistanceResult struct {
	Distance     float64      `json:"distance"`
	FilteredRssi float64      `json:"filteredRssi"`
	Confidence   float64      `json:"confidence"`
	Method       string       `json:"method"`
	ClusterInfo  *ClusterInfo `json:"clusterInfo,omitempty"`
}

type EstimatorConfig struct {
	UseClustering    bool
	SampleSize       int
	VariationPercent int
	MaxClusters      int
}

func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		UseClustering:    true,
		SampleSize:       DefaultSampleSize,
		VariationPercent: DefaultVariationPercent,
		MaxClusters:      DefaultMaxClusters,
	}
}

// Estimator buffers filtered RSSI, clusters each full batch and converts the
// majority centre to a distance.
type Estimator struct {
	cfg        EstimatorConfig
	clustering *ClusteringFilter
	model      *LogDistanceModel

	buffer   []float64
	last     ClusteringResult
	haveLast bool
}

// NewEstimator shares model with whoever calibrates it.
func NewEstimator(model *LogDistanceModel, cfg EstimatorConfig) *Estimator {
	if cfg.SampleSize < 1 {
		cfg.SampleSize = DefaultSampleSize
	}
	if model == nil {
		model = NewLogDistanceModel()
	}
	return &Estimator{
		cfg:        cfg,
		clustering: NewClusteringFilter(cfg.VariationPercent, cfg.MaxClusters),
		model:      model,
		buffer:     make([]float64, 0, cfg.SampleSize),
	}
}

// Process adds one sample. ok is false while the batch is still filling.
func (e *Estimator) Process(rssi float64) (DistanceResult, bool) {
	if !e.cfg.UseClustering {
		return e.direct(rssi, MethodDirect), true
	}

	e.buffer = append(e.buffer, rssi)
	if len(e.buffer) < e.cfg.SampleSize {
		return DistanceResult{}, false
	}

	res := e.processBuffer()

	keep := e.cfg.SampleSize / 4
	if keep > len(e.buffer) {
		keep = len(e.buffer)
	}
	tail := append([]float64(nil), e.buffer[len(e.buffer)-keep:]...)
	e.buffer = append(e.buffer[:0], tail...)
	return res, true
}

// Flush processes whatever is buffered regardless of size. The buffer is kept.
func (e *Estimator) Flush() (DistanceResult, bool) {
	if len(e.buffer) == 0 {
		return DistanceResult{}, false
	}
	return e.processBuffer(), true
}

func (e *Estimator) processBuffer() DistanceResult {
	cr := e.clustering.Process(e.buffer)
	e.last = cr
	e.haveLast = true

	if !cr.IsValid {
		Logf("distance: clustering confidence %.2f below %.2f, using batch mean", cr.Confidence, MinValidConfidence)
		return e.direct(stat.Mean(e.buffer, nil), MethodAveraged)
	}

	d := e.model.Distance(cr.FilteredRssi)
	conf := cr.Confidence*ClusterConfidenceWeight + SignalConfidence(cr.FilteredRssi)*SignalConfidenceWeight

	return DistanceResult{
		Distance:     d,
		FilteredRssi: cr.FilteredRssi,
		Confidence:   conf,
		Method:       MethodClustered,
		ClusterInfo: &ClusterInfo{
			ClusterCount:        cr.TotalClusters,
			MajorityClusterSize: cr.ClusterSize,
			TotalSamples:        len(e.buffer),
		},
	}
}

func (e *Estimator) direct(rssi float64, method string) DistanceResult {
	return DistanceResult{
		Distance:     e.model.Distance(rssi),
		FilteredRssi: rssi,
		Confidence:   SignalConfidence(rssi),
		Method:       method,
	}
}

func (e *Estimator) LastClustering() (ClusteringResult, bool) {
	return e.last, e.haveLast
}

func (e *Estimator) ClearBuffer() {
	e.buffer = e.buffer[:0]
	e.last = ClusteringResult{}
	e.haveLast = false
}

func (e *Estimator) Buffered() int { return len(e.buffer) }

func (e *Estimator) ClusteringEnabled() bool { return e.cfg.UseClustering }

func (e *Estimator) Model() *LogDistanceModel { return e.model }

// UpdateCalibration replaces the model's calibration points.
func (e *Estimator) UpdateCalibration(points map[float64]float64) {
	e.model.Load(points)
}

