package distance

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrInvalidDistance = errors.New("calibration distance must be positive and finite")
	ErrInvalidRssi     = errors.New("calibration RSSI must be finite")
)

// ModelInfo describes the fitted path-loss model.
type ModelInfo struct {
	ReferenceRssi         float64 `json:"referenceRssi"`
	PathLossExponent      float64 `json:"pathLossExponent"`
	RSquared              float64 `json:"rSquared"`
	RMSE                  float64 `json:"rmse"`
	CalibrationPointCount int     `json:"calibrationPointCount"`
}

// LogDistanceModel maps RSSI to distance with RSSI = A - 10*n*log10(d),
// fitted by least squares over calibration points keyed by distance.
type LogDistanceModel struct {
	points map[float64]float64

	a        float64
	n        float64
	rSquared float64
	rmse     float64
}

func NewLogDistanceModel() *LogDistanceModel {
	m := &LogDistanceModel{points: make(map[float64]float64)}
	m.resetParams()
	return m
}

func (m *LogDistanceModel) resetParams() {
	m.a = DefaultReferenceRssi
	m.n = DefaultPathLossExponent
	m.rSquared = 0
	m.rmse = 0
}

// AddPoint upserts the RSSI measured at distance d and refits once two or
// more points exist.
func (m *LogDistanceModel) AddPoint(d, rssi float64) error {
	if !finite(d) || d <= 0 {
		return ErrInvalidDistance
	}
	if !finite(rssi) {
		return ErrInvalidRssi
	}
	m.points[d] = rssi
	m.refit()
	return nil
}

func (m *LogDistanceModel) RemovePoint(d float64) {
	delete(m.points, d)
	m.refit()
}

// Clear drops every point and restores the default model.
func (m *LogDistanceModel) Clear() {
	m.points = make(map[float64]float64)
	m.resetParams()
}

// Load replaces the point set. Invalid entries are skipped.
func (m *LogDistanceModel) Load(points map[float64]float64) {
	m.points = make(map[float64]float64, len(points))
	for d, rssi := range points {
		if finite(d) && d > 0 && finite(rssi) {
			m.points[d] = rssi
		}
	}
	m.refit()
}

func (m *LogDistanceModel) Points() map[float64]float64 {
	out := make(map[float64]float64, len(m.points))
	for d, rssi := range m.points {
		out[d] = rssi
	}
	return out
}

func (m *LogDistanceModel) Calibrated() bool { return len(m.points) >= 2 }

func (m *LogDistanceModel) refit() {
	if len(m.points) < 2 {
		m.resetParams()
		return
	}
	m.calculateRegression()
}

// sorted returns points in ascending distance order so every fit sums in the
// same order.
func (m *LogDistanceModel) sorted() (ds, rssis []float64) {
	ds = make([]float64, 0, len(m.points))
	for d := range m.points {
		ds = append(ds, d)
	}
	sort.Float64s(ds)
	rssis = make([]float64, len(ds))
	for i, d := range ds {
		rssis[i] = m.points[d]
	}
	return ds, rssis
}

func (m *LogDistanceModel) calculateRegression() {
	ds, ys := m.sorted()
	xs := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = math.Log10(d)
	}

	meanX := stat.Mean(xs, nil)
	meanY := stat.Mean(ys, nil)

	var den float64
	for _, x := range xs {
		den += (x - meanX) * (x - meanX)
	}

	var intercept, slope float64
	if den != 0 {
		intercept, slope = stat.LinearRegression(xs, ys, nil, false)
	} else {
		slope = FallbackSlope
		intercept = meanY - slope*meanX
	}
	if !finite(slope) || !finite(intercept) {
		slope = FallbackSlope
		intercept = meanY - slope*meanX
	}

	m.a = intercept
	m.n = clamp(-slope/10.0, MinPathLossExponent, MaxPathLossExponent)
	m.quality(ds, ys)
}

// quality re-predicts RSSI at every calibration distance.
func (m *LogDistanceModel) quality(ds, actual []float64) {
	predicted := make([]float64, len(ds))
	var sse float64
	for i, d := range ds {
		predicted[i] = m.PredictRSSI(d)
		r := actual[i] - predicted[i]
		sse += r * r
	}

	meanY := stat.Mean(actual, nil)
	var ssTot float64
	for _, y := range actual {
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot != 0 {
		m.rSquared = clamp(stat.RSquaredFrom(predicted, actual, nil), 0, 1)
	} else {
		m.rSquared = 0
	}
	m.rmse = math.Sqrt(sse / float64(len(actual)))
	if !finite(m.rmse) {
		m.rmse = 0
	}
}

// PredictRSSI returns the model's expected RSSI at distance d.
func (m *LogDistanceModel) PredictRSSI(d float64) float64 {
	return m.a - 10*m.n*math.Log10(d)
}

// Distance converts a filtered RSSI into meters, clamped to [0.1, 100].
// Uncalibrated models use A=-40, n=2.
func (m *LogDistanceModel) Distance(rssi float64) float64 {
	d := math.Pow(10, (m.a-rssi)/(10*m.n))
	return clamp(d, MinDistance, MaxDistance)
}

func (m *LogDistanceModel) Info() ModelInfo {
	return ModelInfo{
		ReferenceRssi:         m.a,
		PathLossExponent:      m.n,
		RSquared:              m.rSquared,
		RMSE:                  m.rmse,
		CalibrationPointCount: len(m.points),
	}
}
