package distance

import (
	"log"
	"math"
)

// RSSI bounds accepted anywhere in the pipeline (dBm).
const (
	RssiFloor   = -127.0
	RssiCeiling = 20.0
)

// Kalman defaults and tuning limits.
const (
	DefaultProcessNoise     = 0.1
	DefaultMeasurementNoise = 2.0
	InitialEstimate         = -50.0
	InitialCovariance       = 1.0

	MinProcessNoise     = 0.001
	MaxProcessNoise     = 10.0
	MinMeasurementNoise = 0.1
	MaxMeasurementNoise = 100.0
)

// Optimistic filter defaults.
const (
	DefaultRejectionThreshold = 5.0
	DefaultMaxRejections      = 5
)

// Clustering defaults.
const (
	DefaultVariationPercent = 10
	DefaultMaxClusters      = 10
	DefaultSampleSize       = 10
	MinValidConfidence      = 0.3
)

// Path-loss model defaults and clamps.
const (
	DefaultReferenceRssi    = -40.0
	DefaultPathLossExponent = 2.0
	FallbackSlope           = -20.0
	MinPathLossExponent     = 1.5
	MaxPathLossExponent     = 4.5
	MinDistance             = 0.1
	MaxDistance             = 100.0
)

// Free-space fallback used by the lookup table when no entry is reachable.
const (
	TheoreticalTxPower   = -20.0
	TheoreticalExponent  = 2.2
	TheoreticalMaxMeters = 300.0
)

// Blend of clustering confidence vs signal-strength confidence.
const (
	ClusterConfidenceWeight = 0.7
	SignalConfidenceWeight  = 0.3
)

// HistoryLen is 30s of samples at 100ms.
const HistoryLen = 300

// Logf is the diagnostic logger for the package. Tests may replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. nil mutes the package.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// clamp returns x within [min, max]. NaN resolves to min.
func clamp(x, min, max float64) float64 {
	if math.IsNaN(x) || x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// SignalConfidence bands a filtered RSSI into a fixed confidence.
func SignalConfidence(rssi float64) float64 {
	switch {
	case rssi > -30:
		return 0.95
	case rssi > -50:
		return 0.85
	case rssi > -70:
		return 0.70
	case rssi > -85:
		return 0.50
	default:
		return 0.30
	}
}
