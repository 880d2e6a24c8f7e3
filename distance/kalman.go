package distance

import "fmt"

// KalmanFilter is a scalar constant-value estimator for a single RSSI stream.
type KalmanFilter struct {
	x           float64 // estimate
	p           float64 // error covariance
	q           float64 // process noise
	r           float64 // measurement noise
	initialized bool
}

// NewKalmanFilter builds a filter with the given Q and R, clamped to their limits.
func NewKalmanFilter(q, r float64) *KalmanFilter {
	k := &KalmanFilter{}
	k.SetProcessNoise(q)
	k.SetMeasurementNoise(r)
	k.Reset()
	return k
}

// Filter feeds one measurement and returns the updated estimate.
// The first measurement seeds the state and is returned unchanged.
func (k *KalmanFilter) Filter(z float64) float64 {
	if !k.initialized {
		k.x = z
		k.p = InitialCovariance
		k.initialized = true
		return k.x
	}

	xPred := k.x
	pPred := k.p + k.q

	gain := pPred / (pPred + k.r)
	k.x = xPred + gain*(z-xPred)
	k.p = (1 - gain) * pPred
	return k.x
}

func (k *KalmanFilter) Reset() {
	k.x = InitialEstimate
	k.p = InitialCovariance
	k.initialized = false
}

// Estimate returns the current state without touching it.
func (k *KalmanFilter) Estimate() float64 { return k.x }

func (k *KalmanFilter) Initialized() bool { return k.initialized }

func (k *KalmanFilter) Covariance() float64 { return k.p }

// Gain is the weight the next measurement would receive at the current covariance.
func (k *KalmanFilter) Gain() float64 {
	return k.p / (k.p + k.r)
}

func (k *KalmanFilter) SetProcessNoise(q float64) {
	k.q = clamp(q, MinProcessNoise, MaxProcessNoise)
}

func (k *KalmanFilter) SetMeasurementNoise(r float64) {
	k.r = clamp(r, MinMeasurementNoise, MaxMeasurementNoise)
}

func (k *KalmanFilter) ProcessNoise() float64     { return k.q }
func (k *KalmanFilter) MeasurementNoise() float64 { return k.r }

func (k *KalmanFilter) String() string {
	return fmt.Sprintf("Q=%g, R=%g, K=%.4f", k.q, k.r, k.Gain())
}
