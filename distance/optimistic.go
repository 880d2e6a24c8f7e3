package distance

// OptimisticFilter accepts stronger readings immediately and only lets a
// much weaker reading through once it has persisted for maxRejections samples.
type OptimisticFilter struct {
	threshold     float64
	maxRejections int

	hasAccepted  bool
	lastAccepted float64
	rejections   int
}

func NewOptimisticFilter(threshold float64, maxRejections int) *OptimisticFilter {
	if threshold < 0 {
		threshold = 0
	}
	if maxRejections < 1 {
		maxRejections = 1
	}
	return &OptimisticFilter{threshold: threshold, maxRejections: maxRejections}
}

// Filter decides whether raw should be fed downstream. Accepted values are
// returned unchanged; ok is false on rejection.
func (f *OptimisticFilter) Filter(raw, estimate float64) (float64, bool) {
	if !f.hasAccepted {
		return f.accept(raw), true
	}

	if raw > estimate {
		return f.accept(raw), true
	}

	if estimate-raw <= f.threshold {
		return f.accept(raw), true
	}

	f.rejections++
	if f.rejections >= f.maxRejections {
		return f.accept(raw), true
	}
	return 0, false
}

func (f *OptimisticFilter) accept(raw float64) float64 {
	f.hasAccepted = true
	f.lastAccepted = raw
	f.rejections = 0
	return raw
}

func (f *OptimisticFilter) Reset() {
	f.hasAccepted = false
	f.lastAccepted = 0
	f.rejections = 0
}

func (f *OptimisticFilter) Threshold() float64 { return f.threshold }

// Rejections is the current run of consecutive rejected samples.
func (f *OptimisticFilter) Rejections() int { return f.rejections }

// LastAccepted returns the most recent accepted value, if any.
func (f *OptimisticFilter) LastAccepted() (float64, bool) {
	return f.lastAccepted, f.hasAccepted
}
