package calibration

import "sort"

// Sample is one reading taken while standing at a known distance.
type Sample struct {
	RawRssi      float64 `json:"raw"`
	FilteredRssi float64 `json:"filtered"`
	BatteryMv    int     `json:"batteryMv"`
}

// Result is the outcome of one completed collection run.
type Result struct {
	ID                  string  `json:"id"`
	Distance            float64 `json:"distance"`
	AverageRawRssi      float64 `json:"averageRawRssi"`
	AverageFilteredRssi float64 `json:"averageFilteredRssi"`
	StdDeviation        float64 `json:"stdDeviation"`
	SampleCount         int     `json:"sampleCount"`
	AverageBatteryMv    float64 `json:"averageBatteryMv"`
	Comment             string  `json:"comment,omitempty"`
	CreatedAtMs         int64   `json:"createdAtMs"`
}

// Progress is what an operator display needs while a run is in flight.
type Progress struct {
	SelectedDistance      float64 `json:"selectedDistance"`
	SampleCount           int     `json:"sampleCount"`
	TargetSampleCount     int     `json:"targetSampleCount"`
	IsCollecting          bool    `json:"isCollecting"`
	IsComplete            bool    `json:"isComplete"`
	CompletedCalibrations int     `json:"completedCalibrations"`
}

// sortedResults flattens a result map, nearest distance first.
func sortedResults(m map[float64]Result) []Result {
	out := make([]Result, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// points extracts the (distance, filtered RSSI) pairs the path-loss model fits.
func points(m map[float64]Result) map[float64]float64 {
	p := make(map[float64]float64, len(m))
	for d, r := range m {
		p[d] = r.AverageFilteredRssi
	}
	return p
}
