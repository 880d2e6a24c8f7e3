package distance

import (
	"math"
	"sort"
)

// empirical is the measured distance in meters for each integer RSSI from
// -20 dBm (index 0) down to -100 dBm (index 80).
var empirical = [...]float64{
	0.14, 0.15, 0.16, 0.18, 0.20, 0.22, 0.24, 0.26, 0.29, 0.32, // -20 .. -29
	0.35, 0.39, 0.43, 0.47, 0.51, 0.57, 0.62, 0.68, 0.75, 0.83, // -30 .. -39
	0.91, 1.0, 1.1, 1.21, 1.33, 1.46, 1.61, 1.77, 1.94, 2.14, // -40 .. -49
	2.35, 2.58, 2.84, 3.12, 3.43, 3.78, 4.15, 4.57, 5.02, 5.52, // -50 .. -59
	6.07, 6.68, 7.34, 8.07, 8.88, 9.76, 10.73, 11.8, 12.98, 14.27, // -60 .. -69
	15.69, 17.25, 18.97, 20.86, 22.94, 25.23, 27.74, 30.5, 33.54, 36.88, // -70 .. -79
	40.56, 44.6, 49.04, 53.93, 59.3, 65.21, 71.7, 78.85, 86.7, 95.34, // -80 .. -89
	104.84, 115.28, 126.77, 139.4, 153.28, 168.55, 185.35, 203.81, 224.11, 246.44, // -90 .. -99
	270.99, // -100
}

// nearestSearch is how many dBm either side of a missing entry are searched.
const nearestSearch = 5

// LookupTable maps RSSI to distance from an empirical table. It does not
// depend on calibration and serves as a zero-configuration fallback.
type LookupTable struct {
	entries map[int]float64
	strong  int // highest RSSI key
	weak    int // lowest RSSI key
}

// NewLookupTable returns the built-in table covering [-100, -20] dBm.
func NewLookupTable() *LookupTable {
	entries := make(map[int]float64, len(empirical))
	for i, d := range empirical {
		entries[-20-i] = d
	}
	return NewLookupTableFrom(entries)
}

// NewLookupTableFrom builds a table from arbitrary integer-dBm entries.
func NewLookupTableFrom(entries map[int]float64) *LookupTable {
	t := &LookupTable{entries: make(map[int]float64, len(entries))}
	keys := make([]int, 0, len(entries))
	for k, v := range entries {
		t.entries[k] = v
		keys = append(keys, k)
	}
	if len(keys) > 0 {
		sort.Ints(keys)
		t.weak = keys[0]
		t.strong = keys[len(keys)-1]
	}
	return t
}

// Range returns the weakest and strongest RSSI covered by the table.
func (t *LookupTable) Range() (int, int) { return t.weak, t.strong }

// Distance returns the table distance for rssi: exact hit for integer values,
// clamped outside the table, linear interpolation otherwise.
func (t *LookupTable) Distance(rssi float64) float64 {
	if len(t.entries) == 0 || math.IsNaN(rssi) {
		return theoreticalDistance(rssi)
	}
	if rssi == math.Trunc(rssi) {
		if d, ok := t.entries[int(rssi)]; ok {
			return d
		}
	}
	if rssi > float64(t.strong) {
		return t.entries[t.strong]
	}
	if rssi < float64(t.weak) {
		return t.entries[t.weak]
	}
	return t.interpolate(rssi)
}

func (t *LookupTable) interpolate(rssi float64) float64 {
	lower := int(math.Floor(rssi))
	upper := lower + 1
	dl, okl := t.entries[lower]
	du, oku := t.entries[upper]
	if !okl || !oku {
		return t.nearest(rssi)
	}
	frac := rssi - float64(lower)
	return dl + (du-dl)*frac
}

func (t *LookupTable) nearest(rssi float64) float64 {
	r := int(math.Floor(rssi + 0.5))
	for off := 1; off <= nearestSearch; off++ {
		if d, ok := t.entries[r-off]; ok {
			return d
		}
		if d, ok := t.entries[r+off]; ok {
			return d
		}
	}
	return theoreticalDistance(rssi)
}

// Confidence bands rssi into a fixed confidence.
func (t *LookupTable) Confidence(rssi float64) float64 {
	return SignalConfidence(rssi)
}

func theoreticalDistance(rssi float64) float64 {
	d := math.Pow(10, (TheoreticalTxPower-rssi)/(10*TheoreticalExponent))
	return clamp(d, MinDistance, TheoreticalMaxMeters)
}
