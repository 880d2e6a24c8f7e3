package distance

import "math"

// Cluster is a running group of RSSI samples. The acceptance window is
// re-centred on the running mean after every insert.
type Cluster struct {
	Center      float64
	MinRange    float64
	MaxRange    float64
	SampleCount int
	Sum         float64
}

func (c *Cluster) contains(v float64) bool {
	return v >= c.MinRange && v <= c.MaxRange
}

// ClusteringResult is the outcome of one batch.
type ClusteringResult struct {
	FilteredRssi  float64 `json:"filteredRssi"`
	Confidence    float64 `json:"confidence"`
	ClusterSize   int     `json:"clusterSize"`
	TotalClusters int     `json:"totalClusters"`
	IsValid       bool    `json:"isValid"`
}

// ClusteringFilter picks the dominant signal path out of a batch of samples.
// Assignment is first-match in cluster creation order, so results depend on
// sample order.
type ClusteringFilter struct {
	variationPercent float64
	maxClusters      int
}

func NewClusteringFilter(variationPercent, maxClusters int) *ClusteringFilter {
	if variationPercent < 0 {
		variationPercent = 0
	}
	if maxClusters < 1 {
		maxClusters = 1
	}
	return &ClusteringFilter{variationPercent: float64(variationPercent), maxClusters: maxClusters}
}

// Process clusters samples from scratch and reports the majority cluster.
func (f *ClusteringFilter) Process(samples []float64) ClusteringResult {
	if len(samples) == 0 {
		return ClusteringResult{}
	}

	clusters := make([]*Cluster, 0, f.maxClusters)
	for _, s := range samples {
		assigned := false
		for _, c := range clusters {
			if c.contains(s) {
				f.add(c, s)
				assigned = true
				break
			}
		}
		if !assigned && len(clusters) < f.maxClusters {
			clusters = append(clusters, f.newCluster(s))
		}
	}

	majority := clusters[0]
	for _, c := range clusters[1:] {
		if c.SampleCount > majority.SampleCount {
			majority = c
		}
	}

	conf := confidence(majority.SampleCount, len(samples), len(clusters))
	return ClusteringResult{
		FilteredRssi:  majority.Center,
		Confidence:    conf,
		ClusterSize:   majority.SampleCount,
		TotalClusters: len(clusters),
		IsValid:       conf >= MinValidConfidence,
	}
}

func (f *ClusteringFilter) window(center float64) (float64, float64) {
	v := math.Abs(center) * f.variationPercent / 100.0
	return clamp(center-v, RssiFloor, RssiCeiling), clamp(center+v, RssiFloor, RssiCeiling)
}

func (f *ClusteringFilter) newCluster(v float64) *Cluster {
	lo, hi := f.window(v)
	return &Cluster{Center: v, MinRange: lo, MaxRange: hi, SampleCount: 1, Sum: v}
}

func (f *ClusteringFilter) add(c *Cluster, v float64) {
	c.Sum += v
	c.SampleCount++
	c.Center = c.Sum / float64(c.SampleCount)
	c.MinRange, c.MaxRange = f.window(c.Center)
}

// confidence is the majority share plus a bonus for clean (few-cluster) batches.
func confidence(majority, total, clusters int) float64 {
	c := float64(majority) / float64(total)
	switch clusters {
	case 1:
		c += 0.20
	case 2:
		c += 0.10
	case 3:
		c += 0.05
	}
	return clamp(c, 0, 1)
}
