package api

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GreenTimeStats summarises how long green was held before each hand-off.
type GreenTimeStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_seconds"`
	StdDev float64 `json:"stddev_seconds"`
	P50    float64 `json:"p50_seconds"`
	P85    float64 `json:"p85_seconds"`
	P98    float64 `json:"p98_seconds"`
	Max    float64 `json:"max_seconds"`
}

// Summarise computes green time statistics. The input is not modified.
func Summarise(greens []float64) GreenTimeStats {
	out := GreenTimeStats{Count: len(greens)}
	if len(greens) == 0 {
		return out
	}

	sorted := append([]float64(nil), greens...)
	sort.Float64s(sorted)

	out.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		out.StdDev = stat.StdDev(sorted, nil)
	}
	out.P50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	out.P85 = stat.Quantile(0.85, stat.Empirical, sorted, nil)
	out.P98 = stat.Quantile(0.98, stat.Empirical, sorted, nil)
	out.Max = floats.Max(sorted)
	return out
}
