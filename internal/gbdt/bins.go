package gbdt

import (
	"math"
	"sort"
)

// binMapper maps a raw feature value to a histogram bin. bounds are inclusive
// upper edges in ascending order; the last edge is +Inf.
type binMapper struct {
	bounds []float64
}

func newBinMapper(vals []float64, maxBins int) binMapper {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	var (
		distinct []float64
		counts   []int
	)
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
			counts = append(counts, 0)
		}
		counts[len(counts)-1]++
	}

	var bounds []float64
	if len(distinct) <= maxBins {
		for i := 0; i+1 < len(distinct); i++ {
			bounds = append(bounds, midpoint(distinct[i], distinct[i+1]))
		}
	} else {
		perBin := float64(len(sorted)) / float64(maxBins)
		cum := 0
		for i := 0; i+1 < len(distinct) && len(bounds) < maxBins-1; i++ {
			cum += counts[i]
			if float64(cum) >= perBin*float64(len(bounds)+1) {
				bounds = append(bounds, midpoint(distinct[i], distinct[i+1]))
			}
		}
	}
	bounds = append(bounds, math.Inf(1))
	return binMapper{bounds: bounds}
}

func midpoint(a, b float64) float64 {
	return a + (b-a)/2
}

func (m binMapper) numBins() int { return len(m.bounds) }

func (m binMapper) bin(v float64) uint8 {
	return uint8(sort.SearchFloat64s(m.bounds, v))
}

// threshold returns the split value that sends bins <= b left.
func (m binMapper) threshold(b int) float64 {
	return m.bounds[b]
}
