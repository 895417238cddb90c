// Package stats holds the planning statistics the optimizer consults.
package stats

import (
	"fmt"
	"strings"

	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/execution"
)

// IntHistogram is a fixed-width equi-width histogram over an integer field,
// built in one pass over the values it will estimate selectivities for.
type IntHistogram struct {
	buckets []int64
	min     int64
	max     int64
	width   float64
	total   int64
}

// NewIntHistogram sizes a histogram for values in [min, max].
func NewIntHistogram(numBuckets int, min, max int64) *IntHistogram {
	common.Assert(numBuckets > 0, "histogram needs at least one bucket")
	common.Assert(min <= max, "histogram range is inverted")
	width := float64(max-min+1) / float64(numBuckets)
	return &IntHistogram{
		buckets: make([]int64, numBuckets),
		min:     min,
		max:     max,
		width:   width,
	}
}

func (h *IntHistogram) bucketOf(v int64) int {
	idx := int(float64(v-h.min) / h.width)
	if idx >= len(h.buckets) {
		idx = len(h.buckets) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// AddValue records one value.
func (h *IntHistogram) AddValue(v int64) {
	common.Assert(v >= h.min && v <= h.max, "value %d outside histogram range [%d, %d]", v, h.min, h.max)
	h.buckets[h.bucketOf(v)]++
	h.total++
}

// EstimateSelectivity predicts the fraction of recorded values satisfying
// (value op v).
func (h *IntHistogram) EstimateSelectivity(op execution.PredicateOp, v int64) float64 {
	if h.total == 0 {
		return 0
	}
	switch op {
	case execution.Equals:
		if v < h.min || v > h.max {
			return 0
		}
		b := h.bucketOf(v)
		return float64(h.buckets[b]) / h.width / float64(h.total)
	case execution.NotEquals:
		return 1 - h.EstimateSelectivity(execution.Equals, v)
	case execution.GreaterThan:
		if v < h.min {
			return 1
		}
		if v >= h.max {
			return 0
		}
		b := h.bucketOf(v)
		bucketRight := h.min + int64(float64(b+1)*h.width)
		// Fraction of v's own bucket above v, plus every bucket to its right.
		frac := float64(bucketRight-v-1) / h.width
		if frac < 0 {
			frac = 0
		}
		sel := float64(h.buckets[b]) / float64(h.total) * frac
		for i := b + 1; i < len(h.buckets); i++ {
			sel += float64(h.buckets[i]) / float64(h.total)
		}
		return sel
	case execution.LessThan:
		return 1 - h.EstimateSelectivity(execution.GreaterThanOrEq, v)
	case execution.GreaterThanOrEq:
		return h.EstimateSelectivity(execution.GreaterThan, v) +
			h.EstimateSelectivity(execution.Equals, v)
	case execution.LessThanOrEq:
		return 1 - h.EstimateSelectivity(execution.GreaterThan, v)
	}
	panic("unknown predicate op")
}

func (h *IntHistogram) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "IntHistogram[%d..%d]", h.min, h.max)
	for i, c := range h.buckets {
		fmt.Fprintf(&sb, " b%d=%d", i, c)
	}
	return sb.String()
}
