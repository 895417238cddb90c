package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/simpledb/execution"
)

func TestHistogramUniform(t *testing.T) {
	h := NewIntHistogram(10, 1, 100)
	for v := int64(1); v <= 100; v++ {
		h.AddValue(v)
	}

	assert.InDelta(t, 0.01, h.EstimateSelectivity(execution.Equals, 50), 0.005)
	assert.InDelta(t, 0.5, h.EstimateSelectivity(execution.GreaterThan, 50), 0.1)
	assert.InDelta(t, 0.5, h.EstimateSelectivity(execution.LessThan, 50), 0.1)
	assert.InDelta(t, 0.99, h.EstimateSelectivity(execution.NotEquals, 50), 0.005)
}

func TestHistogramOutOfRange(t *testing.T) {
	h := NewIntHistogram(5, 0, 9)
	for v := int64(0); v < 10; v++ {
		h.AddValue(v)
	}

	assert.Equal(t, 0.0, h.EstimateSelectivity(execution.Equals, 50))
	assert.Equal(t, 0.0, h.EstimateSelectivity(execution.Equals, -5))
	assert.Equal(t, 1.0, h.EstimateSelectivity(execution.GreaterThan, -5))
	assert.Equal(t, 0.0, h.EstimateSelectivity(execution.GreaterThan, 20))
	assert.InDelta(t, 1.0, h.EstimateSelectivity(execution.LessThan, 20), 0.001)
}

func TestHistogramSkewed(t *testing.T) {
	h := NewIntHistogram(4, 0, 39)
	// All mass in the first bucket.
	for i := 0; i < 100; i++ {
		h.AddValue(3)
	}
	require.InDelta(t, 1.0, h.EstimateSelectivity(execution.GreaterThan, -1), 0.001)
	assert.Equal(t, 0.0, h.EstimateSelectivity(execution.GreaterThan, 10))
	gt := h.EstimateSelectivity(execution.GreaterThan, 5)
	assert.Greater(t, gt, 0.0, "part of the hot bucket lies above 5")
}

func TestHistogramEmpty(t *testing.T) {
	h := NewIntHistogram(4, 0, 10)
	assert.Equal(t, 0.0, h.EstimateSelectivity(execution.Equals, 5))
}
