package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanAndStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5, Mean(xs), 1e-9)
	assert.InDelta(t, 2, StdDev(xs), 1e-9, "population, not sample")
	assert.Zero(t, Mean(nil))
	assert.Zero(t, StdDev([]float64{3, 3, 3}))
}

func TestSlope(t *testing.T) {
	assert.InDelta(t, 0.5, Slope([]float64{1, 1.5, 2, 2.5}), 1e-9)
	assert.InDelta(t, 0, Slope([]float64{4, 4, 4}), 1e-9)
	assert.Zero(t, Slope([]float64{1}))
}

func TestPearson(t *testing.T) {
	assert.InDelta(t, 1, Pearson([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, -1, Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-9)
	assert.Zero(t, Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
	assert.Zero(t, Pearson([]float64{1, 2}, []float64{1}))
}

func TestAccuracy(t *testing.T) {
	mae, rmse, r2 := Accuracy([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.Zero(t, mae)
	assert.Zero(t, rmse)
	assert.InDelta(t, 1, r2, 1e-9)

	mae, rmse, r2 = Accuracy([]float64{2, 2}, []float64{1, 3})
	assert.InDelta(t, 1, mae, 1e-9)
	assert.InDelta(t, 1, rmse, 1e-9)
	assert.InDelta(t, 0, r2, 1e-9)

	_, _, r2 = Accuracy([]float64{4, 6}, []float64{5, 5})
	assert.Zero(t, r2, "flat actuals with errors")
}
