package training

import "math"

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Slope fits ys against the index 0..n-1 by ordinary least squares and
// returns the slope. Fewer than two points give 0.
func Slope(ys []float64) float64 {
	n := len(ys)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := Mean(ys)
	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	return num / den
}

// Pearson returns the correlation coefficient of xs and ys, or 0 when either
// side has no variance or the lengths differ.
func Pearson(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	xMean, yMean := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-xMean, ys[i]-yMean
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// Accuracy compares predictions with actual values. R² is 0 when the actual
// values have no variance, unless the predictions are exact.
func Accuracy(predicted, actual []float64) (mae, rmse, r2 float64) {
	n := len(actual)
	if n == 0 || len(predicted) != n {
		return 0, 0, 0
	}
	mean := Mean(actual)
	var absSum, ssRes, ssTot float64
	for i := range actual {
		e := actual[i] - predicted[i]
		absSum += math.Abs(e)
		ssRes += e * e
		ssTot += (actual[i] - mean) * (actual[i] - mean)
	}
	mae = absSum / float64(n)
	rmse = math.Sqrt(ssRes / float64(n))
	switch {
	case ssTot > 0:
		r2 = 1 - ssRes/ssTot
	case ssRes == 0:
		r2 = 1
	}
	return mae, rmse, r2
}
