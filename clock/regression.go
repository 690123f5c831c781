package clock

import "gonum.org/v1/gonum/stat"

// ordinaryLeastSquaresSlope fits y = origin + slope*x over xs/ys using
// gonum's closed-form simple linear regression and returns the slope.
// ok is false when the fit is ill-conditioned (gonum itself guards the
// n*Σx² - (Σx)² denominator internally, but we additionally reject a
// near-degenerate x spread against an explicit threshold, since gonum's
// LinearRegression does not expose the raw denominator).
func ordinaryLeastSquaresSlope(xs, ys []float64) (slope float64, ok bool) {
	if len(xs) != len(ys) || len(xs) < minSamplesForDrift {
		return 0, false
	}

	n := float64(len(xs))
	var sumX, sumX2 float64
	for _, x := range xs {
		sumX += x
		sumX2 += x * x
	}
	denominator := n*sumX2 - sumX*sumX
	if denominator < minDenominator {
		return 0, false
	}

	_, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, finite(slope)
}
