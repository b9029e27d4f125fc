package estimator

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RMSE is the root mean squared difference of two maps
func RMSE(truth, estimate []float64) float64 {
	n := len(truth)
	if n != len(estimate) || n == 0 {
		return 0
	}
	return floats.Distance(truth, estimate, 2) / math.Sqrt(float64(n))
}

// NRMS is the RMSE normalized by the RMS of the truth
func NRMS(truth, estimate []float64) float64 {
	n := len(truth)
	if n != len(estimate) || n == 0 {
		return 0
	}
	ref := floats.Norm(truth, 2)
	if ref == 0 {
		return floats.Norm(estimate, 2)
	}
	return floats.Distance(truth, estimate, 2) / ref
}

// SSIM computes the global structural similarity of two maps. The dynamic
// range is taken from the truth.
func SSIM(truth, estimate []float64) float64 {
	const k1, k2 = 0.01, 0.03
	n := len(truth)
	if n != len(estimate) || n < 2 {
		return 0
	}
	dyn := floats.Max(truth) - floats.Min(truth)
	if dyn == 0 {
		dyn = 1
	}
	c1 := (k1 * dyn) * (k1 * dyn)
	c2 := (k2 * dyn) * (k2 * dyn)

	muX := stat.Mean(truth, nil)
	muY := stat.Mean(estimate, nil)
	sigmaX := stat.Variance(truth, nil)
	sigmaY := stat.Variance(estimate, nil)
	sigmaXY := stat.Covariance(truth, estimate, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
