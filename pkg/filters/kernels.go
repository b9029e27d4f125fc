// Package filters provides the small convolution kernels used by the
// regularization terms and the point-spread-function convolution of the
// forward model.
package filters

import (
	"fmt"

	"mustard/internal/models"
)

// Kernel is a square filter stored in row-major order
type Kernel struct {
	Size int
	Data []float64
}

func newKernel(rows [][]float64) Kernel {
	k := Kernel{Size: len(rows), Data: make([]float64, 0, len(rows)*len(rows))}
	for _, r := range rows {
		k.Data = append(k.Data, r...)
	}
	return k
}

// Laplacian returns the discrete Laplacian kernel of size 3, 5 or 7
func Laplacian(size int) (Kernel, error) {
	switch size {
	case 3:
		return newKernel([][]float64{
			{-1, -1, -1},
			{-1, 8, -1},
			{-1, -1, -1},
		}), nil
	case 5:
		return newKernel([][]float64{
			{-4, -1, 0, -1, -4},
			{-1, 2, 3, 2, -1},
			{0, 3, 4, 3, 0},
			{-1, 2, 3, 2, -1},
			{-4, -1, 0, -1, -4},
		}), nil
	case 7:
		return newKernel([][]float64{
			{-10, -5, -2, -1, -2, -5, -10},
			{-5, 0, 3, 4, 3, 0, -5},
			{-2, 3, 6, 7, 6, 3, -2},
			{-1, 4, 7, 8, 7, 4, -1},
			{-2, 3, 6, 7, 6, 3, -2},
			{-5, 0, 3, 4, 3, 0, -5},
			{-10, -5, -2, -1, -2, -5, -10},
		}), nil
	default:
		return Kernel{}, fmt.Errorf("laplacian of size %d: %w", size, models.ErrUnsupportedKernelSize)
	}
}

// Gaussian returns the unnormalized binomial Gaussian kernel of size 3 or 5
func Gaussian(size int) (Kernel, error) {
	switch size {
	case 3:
		return newKernel([][]float64{
			{1, 2, 1},
			{2, 4, 2},
			{1, 2, 1},
		}), nil
	case 5:
		return newKernel([][]float64{
			{1, 4, 6, 4, 1},
			{4, 18, 30, 18, 4},
			{6, 30, 48, 30, 6},
			{4, 18, 30, 18, 4},
			{1, 4, 6, 4, 1},
		}), nil
	default:
		return Kernel{}, fmt.Errorf("gaussian of size %d: %w", size, models.ErrUnsupportedKernelSize)
	}
}

// SobelX returns the derivative kernel across rows
func SobelX() Kernel {
	return newKernel([][]float64{
		{1, 2, 1},
		{0, 0, 0},
		{-1, -2, -1},
	})
}

// SobelY returns the derivative kernel across columns
func SobelY() Kernel {
	return newKernel([][]float64{
		{1, 0, -1},
		{2, 0, -2},
		{1, 0, -1},
	})
}
