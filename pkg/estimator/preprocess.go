package estimator

import (
	"fmt"
	"sort"

	"mustard/internal/models"
)

// RemoveFrames drops the frames at the given indices together with their
// angles. Indices must be in range.
func RemoveFrames(cube models.Cube, angles []float64, indices []int) (models.Cube, []float64, error) {
	if len(angles) != cube.Len() {
		return models.Cube{}, nil, fmt.Errorf("%w: %d angles for %d frames", models.ErrShapeMismatch, len(angles), cube.Len())
	}
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= cube.Len() {
			return models.Cube{}, nil, models.NewConfigurationError("bad frames", i, fmt.Sprintf("index out of range [0, %d)", cube.Len()))
		}
		drop[i] = true
	}
	if len(drop) >= cube.Len() {
		return models.Cube{}, nil, models.NewConfigurationError("bad frames", indices, "no frame left")
	}
	kept := make([]float64, 0, len(angles)-len(drop))
	for i, a := range angles {
		if !drop[i] {
			kept = append(kept, a)
		}
	}
	return cube.Remove(indices), kept, nil
}

// MedianSubtract removes from each frame its median over the unmasked pixels
// and clips the result at zero. A nil mask uses every pixel.
func MedianSubtract(cube models.Cube, mask []float64) models.Cube {
	out := cube.Clone()
	var values []float64
	for _, f := range out.Frames {
		values = values[:0]
		for k, v := range f.Data {
			if mask == nil || mask[k] > 0 {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		med := values[len(values)/2]
		if len(values)%2 == 0 {
			med = (values[len(values)/2-1] + med) / 2
		}
		for k, v := range f.Data {
			if v -= med; v > 0 {
				f.Data[k] = v
			} else {
				f.Data[k] = 0
			}
		}
	}
	return out
}
