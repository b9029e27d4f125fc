package model

import (
	"math"
	"sort"
)

// RotationWeights returns one weight per frame that lowers the influence of
// frames whose neighbors are within a small rotation of them. The reference
// rotation is the median step between consecutive angles, capped at 1 degree.
// Isolated frames get a weight of 1; the weights are not normalized.
func RotationWeights(angles []float64) []float64 {
	n := len(angles)
	w := make([]float64, n)
	if n < 2 {
		for i := range w {
			w[i] = 1
		}
		return w
	}

	steps := make([]float64, n-1)
	for i := range steps {
		steps[i] = math.Abs(angles[i] - angles[i+1])
	}
	maxRot := math.Min(medianOf(steps), 1)

	for i, a := range angles {
		// Frames after i
		count, delta := 0, 0.0
		for j := i; delta < maxRot && j < n-1; {
			j++
			count++
			delta += math.Abs(angles[j] - a)
		}
		after := 1.0
		if count > 1 {
			after = (1 + math.Abs(a-angles[i+1])) / float64(count)
		}

		// Frames before i
		count, delta = 0, 0.0
		for j := i; delta < maxRot && j > 0; {
			j--
			count++
			delta += math.Abs(angles[j] - a)
		}
		before := 1.0
		if count > 1 {
			before = (1 + math.Abs(a-angles[i-1])) / float64(count)
		}

		w[i] = (after + before) / 2
	}

	return w
}

func medianOf(v []float64) float64 {
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
