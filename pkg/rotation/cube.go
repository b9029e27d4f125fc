package rotation

import (
	"fmt"

	"mustard/internal/models"
)

// Border selects how pixels that wrapped around the frame edge are treated
type Border int

const (
	// BorderWrap keeps the circular result of the Fourier shears
	BorderWrap Border = iota
	// BorderZero clears every pixel outside the inscribed disk of the frame
	BorderZero
)

// ParseBorder converts "wrap" (or "") and "zero" into a Border
func ParseBorder(s string) (Border, error) {
	switch s {
	case "", "wrap":
		return BorderWrap, nil
	case "zero", "constant":
		return BorderZero, nil
	default:
		return BorderWrap, models.NewConfigurationError("model.border", s, "expected wrap or zero")
	}
}

func (b Border) String() string {
	if b == BorderZero {
		return "zero"
	}
	return "wrap"
}

// RotateCube rotates frame i of the cube by angles[i]
func RotateCube(cube models.Cube, angles []float64, border Border) (models.Cube, error) {
	return rotateCube(cube, angles, 1, border)
}

// DerotateCube rotates frame i of the cube by -angles[i], aligning every frame on sky
func DerotateCube(cube models.Cube, angles []float64, border Border) (models.Cube, error) {
	return rotateCube(cube, angles, -1, border)
}

func rotateCube(cube models.Cube, angles []float64, sign float64, border Border) (models.Cube, error) {
	if err := cube.Validate(); err != nil {
		return models.Cube{}, err
	}
	if len(angles) != cube.Len() {
		return models.Cube{}, fmt.Errorf("%w: %d angles for %d frames", models.ErrShapeMismatch, len(angles), cube.Len())
	}

	size := cube.Size()
	ws := NewWorkspace(size)
	out := models.NewCube(cube.Len(), size)
	for i, f := range cube.Frames {
		NewPlan(size, sign*angles[i]).Apply(ws, out.Frames[i].Data, f.Data)
		if border == BorderZero {
			clearOutsideDisk(out.Frames[i].Data, size)
		}
	}
	return out, nil
}

// clearOutsideDisk zeroes pixels farther than size/2 from the rotation center
func clearOutsideDisk(data []float64, size int) {
	c := float64(size / 2)
	r2 := float64(size) * float64(size) / 4
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy > r2 {
				data[y*size+x] = 0
			}
		}
	}
}
