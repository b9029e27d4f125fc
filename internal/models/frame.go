package models

import (
	"fmt"
)

// Frame represents a single square image of the ADI sequence
type Frame struct {
	// Data holds the pixel intensities in row-major order
	Data []float64

	// Size is the width (and height) of the frame in pixels
	Size int
}

// NewFrame allocates a zero-valued frame of the given size
func NewFrame(size int) Frame {
	return Frame{Data: make([]float64, size*size), Size: size}
}

// At returns the value at column x, row y
func (f Frame) At(x, y int) float64 {
	return f.Data[y*f.Size+x]
}

// Set stores v at column x, row y
func (f Frame) Set(x, y int, v float64) {
	f.Data[y*f.Size+x] = v
}

// Clone returns a deep copy of the frame
func (f Frame) Clone() Frame {
	data := make([]float64, len(f.Data))
	copy(data, f.Data)
	return Frame{Data: data, Size: f.Size}
}

// Validate checks that the data length matches the declared size
func (f Frame) Validate() error {
	if f.Size <= 0 {
		return fmt.Errorf("%w: frame size %d", ErrShapeMismatch, f.Size)
	}
	if len(f.Data) != f.Size*f.Size {
		return fmt.Errorf("%w: frame of size %d holds %d pixels", ErrShapeMismatch, f.Size, len(f.Data))
	}
	return nil
}

// Cube represents an ordered stack of frames in acquisition order
type Cube struct {
	// Frames are the individual exposures; all share the same size
	Frames []Frame
}

// NewCube allocates n zero-valued frames of the given size
func NewCube(n, size int) Cube {
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = NewFrame(size)
	}
	return Cube{Frames: frames}
}

// Len returns the number of frames
func (c Cube) Len() int {
	return len(c.Frames)
}

// Size returns the frame size, or 0 for an empty cube
func (c Cube) Size() int {
	if len(c.Frames) == 0 {
		return 0
	}
	return c.Frames[0].Size
}

// Clone returns a deep copy of the cube
func (c Cube) Clone() Cube {
	frames := make([]Frame, len(c.Frames))
	for i, f := range c.Frames {
		frames[i] = f.Clone()
	}
	return Cube{Frames: frames}
}

// Validate checks that the cube is non-empty and every frame has the same size
func (c Cube) Validate() error {
	if len(c.Frames) == 0 {
		return fmt.Errorf("%w: empty cube", ErrShapeMismatch)
	}
	size := c.Frames[0].Size
	for i, f := range c.Frames {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if f.Size != size {
			return fmt.Errorf("%w: frame %d has size %d, expected %d", ErrShapeMismatch, i, f.Size, size)
		}
	}
	return nil
}

// Remove returns a new cube without the frames at the given indices.
// Out of range indices are ignored.
func (c Cube) Remove(indices []int) Cube {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	frames := make([]Frame, 0, len(c.Frames))
	for i, f := range c.Frames {
		if !drop[i] {
			frames = append(frames, f)
		}
	}
	return Cube{Frames: frames}
}
