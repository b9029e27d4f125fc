// Package store reads and writes the FITS images of a run and lays out its
// output directory.
package store

import (
	"fmt"
	"os"

	"github.com/astrogo/fitsio"

	"mustard/internal/models"
)

// readImage returns the data and the axes of the primary image of a FITS file
func readImage(path string) ([]float64, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()

	file, err := fitsio.Open(f)
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	defer file.Close()

	img, ok := file.HDU(0).(fitsio.Image)
	if !ok {
		return nil, nil, fmt.Errorf("%s: primary HDU is not an image", path)
	}
	axes := img.Header().Axes()
	n := 1
	for _, a := range axes {
		n *= a
	}
	if len(axes) == 0 || n == 0 {
		return nil, nil, fmt.Errorf("%w: %s holds an empty image", models.ErrShapeMismatch, path)
	}
	data := make([]float64, n)
	if err := img.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return data, axes, nil
}

// writeImage stores data as a float64 primary image with the given axes
func writeImage(path string, data []float64, axes []int, cards ...fitsio.Card) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer f.Close()

	file, err := fitsio.Create(f)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer file.Close()

	img := fitsio.NewImage(-64, axes)
	defer img.Close()
	if len(cards) > 0 {
		if err := img.Header().Append(cards...); err != nil {
			return fmt.Errorf("error writing header of %s: %w", path, err)
		}
	}
	if err := img.Write(data); err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	if err := file.Write(img); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// ReadFrame loads a square 2-D image
func ReadFrame(path string) (models.Frame, error) {
	data, axes, err := readImage(path)
	if err != nil {
		return models.Frame{}, err
	}
	if len(axes) != 2 || axes[0] != axes[1] {
		return models.Frame{}, fmt.Errorf("%w: %s has axes %v, expected a square image", models.ErrShapeMismatch, path, axes)
	}
	return models.Frame{Data: data, Size: axes[0]}, nil
}

// ReadCube loads a 3-D image of square frames
func ReadCube(path string) (models.Cube, error) {
	data, axes, err := readImage(path)
	if err != nil {
		return models.Cube{}, err
	}
	if len(axes) != 3 || axes[0] != axes[1] {
		return models.Cube{}, fmt.Errorf("%w: %s has axes %v, expected a cube of square frames", models.ErrShapeMismatch, path, axes)
	}
	size, n := axes[0], axes[2]
	cube := models.Cube{Frames: make([]models.Frame, n)}
	for i := range cube.Frames {
		cube.Frames[i] = models.Frame{Data: data[i*size*size : (i+1)*size*size : (i+1)*size*size], Size: size}
	}
	return cube, nil
}

// ReadVector loads an image of any shape as a flat vector, as for angle lists
func ReadVector(path string) ([]float64, error) {
	data, _, err := readImage(path)
	return data, err
}

// WriteFrame stores a frame as a 2-D image
func WriteFrame(path string, f models.Frame, cards ...fitsio.Card) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return writeImage(path, f.Data, []int{f.Size, f.Size}, cards...)
}

// WriteCube stores a cube as a 3-D image
func WriteCube(path string, c models.Cube, cards ...fitsio.Card) error {
	if err := c.Validate(); err != nil {
		return err
	}
	size := c.Size()
	data := make([]float64, 0, c.Len()*size*size)
	for _, f := range c.Frames {
		data = append(data, f.Data...)
	}
	return writeImage(path, data, []int{size, size, c.Len()}, cards...)
}

// WriteVector stores v as a 1-D image
func WriteVector(path string, v []float64, cards ...fitsio.Card) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector for %s", models.ErrShapeMismatch, path)
	}
	return writeImage(path, v, []int{len(v)}, cards...)
}
