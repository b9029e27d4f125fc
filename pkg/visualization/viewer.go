// Package visualization renders frames and cubes as grayscale JPEG previews
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"mustard/internal/models"
)

// Stretch maps normalized intensities in [0, 1] to display levels
type Stretch int

const (
	// Linear displays intensities as they are
	Linear Stretch = iota
	// Asinh compresses bright sources so faint structures stay visible
	Asinh
)

// asinhSoftening sets where the asinh stretch turns logarithmic
const asinhSoftening = 0.02

func (s Stretch) apply(v float64) float64 {
	if s == Asinh {
		return math.Asinh(v/asinhSoftening) / math.Asinh(1/asinhSoftening)
	}
	return v
}

// Viewer renders the frames of a cube with one shared intensity range
type Viewer struct {
	frames []models.Frame
	size   int

	// lo and hi bound the displayed intensities
	lo, hi  float64
	stretch Stretch
}

// NewViewer creates a viewer for the frames of cube
func NewViewer(cube models.Cube, stretch Stretch) (*Viewer, error) {
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	v := &Viewer{frames: cube.Frames, size: cube.Size(), stretch: stretch}
	v.lo, v.hi = math.Inf(1), math.Inf(-1)
	for _, f := range cube.Frames {
		for _, x := range f.Data {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				continue
			}
			v.lo = math.Min(v.lo, x)
			v.hi = math.Max(v.hi, x)
		}
	}
	if v.hi <= v.lo {
		v.lo, v.hi = 0, 1
	}
	return v, nil
}

// FrameViewer is NewViewer for a single frame
func FrameViewer(f models.Frame, stretch Stretch) (*Viewer, error) {
	return NewViewer(models.Cube{Frames: []models.Frame{f}}, stretch)
}

// Len returns the number of frames
func (v *Viewer) Len() int { return len(v.frames) }

// ExtractFrame renders frame i. Row 0 of the data is drawn at the bottom so
// the image has the usual sky orientation.
func (v *Viewer) ExtractFrame(i int) (image.Image, error) {
	if i < 0 || i >= len(v.frames) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", i, len(v.frames))
	}
	data := v.frames[i].Data
	img := image.NewGray16(image.Rect(0, 0, v.size, v.size))
	scale := v.hi - v.lo
	for y := 0; y < v.size; y++ {
		for x := 0; x < v.size; x++ {
			n := (data[y*v.size+x] - v.lo) / scale
			if math.IsNaN(n) {
				n = 0
			}
			n = v.stretch.apply(math.Max(0, math.Min(1, n)))
			img.SetGray16(x, v.size-1-y, color.Gray16{Y: uint16(math.Round(n * 65535))})
		}
	}
	return img, nil
}

// ExtractRegion copies a rectangular region of frame i
func (v *Viewer) ExtractRegion(i, startX, startY, sizeX, sizeY int) ([]float64, error) {
	if i < 0 || i >= len(v.frames) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", i, len(v.frames))
	}
	if startX < 0 || startY < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > v.size || startY+sizeY > v.size {
		return nil, fmt.Errorf("region extends beyond frame boundaries")
	}

	region := make([]float64, sizeX*sizeY)
	data := v.frames[i].Data
	for y := 0; y < sizeY; y++ {
		copy(region[y*sizeX:(y+1)*sizeX], data[(startY+y)*v.size+startX:])
	}
	return region, nil
}

// SaveImage saves an image as a JPEG file
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveFrame renders frame i into filename
func (v *Viewer) SaveFrame(i int, filename string) error {
	img, err := v.ExtractFrame(i)
	if err != nil {
		return err
	}
	return SaveImage(img, filename)
}

// SaveSequence saves every frame as <prefix>_NNN.jpg in outputDir
func (v *Viewer) SaveSequence(outputDir, prefix string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for i := range v.frames {
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%03d.jpg", prefix, i))
		if err := v.SaveFrame(i, filename); err != nil {
			return err
		}
	}
	return nil
}
