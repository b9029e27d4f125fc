package rotation

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Workspace holds the FFT plan and scratch buffers used by the shear passes.
// A Workspace is not safe for concurrent use; give each goroutine its own.
type Workspace struct {
	size int
	fft  *fourier.CmplxFFT
	line []complex128
	grid []complex128
	tmp  []complex128
}

// NewWorkspace creates a workspace for frames of the given size
func NewWorkspace(size int) *Workspace {
	m := workingSize(size)
	return &Workspace{
		size: size,
		fft:  fourier.NewCmplxFFT(m),
		line: make([]complex128, m),
		grid: make([]complex128, m*m),
		tmp:  make([]complex128, m*m),
	}
}

// Size returns the frame size the workspace was built for
func (w *Workspace) Size() int {
	return w.size
}

// workingSize returns the odd grid size the shears operate on
func workingSize(size int) int {
	if size%2 == 0 {
		return size - 1
	}
	return size
}

// frequency returns the k-th sample frequency of an n-point DFT in cycles per sample
func frequency(k, n int) float64 {
	if k < (n+1)/2 {
		return float64(k) / float64(n)
	}
	return float64(k-n) / float64(n)
}

// shiftLine translates line by s samples using the Fourier shift theorem.
// The shift is circular and band-limited.
func (w *Workspace) shiftLine(line []complex128, s float64) {
	n := len(line)
	w.fft.Coefficients(line, line)
	for k := 0; k < n; k++ {
		sin, cos := math.Sincos(-2 * math.Pi * frequency(k, n) * s)
		line[k] *= complex(cos, sin)
	}
	w.fft.Sequence(line, line)
	norm := complex(1/float64(n), 0)
	for k := range line {
		line[k] *= norm
	}
}

// shearRows shifts every row y of the m x m grid by c*(y - center) along x
func (w *Workspace) shearRows(grid []complex128, m int, c float64) {
	center := float64(m-1) / 2
	for y := 0; y < m; y++ {
		s := c * (float64(y) - center)
		if s == 0 {
			continue
		}
		w.shiftLine(grid[y*m:(y+1)*m], s)
	}
}

// shearCols shifts every column x of the m x m grid by c*(x - center) along y
func (w *Workspace) shearCols(grid []complex128, m int, c float64) {
	center := float64(m-1) / 2
	line := w.line[:m]
	for x := 0; x < m; x++ {
		s := c * (float64(x) - center)
		if s == 0 {
			continue
		}
		for y := 0; y < m; y++ {
			line[y] = grid[y*m+x]
		}
		w.shiftLine(line, s)
		for y := 0; y < m; y++ {
			grid[y*m+x] = line[y]
		}
	}
}

// rot90 rotates the m x m grid counter-clockwise by k quarter turns in place,
// using tmp as scratch. Row 0 is the top of the displayed image.
func rot90(grid, tmp []complex128, m, k int) {
	k = ((k % 4) + 4) % 4
	if k == 0 {
		return
	}
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			var v complex128
			switch k {
			case 1:
				v = grid[j*m+(m-1-i)]
			case 2:
				v = grid[(m-1-i)*m+(m-1-j)]
			case 3:
				v = grid[(m-1-j)*m+i]
			}
			tmp[i*m+j] = v
		}
	}
	copy(grid, tmp[:m*m])
}

// fft2 computes an unnormalized 2-D DFT (or inverse DFT) of the n x n grid in place
// with row and column passes.
func fft2(data []complex128, n int, inverse bool) {
	fft := fourier.NewCmplxFFT(n)
	line := make([]complex128, n)

	for y := 0; y < n; y++ {
		row := data[y*n : (y+1)*n]
		if inverse {
			fft.Sequence(row, row)
		} else {
			fft.Coefficients(row, row)
		}
	}

	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			line[y] = data[y*n+x]
		}
		if inverse {
			fft.Sequence(line, line)
		} else {
			fft.Coefficients(line, line)
		}
		for y := 0; y < n; y++ {
			data[y*n+x] = line[y]
		}
	}
}

// FFT2 returns the unnormalized 2-D DFT of a real n x n frame
func FFT2(src []float64, n int) []complex128 {
	data := make([]complex128, n*n)
	for i, v := range src {
		data[i] = complex(v, 0)
	}
	fft2(data, n, false)
	return data
}

// IFFT2 returns the normalized inverse 2-D DFT of an n x n spectrum
func IFFT2(spec []complex128, n int) []complex128 {
	data := make([]complex128, len(spec))
	copy(data, spec)
	fft2(data, n, true)
	norm := complex(1/float64(n*n), 0)
	for i := range data {
		data[i] *= norm
	}
	return data
}
