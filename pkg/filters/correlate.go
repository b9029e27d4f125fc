package filters

// Correlate computes the same-size cross-correlation of the n x n frame src with k,
// treating pixels outside the frame as zero, and writes it into dst.
func Correlate(dst, src []float64, n int, k Kernel) {
	r := k.Size / 2
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			sum := 0.0
			for i := 0; i < k.Size; i++ {
				sy := y + i - r
				if sy < 0 || sy >= n {
					continue
				}
				for j := 0; j < k.Size; j++ {
					sx := x + j - r
					if sx < 0 || sx >= n {
						continue
					}
					sum += k.Data[i*k.Size+j] * src[sy*n+sx]
				}
			}
			dst[y*n+x] = sum
		}
	}
}

// CorrelateAdjoint adds the transpose of Correlate applied to g into dst
func CorrelateAdjoint(dst, g []float64, n int, k Kernel) {
	r := k.Size / 2
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := g[y*n+x]
			if v == 0 {
				continue
			}
			for i := 0; i < k.Size; i++ {
				sy := y + i - r
				if sy < 0 || sy >= n {
					continue
				}
				for j := 0; j < k.Size; j++ {
					sx := x + j - r
					if sx < 0 || sx >= n {
						continue
					}
					dst[sy*n+sx] += k.Data[i*k.Size+j] * v
				}
			}
		}
	}
}
