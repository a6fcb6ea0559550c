package nn

// geometry describes a square-kernel 2D convolution window.
type geometry struct {
	k, stride, pad int
}

// outSize is the convolution output extent for an input extent n.
func (g geometry) outSize(n int) int {
	return (n+2*g.pad-g.k)/g.stride + 1
}

// transposedOutSize is the transposed-convolution output extent for n.
func (g geometry) transposedOutSize(n int) int {
	return (n-1)*g.stride - 2*g.pad + g.k
}

// im2col unrolls one (C, H, W) image into a (C*k*k, oh*ow) column matrix.
// Out-of-bounds taps read as zero.
func im2col(src []float32, c, h, w int, g geometry, oh, ow int, col []float32) {
	k := g.k
	plane := oh * ow
	for ci := 0; ci < c; ci++ {
		chanOff := ci * h * w
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := ((ci*k+ki)*k + kj) * plane
				for y := 0; y < oh; y++ {
					iy := y*g.stride - g.pad + ki
					dst := col[row+y*ow : row+(y+1)*ow]
					if iy < 0 || iy >= h {
						clear(dst)
						continue
					}
					rowOff := chanOff + iy*w
					for x := 0; x < ow; x++ {
						ix := x*g.stride - g.pad + kj
						if ix < 0 || ix >= w {
							dst[x] = 0
						} else {
							dst[x] = src[rowOff+ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatter-adds a (C*k*k, oh*ow) column
// matrix into a (C, H, W) image. dst is not cleared.
func col2im(col []float32, c, h, w int, g geometry, oh, ow int, dst []float32) {
	k := g.k
	plane := oh * ow
	for ci := 0; ci < c; ci++ {
		chanOff := ci * h * w
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := ((ci*k+ki)*k + kj) * plane
				for y := 0; y < oh; y++ {
					iy := y*g.stride - g.pad + ki
					if iy < 0 || iy >= h {
						continue
					}
					rowOff := chanOff + iy*w
					src := col[row+y*ow : row+(y+1)*ow]
					for x := 0; x < ow; x++ {
						ix := x*g.stride - g.pad + kj
						if ix >= 0 && ix < w {
							dst[rowOff+ix] += src[x]
						}
					}
				}
			}
		}
	}
}
