package autodiff

import (
	"github.com/born-ml/centernet/internal/tensor"
)

// convGeometry holds the sizes of one convolution.
type convGeometry struct {
	n, cIn, h, w    int
	cOut, kH, kW    int
	hOut, wOut      int
	stride, padding int
}

func newConvGeometry(input, kernel tensor.Shape, stride, padding int) convGeometry {
	g := convGeometry{
		n: input[0], cIn: input[1], h: input[2], w: input[3],
		cOut: kernel[0], kH: kernel[2], kW: kernel[3],
		stride: stride, padding: padding,
	}
	g.hOut = (g.h+2*padding-g.kH)/stride + 1
	g.wOut = (g.w+2*padding-g.kW)/stride + 1
	return g
}

// colWidth is the length of one flattened input patch.
func (g convGeometry) colWidth() int {
	return g.cIn * g.kH * g.kW
}

// im2col flattens the patches of batch item n into col
// [H_out*W_out, C_in*K_h*K_w]; out-of-bounds taps read zero.
func im2col(col, input []float32, n int, g convGeometry) {
	width := g.colWidth()
	row := 0
	for oh := 0; oh < g.hOut; oh++ {
		for ow := 0; ow < g.wOut; ow++ {
			hStart := oh*g.stride - g.padding
			wStart := ow*g.stride - g.padding
			idx := row * width
			for c := 0; c < g.cIn; c++ {
				plane := input[(n*g.cIn+c)*g.h*g.w : (n*g.cIn+c+1)*g.h*g.w]
				for kh := 0; kh < g.kH; kh++ {
					for kw := 0; kw < g.kW; kw++ {
						y, x := hStart+kh, wStart+kw
						if y >= 0 && y < g.h && x >= 0 && x < g.w {
							col[idx] = plane[y*g.w+x]
						} else {
							col[idx] = 0
						}
						idx++
					}
				}
			}
			row++
		}
	}
}

// conv2d computes the convolution with im2col followed by a matrix product
// against the kernel viewed as [C_out, C_in*K_h*K_w].
func conv2d(input, kernel []float32, g convGeometry) []float32 {
	width, positions := g.colWidth(), g.hOut*g.wOut
	out := make([]float32, g.n*g.cOut*positions)
	col := make([]float32, positions*width)
	for n := 0; n < g.n; n++ {
		im2col(col, input, n, g)
		for o := 0; o < g.cOut; o++ {
			k := kernel[o*width : (o+1)*width]
			dst := out[(n*g.cOut+o)*positions : (n*g.cOut+o+1)*positions]
			for p := range dst {
				patch := col[p*width : (p+1)*width]
				var sum float32
				for i, v := range k {
					sum += v * patch[i]
				}
				dst[p] = sum
			}
		}
	}
	return out
}

// conv2dInputBackward distributes every output gradient back to the input
// positions its kernel window covered.
func conv2dInputBackward(grad, kernel []float32, g convGeometry) []float32 {
	inputGrad := make([]float32, g.n*g.cIn*g.h*g.w)
	for n := 0; n < g.n; n++ {
		gradBatch := grad[n*g.cOut*g.hOut*g.wOut : (n+1)*g.cOut*g.hOut*g.wOut]
		inBatch := inputGrad[n*g.cIn*g.h*g.w : (n+1)*g.cIn*g.h*g.w]
		for oh := 0; oh < g.hOut; oh++ {
			for ow := 0; ow < g.wOut; ow++ {
				for o := 0; o < g.cOut; o++ {
					gv := gradBatch[(o*g.hOut+oh)*g.wOut+ow]
					if gv == 0 {
						continue
					}
					kOut := kernel[o*g.colWidth() : (o+1)*g.colWidth()]
					for c := 0; c < g.cIn; c++ {
						inPlane := inBatch[c*g.h*g.w : (c+1)*g.h*g.w]
						kIn := kOut[c*g.kH*g.kW : (c+1)*g.kH*g.kW]
						for kh := 0; kh < g.kH; kh++ {
							y := oh*g.stride - g.padding + kh
							if y < 0 || y >= g.h {
								continue
							}
							for kw := 0; kw < g.kW; kw++ {
								x := ow*g.stride - g.padding + kw
								if x >= 0 && x < g.w {
									inPlane[y*g.w+x] += gv * kIn[kh*g.kW+kw]
								}
							}
						}
					}
				}
			}
		}
	}
	return inputGrad
}

// conv2dKernelBackward correlates the input patches with the output
// gradient: d_kernel[o, k] = sum over n, p of grad[n, o, p] * col_n[p, k].
func conv2dKernelBackward(input, grad []float32, g convGeometry) []float32 {
	width, positions := g.colWidth(), g.hOut*g.wOut
	kernelGrad := make([]float32, g.cOut*width)
	col := make([]float32, positions*width)
	for n := 0; n < g.n; n++ {
		im2col(col, input, n, g)
		for o := 0; o < g.cOut; o++ {
			dk := kernelGrad[o*width : (o+1)*width]
			for p, gv := range grad[(n*g.cOut+o)*positions : (n*g.cOut+o+1)*positions] {
				if gv == 0 {
					continue
				}
				patch := col[p*width : (p+1)*width]
				for i, v := range patch {
					dk[i] += gv * v
				}
			}
		}
	}
	return kernelGrad
}
