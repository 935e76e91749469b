package transform

import "math"

// gaussianRadius returns the largest radius by which a box of the given size
// can be displaced while keeping an IoU of at least minOverlap with the
// ground truth.
func gaussianRadius(height, width, minOverlap float64) float64 {
	b1 := height + width
	c1 := width * height * (1 - minOverlap) / (1 + minOverlap)
	r1 := (b1 + math.Sqrt(b1*b1-4*c1)) / 2

	b2 := 2 * (height + width)
	c2 := (1 - minOverlap) * width * height
	r2 := (b2 + math.Sqrt(b2*b2-16*c2)) / 2

	a3 := 4 * minOverlap
	b3 := -2 * minOverlap * (height + width)
	c3 := (minOverlap - 1) * width * height
	r3 := (b3 + math.Sqrt(b3*b3-4*a3*c3)) / 2

	return math.Min(r1, math.Min(r2, r3))
}

// gaussian2D returns a (2r+1)x(2r+1) kernel with peak 1 and sigma
// diameter/6. Values below machine epsilon relative to the peak are zeroed.
func gaussian2D(radius int) [][]float64 {
	diameter := 2*radius + 1
	sigma := float64(diameter) / 6
	k := make([][]float64, diameter)
	for y := range k {
		k[y] = make([]float64, diameter)
		dy := float64(y - radius)
		for x := range k[y] {
			dx := float64(x - radius)
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			if v < 2.220446049250313e-16 {
				v = 0
			}
			k[y][x] = v
		}
	}
	return k
}

// drawGaussian splats a gaussian of the given radius centered at (cx, cy)
// onto an h x w heatmap plane, keeping the element-wise maximum.
func drawGaussian(plane []float32, h, w, cx, cy, radius int) {
	k := gaussian2D(radius)
	left, right := min(cx, radius), min(w-cx, radius+1)
	top, bottom := min(cy, radius), min(h-cy, radius+1)
	for y := -top; y < bottom; y++ {
		row := (cy + y) * w
		for x := -left; x < right; x++ {
			v := float32(k[radius+y][radius+x])
			if v > plane[row+cx+x] {
				plane[row+cx+x] = v
			}
		}
	}
}
