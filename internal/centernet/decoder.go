package centernet

import (
	"sort"

	"github.com/born-ml/centernet/internal/tensor"
)

// peakNMS zeroes every heatmap value that is not the maximum of its 3x3
// neighbourhood within the same class plane.
func peakNMS(heat *tensor.Tensor) *tensor.Tensor {
	s := heat.Shape()
	planes, h, w := s[0]*s[1], s[2], s[3]
	out := heat.Clone()
	src, dst := heat.Data(), out.Data()
	for p := 0; p < planes; p++ {
		base := p * h * w
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := src[base+y*w+x]
				peak := true
				for dy := -1; dy <= 1 && peak; dy++ {
					for dx := -1; dx <= 1; dx++ {
						yy, xx := y+dy, x+dx
						if yy < 0 || yy >= h || xx < 0 || xx >= w {
							continue
						}
						if src[base+yy*w+xx] > v {
							peak = false
							break
						}
					}
				}
				if !peak {
					dst[base+y*w+x] = 0
				}
			}
		}
	}
	return out
}

// decode turns heatmap probabilities [B,C,h,w], wh [B,2,h,w] and reg
// [B,2,h,w] into the top-k detections, boxes scaled to input pixels.
func decode(heat, wh, reg *tensor.Tensor, topk, scale int) Detections {
	s := heat.Shape()
	b, c, h, w := s[0], s[1], s[2], s[3]
	plane := h * w

	ids := tensor.Full(tensor.Shape{b, topk, 1}, -1).AsIn(heat.Context())
	scores := tensor.Full(tensor.Shape{b, topk, 1}, -1).AsIn(heat.Context())
	boxes := tensor.Full(tensor.Shape{b, topk, 4}, -1).AsIn(heat.Context())

	hd, whd, rd := heat.Data(), wh.Data(), reg.Data()
	order := make([]int, c*plane)
	for n := 0; n < b; n++ {
		scoresN := hd[n*c*plane : (n+1)*c*plane]
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return scoresN[order[i]] > scoresN[order[j]] })

		for k := 0; k < min(topk, len(order)); k++ {
			idx := order[k]
			cls, pos := idx/plane, idx%plane
			y, x := pos/w, pos%w

			cx := float32(x) + rd[(n*2)*plane+pos]
			cy := float32(y) + rd[(n*2+1)*plane+pos]
			bw := whd[(n*2)*plane+pos]
			bh := whd[(n*2+1)*plane+pos]

			ids.Set(float32(cls), n, k, 0)
			scores.Set(scoresN[idx], n, k, 0)
			sc := float32(scale)
			boxes.Set((cx-bw/2)*sc, n, k, 0)
			boxes.Set((cy-bh/2)*sc, n, k, 1)
			boxes.Set((cx+bw/2)*sc, n, k, 2)
			boxes.Set((cy+bh/2)*sc, n, k, 3)
		}
	}
	return Detections{IDs: ids, Scores: scores, Boxes: boxes}
}

// flipW mirrors a [B,C,h,w] tensor along its last axis.
func flipW(t *tensor.Tensor) *tensor.Tensor {
	w := t.Dim(-1)
	out := t.Clone()
	src, dst := t.Data(), out.Data()
	for row := 0; row < len(src)/w; row++ {
		for x := 0; x < w; x++ {
			dst[row*w+x] = src[row*w+w-1-x]
		}
	}
	return out
}
