package metric

import (
	"fmt"
	"math"
	"sort"

	"github.com/born-ml/centernet/internal/tensor"
)

// VOC is the Pascal VOC mean average precision.
//
// Matching follows the VOC integer box convention: one is added to xmax and
// ymax before computing IoU. A prediction matching a difficult ground truth
// is neither a true nor a false positive. Classes never seen in ground truth
// report NaN and are ignored by the mean.
//
// Example:
//
//	m := metric.NewVOC(metric.KindVOC07, 0.5, []string{"cat", "dog"})
//	_ = m.Update(predBoxes, predIDs, predScores, gtBoxes, gtIDs, nil)
//	names, values := m.Get() // ["cat", "dog", "mAP"]
type VOC struct {
	kind       Kind
	iouThresh  float64
	classNames []string

	nPos  map[int]int
	score map[int][]float64
	match map[int][]int8
}

// NewVOC creates a VOC metric of the given kind.
func NewVOC(kind Kind, iouThresh float64, classNames []string) *VOC {
	m := &VOC{
		kind:       kind,
		iouThresh:  iouThresh,
		classNames: append([]string(nil), classNames...),
	}
	m.Reset()
	return m
}

// Reset clears accumulated matches.
func (m *VOC) Reset() {
	m.nPos = make(map[int]int)
	m.score = make(map[int][]float64)
	m.match = make(map[int][]int8)
}

type box [4]float64

type imageDetections struct {
	boxes     []box
	ids       []int
	scores    []float64
	difficult []bool
}

// Update accumulates the matches of a batch.
func (m *VOC) Update(predBoxes, predIDs, predScores, gtBoxes, gtIDs, gtDifficults []*tensor.Tensor) error {
	n := len(predBoxes)
	if len(predIDs) != n || len(predScores) != n || len(gtBoxes) != n || len(gtIDs) != n {
		return fmt.Errorf("metric update: mismatched shard counts")
	}
	if gtDifficults != nil && len(gtDifficults) != n {
		return fmt.Errorf("metric update: %d difficult shards for %d prediction shards", len(gtDifficults), n)
	}

	for s := 0; s < n; s++ {
		batch := predBoxes[s].Len()
		for b := 0; b < batch; b++ {
			pred := rows(predBoxes[s].Index(b), predIDs[s].Index(b), predScores[s].Index(b), nil)
			var diff *tensor.Tensor
			if gtDifficults != nil {
				diff = gtDifficults[s].Index(b)
			}
			gt := rows(gtBoxes[s].Index(b), gtIDs[s].Index(b), nil, diff)
			m.updateImage(pred, gt)
		}
	}
	return nil
}

// rows extracts the non-padding rows of one image.
func rows(boxes, ids, scores, difficult *tensor.Tensor) imageDetections {
	var out imageDetections
	bd, id := boxes.Data(), ids.Data()
	for i, v := range id {
		if v < 0 {
			continue
		}
		out.boxes = append(out.boxes, box{float64(bd[i*4]), float64(bd[i*4+1]), float64(bd[i*4+2]), float64(bd[i*4+3])})
		out.ids = append(out.ids, int(v))
		if scores != nil {
			out.scores = append(out.scores, float64(scores.Data()[i]))
		}
		out.difficult = append(out.difficult, difficult != nil && difficult.Data()[i] > 0)
	}
	return out
}

func (m *VOC) updateImage(pred, gt imageDetections) {
	labels := make(map[int]struct{})
	for _, l := range pred.ids {
		labels[l] = struct{}{}
	}
	for _, l := range gt.ids {
		labels[l] = struct{}{}
	}

	for l := range labels {
		// predictions of class l, highest score first
		var pIdx []int
		for i, id := range pred.ids {
			if id == l {
				pIdx = append(pIdx, i)
			}
		}
		sort.SliceStable(pIdx, func(a, b int) bool { return pred.scores[pIdx[a]] > pred.scores[pIdx[b]] })

		var gBoxes []box
		var gDiff []bool
		for i, id := range gt.ids {
			if id == l {
				gBoxes = append(gBoxes, gt.boxes[i])
				gDiff = append(gDiff, gt.difficult[i])
			}
		}

		for _, d := range gDiff {
			if !d {
				m.nPos[l]++
			}
		}
		if _, ok := m.nPos[l]; !ok {
			m.nPos[l] = 0
		}
		for _, i := range pIdx {
			m.score[l] = append(m.score[l], pred.scores[i])
		}

		if len(pIdx) == 0 {
			continue
		}
		if len(gBoxes) == 0 {
			for range pIdx {
				m.match[l] = append(m.match[l], 0)
			}
			continue
		}

		selected := make([]bool, len(gBoxes))
		for _, i := range pIdx {
			p := integerBox(pred.boxes[i])
			best, bestIoU := -1, -1.0
			for g, gb := range gBoxes {
				if v := iou(p, integerBox(gb)); v > bestIoU {
					best, bestIoU = g, v
				}
			}
			if bestIoU < m.iouThresh {
				m.match[l] = append(m.match[l], 0)
				continue
			}
			switch {
			case gDiff[best]:
				m.match[l] = append(m.match[l], -1)
			case !selected[best]:
				m.match[l] = append(m.match[l], 1)
			default:
				m.match[l] = append(m.match[l], 0)
			}
			selected[best] = true
		}
	}
}

func integerBox(b box) box {
	return box{b[0], b[1], b[2] + 1, b[3] + 1}
}

func iou(a, b box) float64 {
	w := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	h := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	return inter / (areaA + areaB - inter)
}

// recallPrecision returns the cumulative recall and precision of class l,
// or nil slices when the class has no non-difficult ground truth.
func (m *VOC) recallPrecision(l int) ([]float64, []float64) {
	nPos, ok := m.nPos[l]
	if !ok || nPos == 0 {
		return nil, nil
	}
	scores := m.score[l]
	matches := m.match[l]

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	rec := make([]float64, 0, len(order))
	prec := make([]float64, 0, len(order))
	var tp, fp float64
	for _, i := range order {
		if i < len(matches) {
			switch matches[i] {
			case 1:
				tp++
			case 0:
				fp++
			}
		}
		if tp+fp > 0 {
			prec = append(prec, tp/(tp+fp))
		} else {
			prec = append(prec, 0)
		}
		rec = append(rec, tp/float64(nPos))
	}
	return rec, prec
}

func (m *VOC) averagePrecision(rec, prec []float64) float64 {
	if rec == nil {
		return math.NaN()
	}
	switch m.kind {
	case KindVOC07:
		return elevenPointAP(rec, prec)
	case KindVOC:
		return areaAP(rec, prec)
	default:
		return math.NaN()
	}
}

// areaAP integrates the precision envelope over recall.
func areaAP(rec, prec []float64) float64 {
	mrec := append(append([]float64{0}, rec...), 1)
	mpre := append(append([]float64{0}, prec...), 0)

	for i := len(mpre) - 1; i > 0; i-- {
		mpre[i-1] = math.Max(mpre[i-1], mpre[i])
	}

	var ap float64
	for i := 0; i+1 < len(mrec); i++ {
		if mrec[i+1] != mrec[i] {
			ap += (mrec[i+1] - mrec[i]) * mpre[i+1]
		}
	}
	return ap
}

// elevenPointAP averages the best precision at recall >= 0, 0.1, ..., 1.
func elevenPointAP(rec, prec []float64) float64 {
	var ap float64
	for step := 0; step <= 10; step++ {
		t := float64(step) / 10
		p := 0.0
		for i, r := range rec {
			if r >= t && prec[i] > p {
				p = prec[i]
			}
		}
		ap += p / 11
	}
	return ap
}

// Get returns per-class AP in class order followed by the mean over classes
// with a defined AP.
func (m *VOC) Get() ([]string, []float64) {
	names := append(append([]string(nil), m.classNames...), "mAP")
	values := make([]float64, 0, len(names))

	var sum float64
	var count int
	for l := range m.classNames {
		ap := m.averagePrecision(m.recallPrecision(l))
		values = append(values, ap)
		if !math.IsNaN(ap) {
			sum += ap
			count++
		}
	}
	mean := math.NaN()
	if count > 0 {
		mean = sum / float64(count)
	}
	return names, append(values, mean)
}
