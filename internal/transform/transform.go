// Package transform turns raw detection samples into network inputs and
// CenterNet training targets.
//
// Images are resized to the network input size without augmentation and
// normalized with the ImageNet mean and standard deviation.
package transform

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/data"
	"github.com/born-ml/centernet/internal/imageio"
	"github.com/born-ml/centernet/internal/tensor"
)

// ImageNet normalization constants.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

const minOverlap = 0.7

// Config is the geometry shared by the CenterNet transforms.
type Config struct {
	Width    int // network input width
	Height   int // network input height
	Scale    int // output stride of the network
	NumClass int
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.Width, c.Height)
	}
	if c.Scale <= 0 || c.Width%c.Scale != 0 || c.Height%c.Scale != 0 {
		return errors.Errorf("input size %dx%d is not divisible by scale %d", c.Width, c.Height, c.Scale)
	}
	if c.NumClass <= 0 {
		return errors.Errorf("invalid class count %d", c.NumClass)
	}
	return nil
}

// Normalize converts an HWC image in [0, 255] to a normalized CHW tensor.
func Normalize(img *tensor.Tensor) (*tensor.Tensor, error) {
	s := img.Shape()
	if len(s) != 3 || s[2] != 3 {
		return nil, errors.Errorf("expected an HWC image with 3 channels, got shape %v", s)
	}
	h, w := s[0], s[1]
	src := img.Data()
	out := make([]float32, 3*h*w)
	for c := 0; c < 3; c++ {
		plane := out[c*h*w : (c+1)*h*w]
		for i := range plane {
			plane[i] = (src[i*3+c]/255 - Mean[c]) / Std[c]
		}
	}
	return tensor.New(out, tensor.Shape{3, h, w})
}

// resizeSample resizes the image to the input size and scales the boxes
// along.
func resizeSample(s data.Sample, width, height int) (*tensor.Tensor, []data.Object, error) {
	if s.Image == nil {
		return nil, nil, errors.Errorf("sample %s has no image", s.Ref)
	}
	h, w := s.Image.Dim(0), s.Image.Dim(1)
	img, err := imageio.Resize(s.Image, width, height)
	if err != nil {
		return nil, nil, err
	}
	sx := float32(width) / float32(w)
	sy := float32(height) / float32(h)
	objs := make([]data.Object, len(s.Objects))
	for i, o := range s.Objects {
		o.Box = [4]float32{
			clamp(o.Box[0]*sx, 0, float32(width)), clamp(o.Box[1]*sy, 0, float32(height)),
			clamp(o.Box[2]*sx, 0, float32(width)), clamp(o.Box[3]*sy, 0, float32(height)),
		}
		objs[i] = o
	}
	return img, objs, nil
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

// Train returns the training transform. Each item has six fields: image
// [3,H,W], heatmap [C,h,w], wh target, wh mask, center offset target and
// center offset mask, all [2,h,w], where h, w are the input size divided by
// the scale.
func Train(cfg Config) (func(data.Sample) (data.Item, error), error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return func(s data.Sample) (data.Item, error) {
		img, objs, err := resizeSample(s, cfg.Width, cfg.Height)
		if err != nil {
			return nil, err
		}
		x, err := Normalize(img)
		if err != nil {
			return nil, err
		}
		targets, err := Targets(objs, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s", s.Ref)
		}
		return append(data.Item{x}, targets...), nil
	}, nil
}

// Targets renders CenterNet targets for objects given in input pixels.
func Targets(objs []data.Object, cfg Config) ([]*tensor.Tensor, error) {
	ow, oh := cfg.Width/cfg.Scale, cfg.Height/cfg.Scale
	plane := oh * ow

	heatmap := tensor.Zeros(tensor.Shape{cfg.NumClass, oh, ow})
	whTarget := tensor.Zeros(tensor.Shape{2, oh, ow})
	whMask := tensor.Zeros(tensor.Shape{2, oh, ow})
	regTarget := tensor.Zeros(tensor.Shape{2, oh, ow})
	regMask := tensor.Zeros(tensor.Shape{2, oh, ow})

	scale := float32(cfg.Scale)
	for _, o := range objs {
		if o.Class < 0 || o.Class >= cfg.NumClass {
			return nil, errors.Errorf("class id %d out of range [0, %d)", o.Class, cfg.NumClass)
		}
		x0 := clamp(o.Box[0]/scale, 0, float32(ow-1))
		y0 := clamp(o.Box[1]/scale, 0, float32(oh-1))
		x1 := clamp(o.Box[2]/scale, 0, float32(ow-1))
		y1 := clamp(o.Box[3]/scale, 0, float32(oh-1))
		bw, bh := x1-x0, y1-y0
		if bw <= 0 || bh <= 0 {
			continue
		}

		radius := max(0, int(gaussianRadius(math.Ceil(float64(bh)), math.Ceil(float64(bw)), minOverlap)))
		cxf, cyf := (x0+x1)/2, (y0+y1)/2
		cx, cy := int(cxf), int(cyf)

		drawGaussian(heatmap.Data()[o.Class*plane:(o.Class+1)*plane], oh, ow, cx, cy, radius)

		at := cy*ow + cx
		whTarget.Data()[at] = bw
		whTarget.Data()[plane+at] = bh
		whMask.Data()[at] = 1
		whMask.Data()[plane+at] = 1
		regTarget.Data()[at] = cxf - float32(cx)
		regTarget.Data()[plane+at] = cyf - float32(cy)
		regMask.Data()[at] = 1
		regMask.Data()[plane+at] = 1
	}
	return []*tensor.Tensor{heatmap, whTarget, whMask, regTarget, regMask}, nil
}

// Val returns the validation transform. Each item has two fields: image
// [3,H,W] and label [N,5|6] with boxes in input pixels.
func Val(cfg Config) (func(data.Sample) (data.Item, error), error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return func(s data.Sample) (data.Item, error) {
		img, objs, err := resizeSample(s, cfg.Width, cfg.Height)
		if err != nil {
			return nil, err
		}
		x, err := Normalize(img)
		if err != nil {
			return nil, err
		}
		s.Objects = objs
		return data.Item{x, s.Label()}, nil
	}, nil
}

// Test prepares a single HWC image for prediction: the short side is
// resized to short with the long side capped at maxSize, then the image is
// normalized and given a batch axis, [1,3,H,W].
func Test(img *tensor.Tensor, short, maxSize int) (*tensor.Tensor, error) {
	resized, err := imageio.ResizeShortWithin(img, short, maxSize)
	if err != nil {
		return nil, err
	}
	x, err := Normalize(resized)
	if err != nil {
		return nil, err
	}
	return x.Reshape(x.Shape().WithLeading(1))
}
