package centernet

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/tensor"
)

// Stem is a fixed feature extractor that downsamples [B,3,H,W] input by the
// network scale into [B,Channels,ceil(H/s),ceil(W/s)] features.
type Stem interface {
	Name() string
	Channels() int
	Forward(x *tensor.Tensor, scale int) (*tensor.Tensor, error)
}

var baseNetworks = map[string]func() Stem{
	"avgpool":    func() Stem { return poolStem{name: "avgpool", max: false} },
	"avgmaxpool": func() Stem { return poolStem{name: "avgmaxpool", max: true} },
}

// BaseNetworks lists the registered base network names.
func BaseNetworks() []string {
	names := make([]string, 0, len(baseNetworks))
	for name := range baseNetworks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStem returns the registered base network called name.
func NewStem(name string) (Stem, error) {
	f, ok := baseNetworks[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNetwork, "base network %q (have %v)", name, BaseNetworks())
	}
	return f(), nil
}

// poolStem averages each scale x scale window; with max set the window
// maximum is appended as three more channels.
type poolStem struct {
	name string
	max  bool
}

func (p poolStem) Name() string {
	return p.name
}

func (p poolStem) Channels() int {
	if p.max {
		return 6
	}
	return 3
}

func (p poolStem) Forward(x *tensor.Tensor, scale int) (*tensor.Tensor, error) {
	s := x.Shape()
	if len(s) != 4 || s[1] != 3 {
		return nil, errors.Errorf("expected input [B,3,H,W], got %v", s)
	}
	b, H, W := s[0], s[2], s[3]
	h, w := (H+scale-1)/scale, (W+scale-1)/scale
	out := tensor.Zeros(tensor.Shape{b, p.Channels(), h, w}).AsIn(x.Context())

	in, o := x.Data(), out.Data()
	for n := 0; n < b; n++ {
		for c := 0; c < 3; c++ {
			src := in[(n*3+c)*H*W : (n*3+c+1)*H*W]
			avg := o[(n*p.Channels()+c)*h*w : (n*p.Channels()+c+1)*h*w]
			var mx []float32
			if p.max {
				mx = o[(n*6+c+3)*h*w : (n*6+c+4)*h*w]
			}
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					var sum float32
					peak := float32(math.Inf(-1))
					cnt := 0
					for y := i * scale; y < min((i+1)*scale, H); y++ {
						for xx := j * scale; xx < min((j+1)*scale, W); xx++ {
							v := src[y*W+xx]
							sum += v
							peak = max(peak, v)
							cnt++
						}
					}
					avg[i*w+j] = sum / float32(cnt)
					if mx != nil {
						mx[i*w+j] = peak
					}
				}
			}
		}
	}
	return out, nil
}
