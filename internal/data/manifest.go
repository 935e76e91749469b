package data

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/imageio"
)

type manifestFile struct {
	Classes []string        `json:"classes"`
	Items   []manifestEntry `json:"items"`
}

type manifestEntry struct {
	Image   string           `json:"image"`
	Objects []manifestObject `json:"objects"`
}

type manifestObject struct {
	XMin      float32 `json:"xmin"`
	YMin      float32 `json:"ymin"`
	XMax      float32 `json:"xmax"`
	YMax      float32 `json:"ymax"`
	Class     string  `json:"class"`
	Difficult *bool   `json:"difficult,omitempty"`
}

// Manifest is a detection dataset described by a JSON file:
//
//	{
//	  "classes": ["cat", "dog"],
//	  "items": [
//	    {"image": "img/0001.jpg", "objects": [
//	      {"xmin": 10, "ymin": 20, "xmax": 110, "ymax": 90, "class": "cat", "difficult": false}
//	    ]}
//	  ]
//	}
//
// Relative image paths are resolved against the manifest's directory; URLs
// are fetched. Images are loaded on access. The dataset carries difficult
// flags when any object in the file sets one.
type Manifest struct {
	classes      []string
	refs         []string
	objects      [][]Object
	hasDifficult bool
	images       *imageio.Loader
}

// LoadManifest parses the manifest at path.
func LoadManifest(path string, images *imageio.Loader) (*Manifest, error) {
	//nolint:gosec // G304: dataset paths come from the command line
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	var mf manifestFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	if len(mf.Classes) == 0 {
		return nil, errors.Errorf("manifest %s declares no classes", path)
	}

	classIdx := make(map[string]int, len(mf.Classes))
	for i, c := range mf.Classes {
		if _, dup := classIdx[c]; dup {
			return nil, errors.Errorf("manifest %s: duplicate class %q", path, c)
		}
		classIdx[c] = i
	}

	if images == nil {
		images = imageio.NewLoader()
	}
	m := &Manifest{classes: mf.Classes, images: images}
	base := filepath.Dir(path)
	for i, item := range mf.Items {
		ref := item.Image
		if !imageio.IsURL(ref) && !filepath.IsAbs(ref) {
			ref = filepath.Join(base, ref)
		}
		objs := make([]Object, 0, len(item.Objects))
		for _, o := range item.Objects {
			cls, ok := classIdx[o.Class]
			if !ok {
				return nil, errors.Errorf("manifest %s: item %d uses unknown class %q", path, i, o.Class)
			}
			if o.XMax <= o.XMin || o.YMax <= o.YMin {
				return nil, errors.Errorf("manifest %s: item %d has an empty box", path, i)
			}
			obj := Object{Box: [4]float32{o.XMin, o.YMin, o.XMax, o.YMax}, Class: cls}
			if o.Difficult != nil {
				m.hasDifficult = true
				obj.Difficult = *o.Difficult
			}
			objs = append(objs, obj)
		}
		m.refs = append(m.refs, ref)
		m.objects = append(m.objects, objs)
	}
	return m, nil
}

// Len returns the number of images.
func (m *Manifest) Len() int {
	return len(m.refs)
}

// Classes returns the class names in id order.
func (m *Manifest) Classes() []string {
	return m.classes
}

// Get loads image i with its annotations.
func (m *Manifest) Get(ctx context.Context, i int) (Sample, error) {
	if i < 0 || i >= len(m.refs) {
		return Sample{}, errors.Errorf("index %d out of range [0, %d)", i, len(m.refs))
	}
	img, err := m.images.Load(ctx, m.refs[i])
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Image:        img,
		Objects:      append([]Object(nil), m.objects[i]...),
		HasDifficult: m.hasDifficult,
		Ref:          m.refs[i],
	}, nil
}

// InMemory is a detection dataset held in memory.
type InMemory struct {
	ClassNames []string
	Samples    []Sample
}

// Len returns the number of samples.
func (d *InMemory) Len() int {
	return len(d.Samples)
}

// Classes returns the class names.
func (d *InMemory) Classes() []string {
	return d.ClassNames
}

// Get returns sample i with a private copy of its image.
func (d *InMemory) Get(_ context.Context, i int) (Sample, error) {
	if i < 0 || i >= len(d.Samples) {
		return Sample{}, errors.Errorf("index %d out of range [0, %d)", i, len(d.Samples))
	}
	s := d.Samples[i]
	if s.Image != nil {
		s.Image = s.Image.Clone()
	}
	s.Objects = append([]Object(nil), s.Objects...)
	return s, nil
}

var _ DetectionDataset = (*InMemory)(nil)
var _ DetectionDataset = (*Manifest)(nil)
var _ DetectionDataset = (*Subset)(nil)

