// Package imageio loads images from local files or http(s) URLs into HWC
// float32 tensors and resizes them.
package imageio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/born-ml/centernet/internal/tensor"
)

const (
	reqTimeout    = time.Second * 30
	maxRetryCount = 3
	retryDelay    = 100 * time.Millisecond

	// MaxImageSizeBytes bounds the size of a single encoded image.
	MaxImageSizeBytes = 64 << 20
)

// ErrUnsupportedImage is returned for content that is not a supported image.
var ErrUnsupportedImage = errors.New("unsupported image format")

type decodeFunc func(r *bytes.Reader) (image.Image, error)

var decoders = map[string]decodeFunc{
	"image/jpeg": func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) },
	"image/png":  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
	"image/gif":  func(r *bytes.Reader) (image.Image, error) { return gif.Decode(r) },
	"image/bmp":  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
	"image/tiff": func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
	"image/webp": func(r *bytes.Reader) (image.Image, error) { return webp.Decode(r) },
}

// Loader reads images by reference: a local path or an http(s) URL.
type Loader struct {
	client *resty.Client
}

// NewLoader returns a loader with a retrying HTTP client.
func NewLoader() *Loader {
	r := resty.New().
		SetTimeout(reqTimeout).
		SetRetryCount(maxRetryCount).
		SetRetryWaitTime(retryDelay)
	return &Loader{client: r}
}

// NewLoaderWithClient returns a loader using client for URL references.
func NewLoaderWithClient(client *resty.Client) *Loader {
	return &Loader{client: client}
}

// IsURL reports whether ref is fetched over HTTP.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Read returns the encoded bytes of ref.
func (l *Loader) Read(ctx context.Context, ref string) ([]byte, error) {
	if !IsURL(ref) {
		//nolint:gosec // G304: image references are user-provided by design
		b, err := os.ReadFile(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read image %s", ref)
		}
		return b, nil
	}

	resp, err := l.client.R().SetContext(ctx).Get(ref)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to download image at %s", ref)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("unable to download image at %s: status %d", ref, resp.StatusCode())
	}
	return resp.Body(), nil
}

// Load reads and decodes ref into an HWC tensor with values in [0, 255].
func (l *Loader) Load(ctx context.Context, ref string) (*tensor.Tensor, error) {
	b, err := l.Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, err := Decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", ref)
	}
	return ToTensor(img), nil
}

// Decode sniffs the content type of b and decodes it.
func Decode(b []byte) (image.Image, error) {
	if len(b) > MaxImageSizeBytes {
		return nil, errors.Errorf("image size must be smaller than %dMB, got %.1fMB",
			MaxImageSizeBytes>>20, float64(len(b))/float64(1<<20))
	}
	mimeType := strings.Split(mimetype.Detect(b).String(), ";")[0]
	decode, ok := decoders[mimeType]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedImage, "content type %s", mimeType)
	}
	img, err := decode(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decode %s", mimeType)
	}
	return img, nil
}

// ToTensor converts img to an RGB HWC float32 tensor in [0, 255].
func ToTensor(img image.Image) *tensor.Tensor {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, 0, h*w*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			data = append(data, float32(c.R), float32(c.G), float32(c.B))
		}
	}
	return tensor.MustNew(data, tensor.Shape{h, w, 3})
}

// FromTensor converts an HWC tensor with 3 channels in [0, 255] to an image.
func FromTensor(t *tensor.Tensor) (*image.NRGBA, error) {
	s := t.Shape()
	if len(s) != 3 || s[2] != 3 {
		return nil, errors.Errorf("expected an HWC image with 3 channels, got shape %v", s)
	}
	h, w := s[0], s[1]
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	d := t.Data()
	for i := 0; i < h*w; i++ {
		img.Pix[i*4] = clampByte(d[i*3])
		img.Pix[i*4+1] = clampByte(d[i*3+1])
		img.Pix[i*4+2] = clampByte(d[i*3+2])
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

func clampByte(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 255))))
}

// Resize scales an HWC tensor to w x h with bilinear interpolation.
func Resize(t *tensor.Tensor, w, h int) (*tensor.Tensor, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", w, h)
	}
	if t.Dim(0) == h && t.Dim(1) == w {
		return t, nil
	}
	src, err := FromTensor(t)
	if err != nil {
		return nil, err
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return ToTensor(dst), nil
}

// ShortSideSize returns the size that scales the short side of w x h to
// short while keeping the long side at most maxSize.
func ShortSideSize(w, h, short, maxSize int) (int, int) {
	scale := float64(short) / float64(min(w, h))
	if maxSize > 0 && math.Round(scale*float64(max(w, h))) > float64(maxSize) {
		scale = float64(maxSize) / float64(max(w, h))
	}
	return int(math.Round(float64(w) * scale)), int(math.Round(float64(h) * scale))
}

// ResizeShortWithin resizes an HWC tensor with ShortSideSize.
func ResizeShortWithin(t *tensor.Tensor, short, maxSize int) (*tensor.Tensor, error) {
	if len(t.Shape()) != 3 {
		return nil, errors.Errorf("expected an HWC image, got shape %v", t.Shape())
	}
	w, h := ShortSideSize(t.Dim(1), t.Dim(0), short, maxSize)
	return Resize(t, w, h)
}
