package imageio

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoad_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 4, 3), 0o600))

	img, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 3}, []int(img.Shape()))
	assert.Equal(t, float32(2), img.At(1, 2, 0), "red channel holds x")
	assert.Equal(t, float32(1), img.At(1, 2, 1), "green channel holds y")
	assert.Equal(t, float32(7), img.At(1, 2, 2))
}

func TestLoad_URL(t *testing.T) {
	body := encodePNG(t, 2, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	l := NewLoader()
	img, err := l.Load(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, []int(img.Shape()))

	_, err = l.Load(context.Background(), srv.URL+"/missing.png")
	assert.Error(t, err)
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := Decode([]byte("plain text, not an image"))
	assert.True(t, errors.Is(err, ErrUnsupportedImage))
}

func TestShortSideSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		short, limit int
		wantW, wantH int
	}{
		{"landscape", 640, 480, 512, 1024, 683, 512},
		{"portrait", 300, 600, 512, 1024, 512, 1024},
		{"capped", 2000, 500, 512, 1024, 1024, 256},
		{"no cap", 2000, 500, 512, 0, 2048, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := ShortSideSize(tt.w, tt.h, tt.short, tt.limit)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestResizeShortWithin(t *testing.T) {
	img, err := Decode(encodePNG(t, 8, 4))
	require.NoError(t, err)

	out, err := ResizeShortWithin(ToTensor(img), 2, 1024)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3}, []int(out.Shape()))

	_, err = ResizeShortWithin(out.Index(0), 2, 1024)
	assert.Error(t, err, "rank-2 input is rejected")
}
