package reporter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/centernet/internal/config"
)

func TestRedis_Report(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	rc := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})

	r := NewRedisWithClient(rc, "", "run-1")
	defer func() { _ = r.Close() }()

	ctx := context.Background()
	require.NoError(t, r.Report(ctx, 0, 0.25))
	require.NoError(t, r.Report(ctx, 5, 0.5))

	assert.Equal(t, "centernet:valid:run-1", r.Key())
	assert.Equal(t, "0.25", s.HGet(r.Key(), "0"))
	assert.Equal(t, "0.5", s.HGet(r.Key(), "5"))
}

func TestInflux_Report(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		org  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		body = string(b)
		org = req.URL.Query().Get("org")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewInflux(config.InfluxConfig{URL: srv.URL, Token: "t", Org: "lab", Bucket: "runs"}, "run-2")
	defer func() { _ = r.Close() }()

	require.NoError(t, r.Report(context.Background(), 3, 0.75))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "lab", org)
	assert.True(t, strings.HasPrefix(body, "centernet_validation,run=run-2 "), body)
	assert.Contains(t, body, "epoch=3i")
	assert.Contains(t, body, "map=0.75")
}

func TestMulti_ReportsToAll(t *testing.T) {
	var calls []int
	ok := Func(func(_ context.Context, epoch int, _ float64) error {
		calls = append(calls, epoch)
		return nil
	})
	bad := Func(func(context.Context, int, float64) error {
		return errors.New("sink down")
	})

	err := Multi{bad, ok}.Report(context.Background(), 7, 0.1)
	require.Error(t, err)
	assert.Equal(t, []int{7}, calls)
}

func TestFromConfig(t *testing.T) {
	assert.Equal(t, Nop, FromConfig(config.ReporterConfig{}, "x"))

	r := FromConfig(config.ReporterConfig{
		Influx: config.InfluxConfig{URL: "http://localhost:1"},
		Redis:  config.RedisConfig{Addr: "localhost:1"},
	}, "x")
	m, ok := r.(Multi)
	require.True(t, ok)
	assert.Len(t, m, 2)
	assert.NoError(t, m.Close())
}
