package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graffio/internal/model"
	"graffio/internal/storage/memory"
	"graffio/internal/storage/raster"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	canvasAddr = model.MustParseAddress("0xcc")
	artistAddr = model.MustParseAddress("0xbb")
)

func fixtures(t *testing.T) (*raster.MemoryStorage, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	pixels := raster.NewMemoryStorage()
	require.NoError(t, pixels.CreateCanvas(ctx, model.CreateCanvasIntent{
		CanvasAddress: canvasAddr, Width: 2, Height: 1, DefaultColor: model.Color{R: 10, G: 10, B: 10},
	}))
	meta := memory.New()
	require.NoError(t, meta.UpdateAttribution(ctx, model.UpdateAttributionIntent{
		CanvasAddress: canvasAddr, ArtistAddress: artistAddr, Index: 0, DrawnAtSecs: 1000,
	}))
	return pixels, meta
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "https://canvas.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetImage(t *testing.T) {
	pixels, meta := fixtures(t)
	h := NewServer(Config{}, pixels, meta, nil).Handler()
	want, err := pixels.CanvasPNG(context.Background(), canvasAddr)
	require.NoError(t, err)

	for _, path := range []string{
		"/v1/pixels/" + canvasAddr.String(),
		"/v1/pixels/0xcc.png",
		"/media/0xcc.png",
	} {
		rec := get(t, h, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"), path)
		assert.Equal(t, want, rec.Body.Bytes(), path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
	}
}

func TestGetImageErrors(t *testing.T) {
	pixels, meta := fixtures(t)
	h := NewServer(Config{}, pixels, meta, nil).Handler()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/pixels/zz").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/pixels/0xdd").Code)
}

func TestGetAttribution(t *testing.T) {
	pixels, meta := fixtures(t)
	h := NewServer(Config{}, pixels, meta, nil).Handler()

	rec := get(t, h, "/v1/metadata/attribution/0xcc/0")
	require.Equal(t, http.StatusOK, rec.Code)
	var body attributionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, canvasAddr, body.CanvasAddress)
	assert.Equal(t, artistAddr, body.ArtistAddress)
	assert.Equal(t, uint64(1000), body.DrawnAtSecs)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/metadata/attribution/0xcc/1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/metadata/attribution/0xcc/x").Code)
}

func TestRoutesDependOnStorage(t *testing.T) {
	h := NewServer(Config{}, nil, nil, nil).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/v1").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/pixels/0xcc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/metadata/attribution/0xcc/0").Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(Config{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
