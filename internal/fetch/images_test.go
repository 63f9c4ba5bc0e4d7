package fetch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PlumFinder/internal/source"
)

func TestImageFetcherDecodesPNG(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 110, G: 30, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	fetcher := NewImageFetcher(source.NewClient(srv.Client(), nil), RetryPolicy{MaxAttempts: 1}, 0)
	decoded, err := fetcher.Fetch(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
}

func TestImageFetcherRejectsGarbage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	fetcher := NewImageFetcher(source.NewClient(srv.Client(), nil), RetryPolicy{MaxAttempts: 1}, 0)
	_, err := fetcher.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, source.ErrMalformed)
}
