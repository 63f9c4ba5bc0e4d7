package fetch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/webp"

	"PlumFinder/internal/ports"
	"PlumFinder/internal/source"
)

// ImageFetcher downloads listing images with the shared retry policy. It has
// no per-source limiter: image hosts are not the marketplaces themselves.
type ImageFetcher struct {
	client   *source.Client
	policy   RetryPolicy
	maxBytes int64
	sleep    SleepFunc
}

var _ ports.ImageFetcher = (*ImageFetcher)(nil)

// NewImageFetcher wires the HTTP client; maxBytes caps a single download.
func NewImageFetcher(client *source.Client, policy RetryPolicy, maxBytes int64) *ImageFetcher {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &ImageFetcher{client: client, policy: policy, maxBytes: maxBytes, sleep: sleepContext}
}

// Fetch downloads and decodes one image.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	var body []byte
	res := Retry(ctx, f.policy, f.sleep, func(attemptCtx context.Context) error {
		header := http.Header{}
		header.Set("Accept", "image/webp,image/png,image/jpeg,image/gif,*/*;q=0.5")
		b, err := f.client.Get(attemptCtx, url, header)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if res.Err != nil {
		return nil, fmt.Errorf("fetch image %s after %d attempts: %w", url, res.Attempts, res.Err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", url, f.maxBytes)
	}

	img, _, err := image.Decode(io.LimitReader(bytes.NewReader(body), f.maxBytes))
	if err != nil {
		return nil, source.Malformed("decode image "+url, err)
	}
	return img, nil
}
