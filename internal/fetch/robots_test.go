package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotsChecker(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits++
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /reply\nCrawl-delay: 5\n"))
	}))
	defer srv.Close()

	checker := NewRobotsChecker(srv.Client(), "PlumFinder", time.Hour)
	ctx := context.Background()

	ok, err := checker.IsAllowed(ctx, srv.URL+"/search/sss?query=plum")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = checker.IsAllowed(ctx, srv.URL+"/reply/123")
	require.NoError(t, err)
	assert.False(t, ok)

	host, _ := url.Parse(srv.URL)
	assert.Equal(t, 5*time.Second, checker.CrawlDelay(host.Host))
	assert.Equal(t, 1, hits, "robots.txt is cached per host")
}

func TestRobotsCheckerAllowsAllOnMissingFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	checker := NewRobotsChecker(srv.Client(), "PlumFinder", 0)
	ok, err := checker.IsAllowed(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.True(t, ok)

	host, _ := url.Parse(srv.URL)
	assert.Zero(t, checker.CrawlDelay(host.Host))
}

func TestRobotsCheckerTestsEveryAgentSent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: Mozilla\nDisallow: /search\nCrawl-delay: 9\n\nUser-agent: *\nDisallow: /reply\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	checker := NewRobotsChecker(srv.Client(), "PlumFinder", time.Hour)
	ctx := context.Background()
	target := srv.URL + "/search/sss?query=plum"

	ok, err := checker.IsAllowed(ctx, target)
	require.NoError(t, err)
	assert.True(t, ok, "own agent falls under the wildcard group")

	ok, err = checker.IsAllowed(ctx, target, "PlumFinder/1.0", "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0.0.0 Safari/537.36")
	require.NoError(t, err)
	assert.False(t, ok, "one disallowed agent blocks the request")

	host, _ := url.Parse(srv.URL)
	assert.Equal(t, 2*time.Second, checker.CrawlDelay(host.Host))
	assert.Equal(t, 9*time.Second, checker.CrawlDelay(host.Host, "PlumFinder/1.0", "Mozilla/5.0 (X11)"))
}

func TestRobotsCheckerCoalescesConcurrentLookups(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /reply\n"))
	}))
	defer srv.Close()

	checker := NewRobotsChecker(srv.Client(), "PlumFinder", time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := checker.IsAllowed(context.Background(), srv.URL+"/search/sss")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, hits.Load())
}
