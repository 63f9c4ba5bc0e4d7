package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PlumFinder/internal/domain"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string               { return s.name }
func (s stubAdapter) Capabilities() Capabilities { return Capabilities{Scrape: true} }
func (s stubAdapter) Search(context.Context, domain.FetchMode, Query) ([]domain.RawListing, error) {
	return nil, nil
}
func (s stubAdapter) Normalize(domain.RawListing, Query) (domain.NormalizedItem, error) {
	return domain.NormalizedItem{}, nil
}
func (s stubAdapter) ScrapeURL(Query) string { return "" }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubAdapter{name: "b"})
	reg.Register(stubAdapter{name: "a"})
	reg.Register(stubAdapter{name: "b"})

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name())
	assert.Equal(t, "a", all[1].Name())

	_, err := reg.Resolve("missing")
	assert.Error(t, err)
}

func TestCapabilitiesPreferAPI(t *testing.T) {
	t.Parallel()

	mode, ok := Capabilities{API: true, Scrape: true}.Preferred()
	require.True(t, ok)
	assert.Equal(t, domain.ModeAPI, mode)

	mode, ok = Capabilities{Scrape: true}.Preferred()
	require.True(t, ok)
	assert.Equal(t, domain.ModeScrape, mode)

	_, ok = Capabilities{}.Preferred()
	assert.False(t, ok)
	assert.False(t, Capabilities{Scrape: true}.Supports(domain.ModeAPI))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
}

func TestClientReturnsTypedHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), nil)
	_, err := client.Get(context.Background(), srv.URL, nil)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, 3*time.Second, httpErr.RetryAfter)
	assert.True(t, httpErr.Retryable())
}

func TestClientRotatesUserAgents(t *testing.T) {
	t.Parallel()

	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.UserAgent())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), []string{"ua-1", "ua-2"})
	for i := 0; i < 3; i++ {
		var out map[string]any
		require.NoError(t, client.GetJSON(context.Background(), srv.URL, nil, &out))
	}
	assert.Equal(t, []string{"ua-1", "ua-2", "ua-1"}, seen)
	assert.Equal(t, []string{"ua-1", "ua-2"}, client.Agents())
	assert.Equal(t, []string{"PlumFinder/1.0"}, NewClient(nil, nil).Agents())
}

func TestClientMarksBadJSONMalformed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := NewClient(srv.Client(), nil).GetJSON(context.Background(), srv.URL, nil, &out)
	assert.ErrorIs(t, err, ErrMalformed)
}
