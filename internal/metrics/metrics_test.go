package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PlumFinder/internal/domain"
)

func TestRecorderIsolatedPerRun(t *testing.T) {
	first := New()
	first.ItemsFetched.WithLabelValues("ebay").Add(5)
	second := New()

	assert.Equal(t, 5.0, testutil.ToFloat64(first.ItemsFetched.WithLabelValues("ebay")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.ItemsFetched.WithLabelValues("ebay")))
}

func TestFinish(t *testing.T) {
	r := New()
	start := time.Unix(1_700_000_000, 0)
	r.Finish(domain.StateDone, start, start.Add(90*time.Second))

	assert.Equal(t, 90.0, testutil.ToFloat64(r.RunDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunState.WithLabelValues("DONE")))
	assert.Equal(t, float64(start.Add(90*time.Second).Unix()), testutil.ToFloat64(r.LastRunFinished))
}

func TestPushSendsToGateway(t *testing.T) {
	var (
		gotPath string
		gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.ItemsDelivered.Add(3)
	require.NoError(t, NewPusher(srv.URL, "plumfinder").Push(context.Background(), r))

	assert.Equal(t, "/metrics/job/plumfinder", gotPath)
	assert.True(t, strings.Contains(gotBody, "plumfinder_items_delivered_total"))
}

func TestNilPusherIsNoop(t *testing.T) {
	assert.Nil(t, NewPusher("", "job"))
	var p *Pusher
	assert.NoError(t, p.Push(context.Background(), New()))
}
