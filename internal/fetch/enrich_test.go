package fetch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

type detailAdapter struct {
	fakeAdapter
	details func(item domain.NormalizedItem) (domain.NormalizedItem, error)
	calls   atomic.Int32
}

func (d *detailAdapter) DetailURL(item domain.NormalizedItem) string { return item.URL }

func (d *detailAdapter) Details(_ context.Context, item domain.NormalizedItem) (domain.NormalizedItem, error) {
	d.calls.Add(1)
	return d.details(item)
}

func TestEnrichLoadsDetailsWithinBudget(t *testing.T) {
	t.Parallel()

	board := &detailAdapter{
		fakeAdapter: fakeAdapter{name: "board", caps: source.Capabilities{Scrape: true}},
		details: func(item domain.NormalizedItem) (domain.NormalizedItem, error) {
			if item.NativeID == "2" {
				return item, source.Malformed("posting page", nil)
			}
			item.Fingerprint = "rewritten"
			item.URL = "https://elsewhere.example/" + item.NativeID
			item.Description = "Deep plum velvet"
			return item, nil
		},
	}
	plain := &fakeAdapter{name: "plain", caps: source.Capabilities{Scrape: true}}
	reg := source.NewRegistry()
	reg.Register(board)
	reg.Register(plain)

	orch := newTestOrchestrator(t, reg, map[string]SourceSettings{
		"board": {DetailLimit: 2},
		"plain": {DetailLimit: 5},
	})

	item := func(src, id string) domain.NormalizedItem {
		return domain.NormalizedItem{
			Fingerprint: src + ":" + id,
			Source:      src,
			NativeID:    id,
			Title:       "Velvet pillow " + id,
			URL:         "https://" + src + ".example/" + id,
		}
	}
	in := []domain.NormalizedItem{item("board", "1"), item("plain", "1"), item("board", "2"), item("board", "3")}

	out, enriched := orch.Enrich(context.Background(), in)

	require.Len(t, out, 4)
	assert.Equal(t, 1, enriched)
	assert.EqualValues(t, 2, board.calls.Load())

	assert.Equal(t, "Deep plum velvet", out[0].Description)
	assert.Equal(t, "board:1", out[0].Fingerprint)
	assert.Equal(t, "https://board.example/1", out[0].URL)

	assert.Equal(t, in[1], out[1])
	assert.Equal(t, in[2], out[2])
	assert.Equal(t, in[3], out[3])
	assert.Empty(t, in[0].Description)
}

func TestEnrichSkipsSourcesWithoutDetailLimit(t *testing.T) {
	t.Parallel()

	board := &detailAdapter{
		fakeAdapter: fakeAdapter{name: "board", caps: source.Capabilities{Scrape: true}},
		details: func(item domain.NormalizedItem) (domain.NormalizedItem, error) {
			item.Description = "loaded"
			return item, nil
		},
	}
	reg := source.NewRegistry()
	reg.Register(board)

	orch := newTestOrchestrator(t, reg, map[string]SourceSettings{"board": {}})
	in := []domain.NormalizedItem{{Fingerprint: "board:1", Source: "board", NativeID: "1", URL: "https://board.example/1"}}

	out, enriched := orch.Enrich(context.Background(), in)

	assert.Zero(t, enriched)
	assert.Equal(t, in, out)
	assert.Zero(t, board.calls.Load())
}
