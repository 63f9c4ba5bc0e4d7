package fetch

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"PlumFinder/internal/domain"
)

// queryOutcome is what one source-query produced, cached for the run.
type queryOutcome struct {
	listings []domain.RawListing
	mode     domain.FetchMode
	failure  *domain.SourceQueryFailure
}

// runCache dedupes identical source-queries within a run. Concurrent
// callers for the same key share one request.
type runCache struct {
	group singleflight.Group

	mu   sync.Mutex
	done map[string]queryOutcome
}

func newRunCache() *runCache {
	return &runCache{done: map[string]queryOutcome{}}
}

func cacheKey(sourceName, term string) string {
	return sourceName + "\x00" + domain.NormalizeTitle(term)
}

func (c *runCache) do(key string, fn func() queryOutcome) (queryOutcome, bool) {
	c.mu.Lock()
	if out, ok := c.done[key]; ok {
		c.mu.Unlock()
		return out, true
	}
	c.mu.Unlock()

	v, _, shared := c.group.Do(key, func() (any, error) {
		out := fn()
		c.mu.Lock()
		c.done[key] = out
		c.mu.Unlock()
		return out, nil
	})
	return v.(queryOutcome), shared
}
