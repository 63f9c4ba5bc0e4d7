package fetch

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces requests to one source and caps how many are in flight.
// It is safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewLimiter allows one request per minInterval with the given burst and at
// most concurrency requests at once.
func NewLimiter(minInterval time.Duration, burst, concurrency int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		slots:   make(chan struct{}, concurrency),
	}
}

// Acquire blocks for a concurrency slot and a rate token. The returned
// release must be called once the request finished.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		<-l.slots
		return nil, err
	}
	return func() { <-l.slots }, nil
}

// Tighten slows the limiter down to at most one request per interval. It
// never speeds it up.
func (l *Limiter) Tighten(interval time.Duration) {
	if interval <= 0 {
		return
	}
	next := rate.Every(interval)
	if next < l.limiter.Limit() {
		l.limiter.SetLimit(next)
	}
}

// Interval returns the current minimum spacing between requests.
func (l *Limiter) Interval() time.Duration {
	limit := l.limiter.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(time.Second) / float64(limit)))
}
