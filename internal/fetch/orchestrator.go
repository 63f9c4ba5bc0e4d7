package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

// SourceSettings is the per-source politeness and retry configuration.
type SourceSettings struct {
	MinInterval  time.Duration
	Burst        int
	Concurrency  int
	Retry        RetryPolicy
	IgnoreRobots bool
	// UserAgents are the agents the source sends; robots rules must allow
	// all of them.
	UserAgents []string
	// DetailLimit caps detail pages loaded per run by Enrich.
	DetailLimit int
}

// Result is the union of one run's fetches.
type Result struct {
	// Items are unique by fingerprint, first occurrence wins in
	// (source, query, listing) order.
	Items    []domain.NormalizedItem
	Failures []domain.SourceQueryFailure
	// PerSource counts normalized items before cross-source dedup.
	PerSource map[string]int
	// Duplicates counts items dropped by fingerprint.
	Duplicates int
}

// Orchestrator drives source adapters under rate limits, retries and
// API-to-scrape fallback.
type Orchestrator struct {
	registry *source.Registry
	settings map[string]SourceSettings
	robots   *RobotsChecker
	logger   *zap.Logger
	sleep    SleepFunc
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithRobots enables crawl-permission checks before scrape requests.
func WithRobots(checker *RobotsChecker) Option {
	return func(o *Orchestrator) { o.robots = checker }
}

// NewOrchestrator wires the registry with per-source settings.
func NewOrchestrator(registry *source.Registry, settings map[string]SourceSettings, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry: registry,
		settings: settings,
		logger:   logger.Named("fetch"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sourceRun is the mutable per-source state of one run.
type sourceRun struct {
	adapter  source.Adapter
	settings SourceSettings
	limiter  *Limiter

	mu          sync.Mutex
	mode        domain.FetchMode
	robotsTuned bool
}

func (s *sourceRun) currentMode() domain.FetchMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// fallBack switches the source to scrape mode for the rest of the run.
func (s *sourceRun) fallBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.adapter.Capabilities().Scrape {
		return false
	}
	s.mode = domain.ModeScrape
	return true
}

type taskResult struct {
	sourceIdx int
	queryIdx  int
	outcome   queryOutcome
}

// Fetch runs every enabled source against every query. Failures are
// collected, never returned as an error.
func (o *Orchestrator) Fetch(ctx context.Context, queries []source.Query) Result {
	adapters := o.registry.All()
	runs := make([]*sourceRun, 0, len(adapters))
	for _, adapter := range adapters {
		mode, ok := adapter.Capabilities().Preferred()
		if !ok {
			o.logger.Warn("source has no usable capability", zap.String("source", adapter.Name()))
			continue
		}
		settings := o.settings[adapter.Name()]
		runs = append(runs, &sourceRun{
			adapter:  adapter,
			settings: settings,
			limiter:  NewLimiter(settings.MinInterval, settings.Burst, settings.Concurrency),
			mode:     mode,
		})
	}

	cache := newRunCache()
	results := make(chan taskResult)
	var wg sync.WaitGroup
	for si, sr := range runs {
		for qi, q := range queries {
			wg.Add(1)
			go func(si, qi int, sr *sourceRun, q source.Query) {
				defer wg.Done()
				out, shared := cache.do(cacheKey(sr.adapter.Name(), q.Term), func() queryOutcome {
					return o.runSourceQuery(ctx, sr, q)
				})
				if shared {
					o.logger.Debug("source-query served from run cache",
						zap.String("source", sr.adapter.Name()), zap.String("query", q.Term))
				}
				results <- taskResult{sourceIdx: si, queryIdx: qi, outcome: out}
			}(si, qi, sr, q)
		}
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	grid := make([][]queryOutcome, len(runs))
	for i := range grid {
		grid[i] = make([]queryOutcome, len(queries))
	}
	for res := range results {
		grid[res.sourceIdx][res.queryIdx] = res.outcome
	}

	return o.assemble(runs, queries, grid)
}

func (o *Orchestrator) assemble(runs []*sourceRun, queries []source.Query, grid [][]queryOutcome) Result {
	result := Result{PerSource: map[string]int{}}
	seen := map[string]struct{}{}
	reported := map[string]struct{}{}

	for si, sr := range runs {
		name := sr.adapter.Name()
		for qi, q := range queries {
			out := grid[si][qi]
			if out.failure != nil {
				// Cached duplicates of the same term report once.
				key := cacheKey(name, q.Term)
				if _, dup := reported[key]; !dup {
					reported[key] = struct{}{}
					result.Failures = append(result.Failures, *out.failure)
				}
				continue
			}
			for _, raw := range out.listings {
				item, err := sr.adapter.Normalize(raw, q)
				if err != nil {
					o.logger.Warn("skip listing", zap.String("source", name), zap.Error(err))
					continue
				}
				result.PerSource[name]++
				if _, dup := seen[item.Fingerprint]; dup {
					result.Duplicates++
					continue
				}
				seen[item.Fingerprint] = struct{}{}
				result.Items = append(result.Items, item)
			}
		}
	}
	return result
}

func (o *Orchestrator) runSourceQuery(ctx context.Context, sr *sourceRun, q source.Query) queryOutcome {
	name := sr.adapter.Name()
	mode := sr.currentMode()
	totalAttempts := 0

	for {
		listings, res := o.attemptMode(ctx, sr, mode, q)
		totalAttempts += res.Attempts
		if res.Outcome == OutcomeSuccess {
			o.logger.Debug("source-query done",
				zap.String("source", name), zap.String("query", q.Term),
				zap.String("mode", string(mode)), zap.Int("listings", len(listings)), zap.Int("attempts", totalAttempts))
			return queryOutcome{listings: listings, mode: mode}
		}

		if mode == domain.ModeAPI && res.Exhausted() && sr.fallBack() {
			o.logger.Warn("api retries exhausted, switching source to scrape mode",
				zap.String("source", name), zap.String("query", q.Term), zap.Error(res.Err))
			mode = domain.ModeScrape
			continue
		}

		failure := &domain.SourceQueryFailure{
			Source:   name,
			Query:    q.Term,
			Mode:     mode,
			Attempts: totalAttempts,
			Kind:     failureKind(res),
			Err:      res.Err,
		}
		o.logger.Warn("source-query skipped",
			zap.String("source", name), zap.String("query", q.Term), zap.String("mode", string(mode)),
			zap.String("kind", string(failure.Kind)), zap.Int("attempts", totalAttempts), zap.Error(res.Err))
		return queryOutcome{mode: mode, failure: failure}
	}
}

func (o *Orchestrator) attemptMode(ctx context.Context, sr *sourceRun, mode domain.FetchMode, q source.Query) ([]domain.RawListing, RetryResult) {
	if mode == domain.ModeScrape {
		if err := o.checkRobots(ctx, sr, sr.adapter.ScrapeURL(q)); err != nil {
			return nil, RetryResult{Attempts: 0, Outcome: Classify(err), Err: err}
		}
	}

	var listings []domain.RawListing
	res := o.attempt(ctx, sr, func(ctx context.Context) error {
		found, err := sr.adapter.Search(ctx, mode, q)
		if err != nil {
			return err
		}
		listings = found
		return nil
	})
	return listings, res
}

// attempt runs fn under the source's limiter and retry policy. The
// per-attempt timeout starts once the limiter lets the request through, so
// queueing behind other requests never counts against it.
func (o *Orchestrator) attempt(ctx context.Context, sr *sourceRun, fn func(ctx context.Context) error) RetryResult {
	policy := sr.settings.Retry
	timeout := policy.Timeout
	policy.Timeout = 0

	return Retry(ctx, policy, o.sleep, func(ctx context.Context) error {
		release, err := sr.limiter.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		return runAttempt(ctx, timeout, fn)
	})
}

func (o *Orchestrator) checkRobots(ctx context.Context, sr *sourceRun, target string) error {
	if o.robots == nil || sr.settings.IgnoreRobots {
		return nil
	}
	if target == "" {
		return nil
	}
	allowed, err := o.robots.IsAllowed(ctx, target, sr.settings.UserAgents...)
	if err != nil {
		return fmt.Errorf("robots check for %s: %w", sr.adapter.Name(), err)
	}
	if !allowed {
		return fmt.Errorf("%s %s: %w", sr.adapter.Name(), target, source.ErrDisallowed)
	}

	sr.mu.Lock()
	tuned := sr.robotsTuned
	sr.robotsTuned = true
	sr.mu.Unlock()
	if !tuned {
		if parsed, perr := url.Parse(target); perr == nil {
			if delay := o.robots.CrawlDelay(parsed.Host, sr.settings.UserAgents...); delay > sr.limiter.Interval() {
				o.logger.Info("honouring robots crawl-delay",
					zap.String("source", sr.adapter.Name()), zap.Duration("delay", delay))
				sr.limiter.Tighten(delay)
			}
		}
	}
	return nil
}

func failureKind(res RetryResult) domain.FailureKind {
	switch {
	case errors.Is(res.Err, source.ErrDisallowed):
		return domain.FailureDisallowed
	case errors.Is(res.Err, context.Canceled):
		return domain.FailureCanceled
	case res.Exhausted():
		return domain.FailureExhausted
	default:
		return domain.FailureTerminal
	}
}
