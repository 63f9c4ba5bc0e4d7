package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRobotsCacheTTL = 24 * time.Hour
	maxRobotsBodyBytes    = 512 * 1024
)

// RobotsChecker checks and caches robots.txt rules per host. A missing or
// unreachable robots.txt allows everything. Concurrent lookups for one host
// share a single robots.txt request.
type RobotsChecker struct {
	httpClient *http.Client
	userAgent  string
	cacheTTL   time.Duration
	group      singleflight.Group

	mu    sync.RWMutex
	cache map[string]*robotsEntry
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	allowAll  bool
}

// NewRobotsChecker creates a checker; a zero TTL caches entries for a day.
func NewRobotsChecker(httpClient *http.Client, userAgent string, cacheTTL time.Duration) *RobotsChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultRobotsCacheTTL
	}
	return &RobotsChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
		cacheTTL:   cacheTTL,
		cache:      map[string]*robotsEntry{},
	}
}

// IsAllowed reports whether every given agent may fetch the URL. Without
// agents the checker's own agent is tested.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string, agents ...string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry := r.entry(ctx, host, parsed.Scheme)
	if entry.allowAll {
		return true, nil
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	for _, agent := range r.agents(agents) {
		if !entry.data.TestAgent(path, agent) {
			return false, nil
		}
	}
	return true, nil
}

// CrawlDelay returns the longest Crawl-delay the host asks of the given
// agents, zero when unknown.
func (r *RobotsChecker) CrawlDelay(host string, agents ...string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[strings.ToLower(host)]
	if !ok || entry.allowAll || entry.data == nil {
		return 0
	}
	var delay time.Duration
	for _, agent := range r.agents(agents) {
		if group := entry.data.FindGroup(agent); group != nil && group.CrawlDelay > delay {
			delay = group.CrawlDelay
		}
	}
	return delay
}

func (r *RobotsChecker) agents(agents []string) []string {
	if len(agents) == 0 {
		return []string{r.userAgent}
	}
	return agents
}

func (r *RobotsChecker) entry(ctx context.Context, host, scheme string) *robotsEntry {
	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) <= r.cacheTTL {
		return entry
	}

	v, _, _ := r.group.Do(host, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.cache[host]
		r.mu.RUnlock()
		if ok && time.Since(cached.fetchedAt) <= r.cacheTTL {
			return cached, nil
		}

		fetched := r.fetch(ctx, host, scheme)
		r.mu.Lock()
		r.cache[host] = fetched
		r.mu.Unlock()
		return fetched, nil
	})
	return v.(*robotsEntry)
}

func (r *RobotsChecker) fetch(ctx context.Context, host, scheme string) *robotsEntry {
	if scheme == "" {
		scheme = "https"
	}
	allowAll := &robotsEntry{fetchedAt: time.Now(), allowAll: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", http.NoBody)
	if err != nil {
		return allowAll
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return allowAll
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return allowAll
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return allowAll
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return allowAll
	}
	return &robotsEntry{data: data, fetchedAt: time.Now()}
}
