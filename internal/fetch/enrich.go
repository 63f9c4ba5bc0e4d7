package fetch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/source"
)

// Enrich loads listing pages for adapters that provide them, up to each
// source's DetailLimit items in input order. Requests share the source's
// limits, retry policy and robots rules. An item whose page cannot be loaded
// is kept as it was. The result is aligned with items; the count is how many
// items were completed.
func (o *Orchestrator) Enrich(ctx context.Context, items []domain.NormalizedItem) ([]domain.NormalizedItem, int) {
	out := append([]domain.NormalizedItem(nil), items...)

	type detailRun struct {
		*sourceRun
		detailer source.Detailer
		budget   int
	}
	runs := map[string]*detailRun{}
	runFor := func(name string) *detailRun {
		if dr, ok := runs[name]; ok {
			return dr
		}
		var dr *detailRun
		settings := o.settings[name]
		if adapter, err := o.registry.Resolve(name); err == nil && settings.DetailLimit > 0 {
			if d, ok := adapter.(source.Detailer); ok {
				dr = &detailRun{
					sourceRun: &sourceRun{
						adapter:  adapter,
						settings: settings,
						limiter:  NewLimiter(settings.MinInterval, settings.Burst, settings.Concurrency),
						mode:     domain.ModeScrape,
					},
					detailer: d,
					budget:   settings.DetailLimit,
				}
			}
		}
		runs[name] = dr
		return dr
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		enriched int
	)
	for i := range out {
		dr := runFor(out[i].Source)
		if dr == nil || dr.budget == 0 {
			continue
		}
		dr.budget--

		wg.Add(1)
		go func(i int, dr *detailRun) {
			defer wg.Done()
			item, ok := o.detail(ctx, dr.sourceRun, dr.detailer, out[i])
			if !ok {
				return
			}
			mu.Lock()
			out[i] = item
			enriched++
			mu.Unlock()
		}(i, dr)
	}
	wg.Wait()

	if enriched > 0 {
		o.logger.Info("listing details loaded", zap.Int("items", enriched))
	}
	return out, enriched
}

func (o *Orchestrator) detail(ctx context.Context, sr *sourceRun, d source.Detailer, item domain.NormalizedItem) (domain.NormalizedItem, bool) {
	target := d.DetailURL(item)
	if target == "" {
		return item, false
	}
	if err := o.checkRobots(ctx, sr, target); err != nil {
		o.logger.Debug("listing page skipped", zap.String("url", target), zap.Error(err))
		return item, false
	}

	var detailed domain.NormalizedItem
	res := o.attempt(ctx, sr, func(ctx context.Context) error {
		got, err := d.Details(ctx, item)
		if err != nil {
			return err
		}
		detailed = got
		return nil
	})
	if res.Outcome != OutcomeSuccess {
		o.logger.Debug("listing page unavailable",
			zap.String("url", target), zap.Int("attempts", res.Attempts), zap.Error(res.Err))
		return item, false
	}

	detailed.Fingerprint = item.Fingerprint
	detailed.Source = item.Source
	detailed.NativeID = item.NativeID
	detailed.URL = item.URL
	return detailed, true
}
