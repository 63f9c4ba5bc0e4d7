package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/fetch"
	"PlumFinder/internal/metrics"
	"PlumFinder/internal/ports"
	"PlumFinder/internal/source"
)

// ErrDeliveryRejected means the channel returned without accepting the digest.
var ErrDeliveryRejected = errors.New("delivery not accepted")

// Fetcher collects listings from every source for the given queries.
type Fetcher interface {
	Fetch(ctx context.Context, queries []source.Query) fetch.Result
}

// Enricher completes items from their listing pages. The result is aligned
// with the input.
type Enricher interface {
	Enrich(ctx context.Context, items []domain.NormalizedItem) ([]domain.NormalizedItem, int)
}

// Scorer computes color scores aligned with the input items.
type Scorer interface {
	ScoreAll(ctx context.Context, items []domain.NormalizedItem) []domain.ColorScore
}

// Ranker orders scored items and applies threshold and top-K.
type Ranker interface {
	Rank(items []domain.NormalizedItem, colors []domain.ColorScore, now time.Time) []domain.RankedItem
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Fetcher Fetcher
	// OpenStore selects the seen store at the start of every run; the store
	// is closed when the run ends. Store is used as is when OpenStore is nil.
	OpenStore ports.SeenStoreOpener
	Store     ports.SeenStore
	// Enricher is optional.
	Enricher  Enricher
	Scorer    Scorer
	Ranker    Ranker
	Deliverer ports.Deliverer
	Excluder  *Excluder
	Pusher    *metrics.Pusher
	Logger    *zap.Logger

	Queries []source.Query
	// RetentionDays > 0 prunes older records after a successful recording.
	RetentionDays int
	// ResetBeforeRun clears the store at the start of every normal run.
	ResetBeforeRun bool

	Clock    func() time.Time
	NewRunID func() string
}

// RunReport summarizes one run.
type RunReport struct {
	RunID      string
	Mode       domain.RunMode
	State      domain.RunState
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched     int
	Duplicates  int
	Excluded    int
	AlreadySeen int
	Enriched    int
	Scored      int
	Ranked      []domain.RankedItem
	Failures    []domain.SourceQueryFailure

	Receipt   *domain.DeliveryReceipt
	Delivered int
	Recorded  int
	Pruned    int64
}

// Pipeline implements the fetch, filter, score, rank, deliver and record
// workflow of a single run.
type Pipeline struct {
	fetcher   Fetcher
	openStore ports.SeenStoreOpener
	ownsStore bool
	enricher  Enricher
	scorer    Scorer
	ranker    Ranker
	deliverer ports.Deliverer
	excluder  *Excluder
	pusher    *metrics.Pusher
	logger    *zap.Logger
	queries   []source.Query
	retention int
	reset     bool
	clock     func() time.Time
	newRunID  func() string
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		fetcher:   deps.Fetcher,
		openStore: deps.OpenStore,
		ownsStore: deps.OpenStore != nil,
		enricher:  deps.Enricher,
		scorer:    deps.Scorer,
		ranker:    deps.Ranker,
		deliverer: deps.Deliverer,
		excluder:  deps.Excluder,
		pusher:    deps.Pusher,
		logger:    deps.Logger,
		queries:   deps.Queries,
		retention: deps.RetentionDays,
		reset:     deps.ResetBeforeRun,
		clock:     deps.Clock,
		newRunID:  deps.NewRunID,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.newRunID == nil {
		p.newRunID = uuid.NewString
	}
	if p.openStore == nil && deps.Store != nil {
		store := deps.Store
		p.openStore = func(context.Context) (ports.SeenStore, error) { return store, nil }
	}
	return p
}

type run struct {
	report  RunReport
	metrics *metrics.Recorder
	logger  *zap.Logger
	store   ports.SeenStore
}

func (r *run) enter(state domain.RunState) {
	r.logger.Debug("state", zap.String("from", string(r.report.State)), zap.String("to", string(state)))
	r.report.State = state
}

// Run executes one pipeline pass. A dry run stops after ranking and never
// writes to the store or delivers. The report is returned even on error.
func (p *Pipeline) Run(ctx context.Context, mode domain.RunMode) (RunReport, error) {
	r := &run{
		report: RunReport{
			RunID:     p.newRunID(),
			Mode:      mode,
			State:     domain.StateInit,
			StartedAt: p.clock(),
		},
		metrics: metrics.New(),
	}
	r.logger = p.logger.With(zap.String("run_id", r.report.RunID), zap.String("mode", string(mode)))
	r.logger.Info("run started", zap.Int("queries", len(p.queries)))

	err := p.execute(ctx, r)
	if r.store != nil && p.ownsStore {
		if cerr := r.store.Close(); cerr != nil {
			r.logger.Warn("close seen store", zap.Error(cerr))
		}
	}
	if err != nil {
		r.logger.Error("run failed", zap.String("at", string(r.report.State)), zap.Error(err))
		r.report.State = domain.StateFailed
	} else {
		r.report.State = domain.StateDone
	}
	r.report.FinishedAt = p.clock()
	r.metrics.Finish(r.report.State, r.report.StartedAt, r.report.FinishedAt)

	if pushErr := p.pusher.Push(ctx, r.metrics); pushErr != nil {
		r.logger.Warn("metrics push failed", zap.Error(pushErr))
	}

	r.logger.Info("run finished",
		zap.String("state", string(r.report.State)),
		zap.Int("fetched", r.report.Fetched),
		zap.Int("excluded", r.report.Excluded),
		zap.Int("already_seen", r.report.AlreadySeen),
		zap.Int("enriched", r.report.Enriched),
		zap.Int("ranked", len(r.report.Ranked)),
		zap.Int("delivered", r.report.Delivered),
		zap.Int("recorded", r.report.Recorded),
		zap.Int("source_failures", len(r.report.Failures)),
		zap.Duration("duration", r.report.FinishedAt.Sub(r.report.StartedAt)))
	return r.report, err
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	if p.fetcher == nil || p.openStore == nil || p.scorer == nil || p.ranker == nil {
		return errors.New("pipeline misconfigured")
	}
	if r.report.Mode != domain.RunDry && p.deliverer == nil {
		return errors.New("pipeline misconfigured: no deliverer")
	}

	store, err := p.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open seen store: %w", err)
	}
	r.store = store

	if r.report.Mode == domain.RunNormal && p.reset {
		r.logger.Warn("resetting seen store before run")
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("reset before run: %w", err)
		}
	}

	r.enter(domain.StateFetching)
	items := p.fetch(ctx, r)

	r.enter(domain.StateFiltering)
	items = p.exclude(r, items)

	items, err = p.dropSeen(ctx, r, items)
	if err != nil {
		return err
	}

	r.enter(domain.StateScoring)
	if p.enricher != nil && len(items) > 0 {
		items, r.report.Enriched = p.enricher.Enrich(ctx, items)
		r.metrics.ItemsEnriched.Add(float64(r.report.Enriched))
	}
	colors := p.scorer.ScoreAll(ctx, items)
	r.report.Scored = len(items)
	for _, c := range colors {
		r.metrics.ImagesAnalyzed.Add(float64(c.ImagesAnalyzed))
	}

	r.enter(domain.StateRanking)
	now := p.clock()
	ranked := p.ranker.Rank(items, colors, now)
	r.report.Ranked = ranked
	r.metrics.ItemsRanked.Set(float64(len(ranked)))
	r.metrics.ItemsDropped.WithLabelValues("threshold").Add(float64(len(items) - len(ranked)))

	if r.report.Mode == domain.RunDry {
		r.logger.Info("dry run, skipping delivery", zap.Int("candidates", len(ranked)))
		return nil
	}
	if len(ranked) == 0 {
		r.logger.Info("no new candidates, skipping delivery")
		return nil
	}

	r.enter(domain.StateDelivering)
	if err := p.deliver(ctx, r, ranked); err != nil {
		return err
	}

	r.enter(domain.StateRecording)
	if err := p.record(ctx, r, ranked, now); err != nil {
		return err
	}
	p.prune(ctx, r, now)
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, r *run) []domain.NormalizedItem {
	res := p.fetcher.Fetch(ctx, p.queries)
	for name, n := range res.PerSource {
		r.metrics.ItemsFetched.WithLabelValues(name).Add(float64(n))
	}
	for _, f := range res.Failures {
		r.metrics.QueryFailures.WithLabelValues(f.Source, string(f.Kind)).Inc()
		r.logger.Warn("source query skipped",
			zap.String("source", f.Source),
			zap.String("query", f.Query),
			zap.String("mode", string(f.Mode)),
			zap.Int("attempts", f.Attempts),
			zap.String("kind", string(f.Kind)),
			zap.Error(f.Err))
	}
	r.metrics.ItemsDropped.WithLabelValues("duplicate").Add(float64(res.Duplicates))

	r.report.Fetched = len(res.Items)
	r.report.Duplicates = res.Duplicates
	r.report.Failures = res.Failures
	return res.Items
}

func (p *Pipeline) exclude(r *run, items []domain.NormalizedItem) []domain.NormalizedItem {
	kept, excluded := p.excluder.Filter(items)
	for _, item := range excluded {
		r.logger.Debug("excluded",
			zap.String("fingerprint", item.Fingerprint),
			zap.String("title", item.Title),
			zap.Strings("terms", p.excluder.Match(item)))
	}
	r.report.Excluded = len(excluded)
	r.metrics.ItemsDropped.WithLabelValues("excluded").Add(float64(len(excluded)))
	return kept
}

func (p *Pipeline) dropSeen(ctx context.Context, r *run, items []domain.NormalizedItem) ([]domain.NormalizedItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	fps := make([]string, len(items))
	for i, item := range items {
		fps[i] = item.Fingerprint
	}

	seen, err := r.store.ExistsMany(ctx, fps)
	if err != nil {
		return nil, fmt.Errorf("load seen: %w", err)
	}

	fresh := make([]domain.NormalizedItem, 0, len(items))
	for _, item := range items {
		if seen[item.Fingerprint] {
			continue
		}
		fresh = append(fresh, item)
	}
	r.report.AlreadySeen = len(items) - len(fresh)
	r.metrics.ItemsDropped.WithLabelValues("seen").Add(float64(r.report.AlreadySeen))
	return fresh, nil
}

func (p *Pipeline) deliver(ctx context.Context, r *run, ranked []domain.RankedItem) error {
	out := make([]domain.DeliveryItem, len(ranked))
	for i, item := range ranked {
		out[i] = domain.NewDeliveryItem(item)
	}

	receipt, err := p.deliverer.Deliver(ctx, out)
	r.report.Receipt = &receipt
	if err != nil {
		return fmt.Errorf("deliver via %s: %w", p.deliverer.Channel(), err)
	}
	if !receipt.Accepted {
		return fmt.Errorf("deliver via %s: %w", p.deliverer.Channel(), ErrDeliveryRejected)
	}

	r.report.Delivered = len(out)
	r.metrics.ItemsDelivered.Add(float64(len(out)))
	r.logger.Info("digest delivered",
		zap.String("channel", p.deliverer.Channel()),
		zap.String("message_id", receipt.MessageID),
		zap.Int("items", len(out)))
	return nil
}

func (p *Pipeline) record(ctx context.Context, r *run, ranked []domain.RankedItem, now time.Time) error {
	for _, item := range ranked {
		inserted, err := r.store.Record(ctx, domain.SeenRecord{
			Fingerprint:   item.Item.Fingerprint,
			Source:        item.Item.Source,
			FirstSeenDate: now,
		})
		if err != nil {
			return fmt.Errorf("record %s: %w", item.Item.Fingerprint, err)
		}
		if inserted {
			r.report.Recorded++
		}
	}
	r.metrics.ItemsRecorded.Add(float64(r.report.Recorded))
	return nil
}

func (p *Pipeline) prune(ctx context.Context, r *run, now time.Time) {
	if p.retention <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -p.retention)
	n, err := r.store.Prune(ctx, cutoff)
	if err != nil {
		r.logger.Warn("retention prune failed", zap.Error(err))
		return
	}
	r.report.Pruned = n
	r.logger.Info("retention prune", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
}
