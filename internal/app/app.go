package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"PlumFinder/internal/color"
	"PlumFinder/internal/config"
	"PlumFinder/internal/domain"
	"PlumFinder/internal/fetch"
	"PlumFinder/internal/infrastructure/email"
	"PlumFinder/internal/infrastructure/marketplace"
	"PlumFinder/internal/infrastructure/scheduler"
	"PlumFinder/internal/infrastructure/storage"
	"PlumFinder/internal/infrastructure/telegram"
	"PlumFinder/internal/logging"
	"PlumFinder/internal/metrics"
	"PlumFinder/internal/ports"
	"PlumFinder/internal/ranking"
	"PlumFinder/internal/source"
	"PlumFinder/internal/usecase"
)

const robotsUserAgent = "PlumFinder"

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *zap.Logger
	openStore ports.SeenStoreOpener
	pipeline  *usecase.Pipeline
}

// Stats describes the seen store.
type Stats struct {
	Backend string
	Records int64
}

// New builds the application. Nothing is connected yet: every run and every
// maintenance command selects and opens the seen store on its own, so a
// primary outage never outlives the run it happened in.
func New(ctx context.Context, cfg config.Config, baseLogger *zap.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	deliverer, err := newDeliverer(ctx, cfg.Delivery, baseLogger)
	if err != nil {
		return nil, err
	}

	storeLogger := baseLogger.Named("store")
	openStore := func(ctx context.Context) (ports.SeenStore, error) {
		return storage.Open(ctx, cfg.Store, storeLogger)
	}

	orchestrator := newOrchestrator(cfg, baseLogger)
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:        orchestrator,
		OpenStore:      openStore,
		Enricher:       orchestrator,
		Scorer:         newColorEngine(cfg, baseLogger),
		Ranker:         newRanker(cfg),
		Deliverer:      deliverer,
		Excluder:       usecase.NewExcluder(cfg.Search.Exclude),
		Pusher:         metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job),
		Logger:         baseLogger.Named("pipeline"),
		Queries:        queries(cfg),
		RetentionDays:  cfg.Store.RetentionDays,
		ResetBeforeRun: cfg.ResetBeforeRun,
	})

	return &Application{cfg: cfg, logger: baseLogger, openStore: openStore, pipeline: pipeline}, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context, mode domain.RunMode) (usecase.RunReport, error) {
	return a.pipeline.Run(ctx, mode)
}

// Reset clears every seen record.
func (a *Application) Reset(ctx context.Context) error {
	return a.withStore(ctx, func(store ports.SeenStore) error {
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("reset seen store: %w", err)
		}
		a.logger.Info("seen store reset", zap.String("backend", storage.BackendName(store)))
		return nil
	})
}

// Prune removes records first seen more than olderThan ago.
func (a *Application) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("prune age must be positive")
	}
	cutoff := time.Now().Add(-olderThan)

	var n int64
	err := a.withStore(ctx, func(store ports.SeenStore) error {
		var err error
		if n, err = store.Prune(ctx, cutoff); err != nil {
			return fmt.Errorf("prune seen store: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.logger.Info("seen store pruned", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Stats reports the backend selected right now and its record count.
func (a *Application) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := a.withStore(ctx, func(store ports.SeenStore) error {
		n, err := store.Count(ctx)
		if err != nil {
			return fmt.Errorf("count seen store: %w", err)
		}
		stats = Stats{Backend: storage.BackendName(store), Records: n}
		return nil
	})
	return stats, err
}

// Schedule runs the pipeline on the configured cron expression until ctx is
// done.
func (a *Application) Schedule(ctx context.Context) error {
	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location(), a.logger)
	sched, err := a.startSchedule(ctx, driver)
	if err != nil {
		return err
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return sched.Stop(stopCtx)
}

func (a *Application) startSchedule(ctx context.Context, driver ports.Scheduler) (*usecase.Scheduler, error) {
	sched := usecase.NewScheduler(driver, a.pipeline, a.logger)
	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	return sched, nil
}

func (a *Application) withStore(ctx context.Context, fn func(ports.SeenStore) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open seen store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.logger.Warn("close seen store", zap.Error(cerr))
		}
	}()
	return fn(store)
}

func queries(cfg config.Config) []source.Query {
	out := make([]source.Query, 0, len(cfg.Search.Queries))
	for _, q := range cfg.Search.Queries {
		out = append(out, source.Query{
			Term:        q.Term,
			Category:    q.Category,
			Origin:      cfg.Location.Origin,
			PostalCode:  cfg.Location.PostalCode,
			RadiusMiles: cfg.Location.RadiusMiles,
		})
	}
	return out
}

func newOrchestrator(cfg config.Config, logger *zap.Logger) *fetch.Orchestrator {
	gaz := domain.NewGazetteer(cfg.Location.Origin, cfg.Places)
	registry := source.NewRegistry()
	settings := make(map[string]fetch.SourceSettings)

	for _, sc := range cfg.Sources {
		if sc.Disabled {
			continue
		}
		client := source.NewClient(&http.Client{}, sc.UserAgents)

		var adapter source.Adapter
		switch sc.Name {
		case config.SourceCraigslist:
			adapter = marketplace.NewCraigslist(client, sc.BaseURL, gaz)
		case config.SourceOfferUp:
			adapter = marketplace.NewOfferUp(client, sc.BaseURL, sc.Region, gaz)
		case config.SourceMercari:
			adapter = marketplace.NewMercari(client, sc.BaseURL)
		case config.SourcePoshmark:
			adapter = marketplace.NewPoshmark(client, sc.BaseURL)
		case config.SourceEbay:
			adapter = marketplace.NewEbay(client, sc.BaseURL, sc.APIBaseURL, sc.APIKey, gaz)
		case config.SourceEtsy:
			adapter = marketplace.NewEtsy(client, sc.BaseURL, sc.APIBaseURL, sc.APIKey)
		default:
			logger.Warn("unknown source skipped", zap.String("source", sc.Name))
			continue
		}
		registry.Register(adapter)
		settings[sc.Name] = fetch.SourceSettings{
			MinInterval: sc.MinInterval,
			Burst:       sc.Burst,
			Concurrency: sc.Concurrency,
			Retry: fetch.RetryPolicy{
				MaxAttempts: sc.MaxAttempts,
				BaseDelay:   sc.BaseDelay,
				MaxDelay:    sc.MaxDelay,
				Timeout:     sc.RequestTimeout,
			},
			IgnoreRobots: sc.IgnoreRobots,
			UserAgents:   client.Agents(),
			DetailLimit:  sc.DetailLimit,
		}
	}

	robots := fetch.NewRobotsChecker(nil, robotsUserAgent, 0)
	return fetch.NewOrchestrator(registry, settings, logger, fetch.WithRobots(robots))
}

func newColorEngine(cfg config.Config, logger *zap.Logger) *color.Engine {
	cc := cfg.Color
	vocab := make([]color.Keyword, 0, len(cc.Keywords))
	for _, kw := range cc.Keywords {
		vocab = append(vocab, color.Keyword{Term: kw.Term, Weight: kw.Weight})
	}

	analyzer := color.NewImageAnalyzer(color.ImageConfig{
		Band:               color.HueBand{Min: cc.HueMin, Max: cc.HueMax, Tolerance: cc.HueTolerance},
		SaturationMin:      cc.SaturationMin,
		ValueMin:           cc.ValueMin,
		ValueMax:           cc.ValueMax,
		PaletteSize:        cc.PaletteSize,
		CoverageSaturation: cc.CoverageSaturation,
	})

	var agents []string
	if len(cfg.Sources) > 0 {
		agents = cfg.Sources[0].UserAgents
	}
	images := fetch.NewImageFetcher(source.NewClient(&http.Client{}, agents), fetch.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Timeout:     cc.ImageTimeout,
	}, cc.ImageMaxBytes)

	return color.NewEngine(color.NewKeywordMatcher(vocab), analyzer, images, color.EngineConfig{
		Weights:          color.Weights{Keyword: cc.KeywordWeight, Image: cc.ImageWeight},
		MaxImages:        cc.MaxImages,
		ImageConcurrency: cc.ImageConcurrency,
	}, logger)
}

func newRanker(cfg config.Config) *ranking.Engine {
	rc := cfg.Ranking
	bands := make(map[string]ranking.PriceBand, len(rc.PriceBands))
	for category, band := range rc.PriceBands {
		bands[category] = ranking.PriceBand{Min: band.Min, Max: band.Max}
	}
	return ranking.NewEngine(ranking.Config{
		Weights: ranking.Weights{
			Color:     rc.Weights.Color,
			Recency:   rc.Weights.Recency,
			Price:     rc.Weights.Price,
			Proximity: rc.Weights.Proximity,
		},
		RecencyHalfLife:  rc.RecencyHalfLife,
		DefaultPriceBand: ranking.PriceBand{Min: rc.DefaultPriceBand.Min, Max: rc.DefaultPriceBand.Max},
		PriceBands:       bands,
		RadiusMiles:      cfg.Location.RadiusMiles,
		MinColorScore:    cfg.Search.MinColorScore,
		TopK:             cfg.Search.TopK,
	})
}

func newDeliverer(ctx context.Context, cfg config.DeliveryConfig, logger *zap.Logger) (ports.Deliverer, error) {
	switch cfg.Channel {
	case config.ChannelTelegram:
		return telegram.NewNotifier(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger), nil
	case config.ChannelEmail, "":
		client, err := email.NewSESClient(ctx, cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		return email.NewDeliverer(client, cfg.Email.Sender, cfg.Email.Recipients, logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", cfg.Channel)
	}
}
