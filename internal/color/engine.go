package color

import (
	"context"
	"image"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

// Weights are the fusion coefficients; they sum to one.
type Weights struct {
	Keyword float64
	Image   float64
}

// Fuse combines the two signals. Without an image score the keyword score
// stands alone.
func Fuse(w Weights, keyword float64, img *float64) float64 {
	if img == nil {
		return clamp01(keyword)
	}
	return clamp01(w.Keyword*keyword + w.Image*(*img))
}

// EngineConfig wires the color engine.
type EngineConfig struct {
	Weights   Weights
	MaxImages int
	// ImageConcurrency bounds image downloads across the whole batch.
	ImageConcurrency int
}

// Engine scores items for plum/purple relevance from text and images.
type Engine struct {
	keywords *KeywordMatcher
	images   *ImageAnalyzer
	fetcher  ports.ImageFetcher
	cfg      EngineConfig
	logger   *zap.Logger
}

// NewEngine builds the engine. A nil fetcher scores keywords only.
func NewEngine(keywords *KeywordMatcher, images *ImageAnalyzer, fetcher ports.ImageFetcher, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.MaxImages < 0 {
		cfg.MaxImages = 0
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		keywords: keywords,
		images:   images,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger.Named("color"),
	}
}

type imageTask struct {
	item  int
	url   string
	score *float64
}

// ScoreAll scores every item. Image failures only degrade the affected item
// to a keyword-only score; the call itself never fails.
func (e *Engine) ScoreAll(ctx context.Context, items []domain.NormalizedItem) []domain.ColorScore {
	tasks := e.imageTasks(items)

	if len(tasks) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.ImageConcurrency)
		for i := range tasks {
			task := &tasks[i]
			g.Go(func() error {
				img, err := e.fetcher.Fetch(gctx, task.url)
				if err != nil {
					e.logger.Debug("image unavailable", zap.String("url", task.url), zap.Error(err))
					return nil
				}
				score := e.images.Score(img)
				task.score = &score
				return nil
			})
		}
		_ = g.Wait()
	}

	perItem := make([][]*float64, len(items))
	for _, task := range tasks {
		perItem[task.item] = append(perItem[task.item], task.score)
	}

	scores := make([]domain.ColorScore, len(items))
	for i, item := range items {
		scores[i] = e.combine(item, perItem[i])
	}
	return scores
}

// Score scores one item.
func (e *Engine) Score(ctx context.Context, item domain.NormalizedItem) domain.ColorScore {
	return e.ScoreAll(ctx, []domain.NormalizedItem{item})[0]
}

// ScoreImages is the pure core used by ScoreAll: decoded images in, score out.
func (e *Engine) ScoreImages(item domain.NormalizedItem, images []image.Image, attempted int) domain.ColorScore {
	results := make([]*float64, attempted)
	for i, img := range images {
		if i >= attempted {
			break
		}
		if img == nil {
			continue
		}
		score := e.images.Score(img)
		results[i] = &score
	}
	return e.combine(item, results)
}

func (e *Engine) imageTasks(items []domain.NormalizedItem) []imageTask {
	if e.fetcher == nil || e.images == nil || e.cfg.MaxImages == 0 {
		return nil
	}
	var tasks []imageTask
	for i, item := range items {
		seen := map[string]struct{}{}
		for _, url := range item.ImageURLs {
			if len(seen) >= e.cfg.MaxImages {
				break
			}
			if url == "" {
				continue
			}
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			tasks = append(tasks, imageTask{item: i, url: url})
		}
	}
	return tasks
}

func (e *Engine) combine(item domain.NormalizedItem, imageScores []*float64) domain.ColorScore {
	kw := e.keywords.Score(item.Title, item.Description)

	result := domain.ColorScore{
		KeywordScore:    kw.Score,
		MatchedTerms:    kw.Matched,
		ImagesAttempted: len(imageScores),
	}

	var best *float64
	for _, s := range imageScores {
		if s == nil {
			continue
		}
		result.ImagesAnalyzed++
		if best == nil || *s > *best {
			v := *s
			best = &v
		}
	}
	result.ImageScore = best
	if result.ImagesAttempted > 0 {
		result.Confidence = float64(result.ImagesAnalyzed) / float64(result.ImagesAttempted)
	}
	result.FusedScore = Fuse(e.cfg.Weights, kw.Score, best)
	return result
}
