package color

import (
	"context"
	"errors"
	"image"
	stdcolor "image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"PlumFinder/internal/domain"
)

var (
	plumRGB  = stdcolor.RGBA{R: 142, G: 69, B: 133, A: 255}
	greenRGB = stdcolor.RGBA{R: 40, G: 160, B: 60, A: 255}
)

func testVocabulary() []Keyword {
	return []Keyword{
		{Term: "plum", Weight: 0.9},
		{Term: "eggplant", Weight: 0.9},
		{Term: "amethyst", Weight: 0.85},
		{Term: "purple", Weight: 0.8},
		{Term: "violet", Weight: 0.7},
		{Term: "lavender", Weight: 0.45},
		{Term: "purple-ish", Weight: 0.3},
	}
}

func testAnalyzer() *ImageAnalyzer {
	return NewImageAnalyzer(ImageConfig{
		Band:               HueBand{Min: 270, Max: 330, Tolerance: 30},
		SaturationMin:      0.15,
		ValueMin:           0.15,
		ValueMax:           1,
		PaletteSize:        6,
		CoverageSaturation: 0.35,
	})
}

func solid(c stdcolor.Color, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestKeywordScoreStrongTerm(t *testing.T) {
	t.Parallel()

	m := NewKeywordMatcher(testVocabulary())
	res := m.Score("Purple velvet throw pillow", "")

	assert.GreaterOrEqual(t, res.Score, 0.8)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.Equal(t, []string{"purple"}, res.Matched)
}

func TestKeywordScoreIsWholeWord(t *testing.T) {
	t.Parallel()

	m := NewKeywordMatcher(testVocabulary())
	assert.Zero(t, m.Score("Plumbing supplies", "plumber tools").Score)

	res := m.Score("Vintage purple-ish bowl", "")
	assert.Equal(t, []string{"purple", "purple-ish"}, res.Matched)
	assert.InDelta(t, 1-(0.2*0.7), res.Score, 1e-9)
}

func TestKeywordScoreSplitsHyphenatedWords(t *testing.T) {
	t.Parallel()

	m := NewKeywordMatcher(testVocabulary())

	tests := []struct {
		title   string
		matched []string
		score   float64
	}{
		{title: "Plum-colored velvet pillow", matched: []string{"plum"}, score: 0.9},
		{title: "Purple-velvet throw pillow", matched: []string{"purple"}, score: 0.8},
		{title: "Deep -plum- cushion", matched: []string{"plum"}, score: 0.9},
		{title: "Plum colored velvet pillow", matched: []string{"plum"}, score: 0.9},
		{title: "Plumbing-grade pipe", matched: nil, score: 0},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			res := m.Score(tt.title, "")
			assert.Equal(t, tt.matched, res.Matched)
			assert.InDelta(t, tt.score, res.Score, 1e-9)
		})
	}
}

func TestKeywordScoreSaturatesAndHalvesDescription(t *testing.T) {
	t.Parallel()

	m := NewKeywordMatcher(testVocabulary())

	both := m.Score("Plum & purple vase", "")
	assert.InDelta(t, 1-(0.1*0.2), both.Score, 1e-9)

	descOnly := m.Score("Glass vase", "A deep eggplant color.")
	assert.InDelta(t, 0.45, descOnly.Score, 1e-9)

	assert.Zero(t, NewKeywordMatcher(nil).Score("plum", "").Score)
}

func TestHueBand(t *testing.T) {
	t.Parallel()

	band := HueBand{Min: 270, Max: 330, Tolerance: 30}
	assert.Equal(t, 1.0, band.Closeness(300))
	assert.InDelta(t, 0.5, band.Closeness(255), 1e-9)
	assert.InDelta(t, 0.5, band.Closeness(345), 1e-9)
	assert.Zero(t, band.Closeness(120))

	wrap := HueBand{Min: 330, Max: 20, Tolerance: 10}
	assert.True(t, wrap.Contains(350))
	assert.True(t, wrap.Contains(5))
	assert.False(t, wrap.Contains(200))
	assert.InDelta(t, 0.5, wrap.Closeness(25), 1e-9)
}

func TestImageScore(t *testing.T) {
	t.Parallel()

	a := testAnalyzer()
	assert.Equal(t, 1.0, a.Score(solid(plumRGB, 20, 20)))
	assert.Zero(t, a.Score(solid(greenRGB, 20, 20)))

	mixed := solid(greenRGB, 4, 4)
	for x := 0; x < 4; x++ {
		mixed.Set(x, 0, plumRGB)
	}
	assert.InDelta(t, 0.25/0.35, a.Score(mixed), 1e-6)
}

func TestImageScoreGatesDullColors(t *testing.T) {
	t.Parallel()

	// Grey with a faint purple cast: hue in band, saturation below the floor.
	grey := stdcolor.RGBA{R: 128, G: 124, B: 130, A: 255}
	assert.Zero(t, testAnalyzer().Score(solid(grey, 10, 10)))
}

func TestPaletteIsDeterministicAndDownscales(t *testing.T) {
	t.Parallel()

	img := solid(greenRGB, 400, 300)
	for y := 0; y < 150; y++ {
		for x := 0; x < 400; x++ {
			img.Set(x, y, plumRGB)
		}
	}

	a := testAnalyzer()
	first := a.Palette(img)
	second := a.Palette(img)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)

	var total float64
	for _, sw := range first {
		total += sw.Coverage
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

type fakeFetcher struct {
	mu     sync.Mutex
	images map[string]image.Image
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if img, ok := f.images[url]; ok {
		return img, nil
	}
	return nil, errors.New("404")
}

func newTestEngine(t *testing.T, fetcher *fakeFetcher) *Engine {
	t.Helper()
	return NewEngine(NewKeywordMatcher(testVocabulary()), testAnalyzer(), fetcher,
		EngineConfig{Weights: Weights{Keyword: 0.4, Image: 0.6}, MaxImages: 3, ImageConcurrency: 2},
		zaptest.NewLogger(t))
}

func TestEngineScenarioKeywordOnly(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, &fakeFetcher{})
	score := engine.Score(context.Background(), domain.NormalizedItem{Title: "Purple velvet throw pillow"})

	assert.Nil(t, score.ImageScore)
	assert.Equal(t, score.KeywordScore, score.FusedScore)
	assert.GreaterOrEqual(t, score.KeywordScore, 0.8)
	assert.Zero(t, score.ImagesAttempted)
}

func TestEngineDegradesOnImageFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	engine := newTestEngine(t, fetcher)
	item := domain.NormalizedItem{
		Title:     "Plum cushion",
		ImageURLs: []string{"https://img/1", "https://img/2"},
	}
	score := engine.Score(context.Background(), item)

	assert.Nil(t, score.ImageScore)
	assert.Equal(t, score.KeywordScore, score.FusedScore)
	assert.Equal(t, 2, score.ImagesAttempted)
	assert.Zero(t, score.ImagesAnalyzed)
	assert.Zero(t, score.Confidence)
}

func TestEngineFusesBestImage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{images: map[string]image.Image{
		"https://img/plum":  solid(plumRGB, 8, 8),
		"https://img/green": solid(greenRGB, 8, 8),
	}}
	engine := newTestEngine(t, fetcher)
	item := domain.NormalizedItem{
		Title:     "Ceramic vase",
		ImageURLs: []string{"https://img/green", "https://img/plum", "https://img/missing", "https://img/fourth"},
	}

	score := engine.Score(context.Background(), item)
	require.NotNil(t, score.ImageScore)
	assert.Equal(t, 1.0, *score.ImageScore)
	assert.Equal(t, 3, score.ImagesAttempted, "only the first three images are fetched")
	assert.Equal(t, 2, score.ImagesAnalyzed)
	assert.InDelta(t, 2.0/3.0, score.Confidence, 1e-9)
	assert.InDelta(t, 0.6, score.FusedScore, 1e-9)
	assert.NotContains(t, fetcher.calls, "https://img/fourth")
}

func TestEngineIsDeterministic(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, nil)
	item := domain.NormalizedItem{Title: "Amethyst glass bowl", Description: "violet tint"}
	img := solid(plumRGB, 16, 16)

	first := engine.ScoreImages(item, []image.Image{img, nil}, 2)
	second := engine.ScoreImages(item, []image.Image{img, nil}, 2)
	assert.Equal(t, first, second)
	assert.InDelta(t, 0.5, first.Confidence, 1e-9)
}

func TestFuse(t *testing.T) {
	t.Parallel()

	w := Weights{Keyword: 0.5, Image: 0.5}
	assert.Equal(t, 0.7, Fuse(w, 0.7, nil))
	img := 0.3
	assert.InDelta(t, 0.5, Fuse(w, 0.7, &img), 1e-9)
}
