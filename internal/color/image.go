package color

import (
	"image"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

const (
	defaultSampleEdge = 100
	minAlpha          = 0x8000
)

// HueBand is a target hue range in degrees. Min > Max wraps through 0°.
type HueBand struct {
	Min float64
	Max float64
	// Tolerance is the falloff width outside the band, in degrees.
	Tolerance float64
}

// Contains reports whether h lies inside the band.
func (b HueBand) Contains(h float64) bool {
	h = normalizeHue(h)
	if b.Min <= b.Max {
		return h >= b.Min && h <= b.Max
	}
	return h >= b.Min || h <= b.Max
}

// Closeness is 1 inside the band and falls off linearly to 0 at Tolerance
// degrees away from the nearest edge.
func (b HueBand) Closeness(h float64) float64 {
	if b.Contains(h) {
		return 1
	}
	if b.Tolerance <= 0 {
		return 0
	}
	d := math.Min(hueDistance(h, b.Min), hueDistance(h, b.Max))
	return clamp01(1 - d/b.Tolerance)
}

// ImageConfig tunes palette extraction and scoring.
type ImageConfig struct {
	Band          HueBand
	SaturationMin float64
	ValueMin      float64
	ValueMax      float64
	PaletteSize   int
	// CoverageSaturation is the weighted coverage that already counts as a
	// fully plum image.
	CoverageSaturation float64
	// SampleEdge is the longest side images are downscaled to before
	// quantization.
	SampleEdge int
}

// Swatch is one palette entry with the share of pixels it represents.
type Swatch struct {
	Color    colorful.Color
	Coverage float64
}

// ImageAnalyzer extracts a dominant palette and scores it against the band.
// It is pure: the same pixels always give the same score.
type ImageAnalyzer struct {
	cfg ImageConfig
}

// NewImageAnalyzer fills zero fields with defaults.
func NewImageAnalyzer(cfg ImageConfig) *ImageAnalyzer {
	if cfg.PaletteSize <= 0 {
		cfg.PaletteSize = 6
	}
	if cfg.CoverageSaturation <= 0 {
		cfg.CoverageSaturation = 0.35
	}
	if cfg.SampleEdge <= 0 {
		cfg.SampleEdge = defaultSampleEdge
	}
	if cfg.ValueMax <= 0 {
		cfg.ValueMax = 1
	}
	return &ImageAnalyzer{cfg: cfg}
}

// Score returns the image score in [0,1].
func (a *ImageAnalyzer) Score(img image.Image) float64 {
	return a.ScorePalette(a.Palette(img))
}

// ScorePalette sums coverage × hue closeness over qualifying swatches.
func (a *ImageAnalyzer) ScorePalette(palette []Swatch) float64 {
	var weighted float64
	for _, sw := range palette {
		h, s, v := sw.Color.Hsv()
		if s < a.cfg.SaturationMin || v < a.cfg.ValueMin || v > a.cfg.ValueMax {
			continue
		}
		weighted += sw.Coverage * a.cfg.Band.Closeness(h)
	}
	return clamp01(weighted / a.cfg.CoverageSaturation)
}

// Palette quantizes the image with median cut, ordered by coverage.
func (a *ImageAnalyzer) Palette(img image.Image) []Swatch {
	pixels := samplePixels(img, a.cfg.SampleEdge)
	if len(pixels) == 0 {
		return nil
	}
	boxes := medianCut(pixels, a.cfg.PaletteSize)

	palette := make([]Swatch, 0, len(boxes))
	for _, box := range boxes {
		var r, g, b float64
		for _, p := range box {
			r += float64(p[0])
			g += float64(p[1])
			b += float64(p[2])
		}
		n := float64(len(box))
		palette = append(palette, Swatch{
			Color:    colorful.Color{R: r / n / 255, G: g / n / 255, B: b / n / 255},
			Coverage: n / float64(len(pixels)),
		})
	}
	sort.SliceStable(palette, func(i, j int) bool {
		return palette[i].Coverage > palette[j].Coverage
	})
	return palette
}

type rgb [3]uint8

func samplePixels(img image.Image, edge int) []rgb {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	src := img
	if w > edge || h > edge {
		scale := float64(edge) / float64(max(w, h))
		dw := max(1, int(math.Round(float64(w)*scale)))
		dh := max(1, int(math.Round(float64(h)*scale)))
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		src = dst
	}

	sb := src.Bounds()
	pixels := make([]rgb, 0, sb.Dx()*sb.Dy())
	for y := sb.Min.Y; y < sb.Max.Y; y++ {
		for x := sb.Min.X; x < sb.Max.X; x++ {
			r, g, b, alpha := src.At(x, y).RGBA()
			if alpha < minAlpha {
				continue
			}
			// Un-premultiply before dropping to 8 bits.
			pixels = append(pixels, rgb{
				uint8(r * 0xffff / alpha >> 8),
				uint8(g * 0xffff / alpha >> 8),
				uint8(b * 0xffff / alpha >> 8),
			})
		}
	}
	return pixels
}

// medianCut splits the pixel set into at most n boxes. The box with the
// widest channel range is split at its median along that channel; ties are
// broken by box order so the result is deterministic.
func medianCut(pixels []rgb, n int) [][]rgb {
	boxes := [][]rgb{pixels}
	for len(boxes) < n {
		target, channel, widest := -1, 0, 0
		for i, box := range boxes {
			if len(box) < 2 {
				continue
			}
			ch, span := widestChannel(box)
			if span > widest {
				target, channel, widest = i, ch, span
			}
		}
		if target < 0 {
			break
		}

		box := boxes[target]
		sort.SliceStable(box, func(i, j int) bool {
			a, b := box[i], box[j]
			if a[channel] != b[channel] {
				return a[channel] < b[channel]
			}
			if a[0] != b[0] {
				return a[0] < b[0]
			}
			if a[1] != b[1] {
				return a[1] < b[1]
			}
			return a[2] < b[2]
		})
		mid := len(box) / 2
		boxes[target] = box[:mid]
		boxes = append(boxes, box[mid:])
	}
	return boxes
}

func widestChannel(box []rgb) (int, int) {
	lo := rgb{255, 255, 255}
	var hi rgb
	for _, p := range box {
		for c := 0; c < 3; c++ {
			lo[c] = min(lo[c], p[c])
			hi[c] = max(hi[c], p[c])
		}
	}
	channel, span := 0, 0
	for c := 0; c < 3; c++ {
		if s := int(hi[c]) - int(lo[c]); s > span {
			channel, span = c, s
		}
	}
	return channel, span
}

func normalizeHue(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func hueDistance(a, b float64) float64 {
	d := math.Abs(normalizeHue(a) - normalizeHue(b))
	return math.Min(d, 360-d)
}
