package render

import (
	"hash/fnv"
	"image"
	"image/color"
	"math/rand"

	"go.uber.org/zap"

	"cardgen/core"
	"cardgen/logging"
)

// palette is a gradient pair plus accent colors for decorations.
type palette struct {
	top     color.RGBA
	bottom  color.RGBA
	accents []color.RGBA
}

// Festive gradient palettes. The seeded PRNG picks one, so the same seed
// always picks the same palette.
var palettes = []palette{
	{
		top:    color.RGBA{R: 255, G: 183, B: 77, A: 255},
		bottom: color.RGBA{R: 240, G: 98, B: 146, A: 255},
		accents: []color.RGBA{
			{R: 255, G: 241, B: 118, A: 255},
			{R: 129, G: 212, B: 250, A: 255},
			{R: 255, G: 255, B: 255, A: 255},
		},
	},
	{
		top:    color.RGBA{R: 79, G: 195, B: 247, A: 255},
		bottom: color.RGBA{R: 94, G: 53, B: 177, A: 255},
		accents: []color.RGBA{
			{R: 255, G: 213, B: 79, A: 255},
			{R: 244, G: 143, B: 177, A: 255},
			{R: 255, G: 255, B: 255, A: 255},
		},
	},
	{
		top:    color.RGBA{R: 174, G: 213, B: 129, A: 255},
		bottom: color.RGBA{R: 0, G: 121, B: 107, A: 255},
		accents: []color.RGBA{
			{R: 255, G: 224, B: 130, A: 255},
			{R: 255, G: 138, B: 101, A: 255},
			{R: 255, G: 255, B: 255, A: 255},
		},
	},
	{
		top:    color.RGBA{R: 206, G: 147, B: 216, A: 255},
		bottom: color.RGBA{R: 40, G: 53, B: 147, A: 255},
		accents: []color.RGBA{
			{R: 255, G: 245, B: 157, A: 255},
			{R: 128, G: 222, B: 234, A: 255},
			{R: 255, G: 255, B: 255, A: 255},
		},
	},
}

// FallbackRenderer produces a deterministic decorative card image locally.
// It never fails: every admitted request that cannot be served by the
// backend still receives an image from here.
type FallbackRenderer struct {
	width  int
	height int
	logger *logging.Logger
}

// NewFallbackRenderer creates a renderer with the given output dimensions.
func NewFallbackRenderer(width, height int, logger *logging.Logger) *FallbackRenderer {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FallbackRenderer{width: width, height: height, logger: logger}
}

// Render produces a card background for the given seed and text. The same
// (seed, text) pair yields byte-identical PNG output. A negative seed means
// none was supplied and a random one is drawn.
func (r *FallbackRenderer) Render(seed int64, text string) *core.RenderedImage {
	if seed < 0 {
		seed = RandomSeed()
	}
	rng := rand.New(rand.NewSource(mixSeed(seed, text)))

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	pal := palettes[rng.Intn(len(palettes))]

	r.paintGradient(img, pal)
	r.scatterConfetti(img, rng, pal)
	r.drawSparkles(img, rng, pal)

	data, err := EncodePNG(img)
	if err != nil {
		// png.Encode on an in-memory RGBA cannot fail; keep the guard
		// for the interface contract.
		r.logger.Errorw("fallback encode failed", zap.Error(err))
		data = nil
	}

	return &core.RenderedImage{
		Data:   data,
		Width:  r.width,
		Height: r.height,
		Source: core.SourceFallback,
		Seed:   seed,
	}
}

// mixSeed folds the card text into the seed so different greetings on the
// same seed still get distinct decorations.
func mixSeed(seed int64, text string) int64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return seed ^ int64(h.Sum64())
}

// paintGradient fills the image with a vertical top-to-bottom gradient.
func (r *FallbackRenderer) paintGradient(img *image.RGBA, pal palette) {
	for y := 0; y < r.height; y++ {
		c := lerpColor(pal.top, pal.bottom, float64(y)/float64(r.height-1))
		for x := 0; x < r.width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// scatterConfetti draws small filled dots at PRNG positions.
func (r *FallbackRenderer) scatterConfetti(img *image.RGBA, rng *rand.Rand, pal palette) {
	count := 50 + rng.Intn(40)
	for i := 0; i < count; i++ {
		cx := rng.Intn(r.width)
		cy := rng.Intn(r.height)
		radius := 2 + rng.Intn(5)
		c := pal.accents[rng.Intn(len(pal.accents))]
		fillCircle(img, cx, cy, radius, c)
	}
}

// drawSparkles draws a handful of four-point crosses.
func (r *FallbackRenderer) drawSparkles(img *image.RGBA, rng *rand.Rand, pal palette) {
	count := 8 + rng.Intn(8)
	for i := 0; i < count; i++ {
		cx := rng.Intn(r.width)
		cy := rng.Intn(r.height)
		arm := 4 + rng.Intn(8)
		c := pal.accents[rng.Intn(len(pal.accents))]
		for d := -arm; d <= arm; d++ {
			setIfInside(img, cx+d, cy, c)
			setIfInside(img, cx, cy+d, c)
		}
	}
}

func fillCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setIfInside(img, cx+dx, cy+dy, c)
			}
		}
	}
}

func setIfInside(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
		A: 255,
	}
}
