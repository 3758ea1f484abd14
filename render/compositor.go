package render

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"cardgen/core"
	"cardgen/logging"
)

// defaultMargin keeps text away from the image edges, in pixels.
const defaultMargin = 48

// lineSpacing is the vertical advance between wrapped lines, in pixels.
const lineSpacing = 18

// Compositor lays the greeting text onto a base image. Composition never
// fails the request: a malformed base image or a drawing error degrades to
// delivering the base image without the overlay.
type Compositor struct {
	face   font.Face
	margin int
	logger *logging.Logger
}

// NewCompositor creates a compositor with the default face and margins.
func NewCompositor(logger *logging.Logger) *Compositor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Compositor{
		face:   basicfont.Face7x13,
		margin: defaultMargin,
		logger: logger,
	}
}

// Compose draws text centered on the base image and returns the result as
// PNG bytes. On any failure it logs and returns base unchanged together with
// a core composition error the caller may log but must not surface.
func (c *Compositor) Compose(base []byte, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return base, nil
	}

	src, err := DecodeImage(base)
	if err != nil {
		c.logger.Warnw("composition skipped, base image not decodable", zap.Error(err))
		return base, core.ErrComposition("base image not decodable")
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	maxWidth := bounds.Dx() - 2*c.margin
	if maxWidth < 1 {
		c.logger.Warnw("composition skipped, image narrower than margins",
			zap.Int("width", bounds.Dx()))
		return base, core.ErrComposition("image too small for overlay")
	}

	lines := c.wrap(text, maxWidth)
	c.drawLines(canvas, lines)

	out, err := EncodePNG(canvas)
	if err != nil {
		c.logger.Warnw("composition encode failed", zap.Error(err))
		return base, core.ErrComposition("encode failed")
	}
	return out, nil
}

// wrap splits text into lines no wider than maxWidth pixels. Words longer
// than a full line are hard-broken.
func (c *Compositor) wrap(text string, maxWidth int) []string {
	var lines []string
	var current string

	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if c.measure(candidate) <= maxWidth {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
		// Word alone still too wide: break it by runes.
		for c.measure(word) > maxWidth {
			cut := c.fitRunes(word, maxWidth)
			lines = append(lines, word[:cut])
			word = word[cut:]
		}
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// fitRunes returns the byte length of the longest prefix of word that fits
// in maxWidth. Always at least one rune, so the loop in wrap advances.
func (c *Compositor) fitRunes(word string, maxWidth int) int {
	runes := []rune(word)
	fit := 1
	for n := 2; n <= len(runes); n++ {
		if c.measure(string(runes[:n])) > maxWidth {
			break
		}
		fit = n
	}
	return len(string(runes[:fit]))
}

// measure returns the pixel width of s in the compositor face.
func (c *Compositor) measure(s string) int {
	return font.MeasureString(c.face, s).Ceil()
}

// drawLines renders the wrapped lines as a block centered on the canvas.
// Each line is drawn with a dark offset pass first so the text stays legible
// on light backgrounds.
func (c *Compositor) drawLines(canvas *image.RGBA, lines []string) {
	bounds := canvas.Bounds()
	blockHeight := len(lines) * lineSpacing
	startY := bounds.Min.Y + (bounds.Dy()-blockHeight)/2 + c.face.Metrics().Ascent.Ceil()

	shadow := image.NewUniform(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	ink := image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255})

	for i, line := range lines {
		width := c.measure(line)
		x := bounds.Min.X + (bounds.Dx()-width)/2
		y := startY + i*lineSpacing

		for _, pass := range []struct {
			src *image.Uniform
			dx  int
			dy  int
		}{
			{shadow, 1, 1},
			{ink, 0, 0},
		} {
			d := font.Drawer{
				Dst:  canvas,
				Src:  pass.src,
				Face: c.face,
				Dot:  fixed.P(x+pass.dx, y+pass.dy),
			}
			d.DrawString(line)
		}
	}
}
