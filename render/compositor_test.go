package render

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"cardgen/core"
)

func solidPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 60, G: 60, B: 200, A: 255})
		}
	}
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return data
}

func TestComposeOverlaysText(t *testing.T) {
	c := NewCompositor(nil)
	base := solidPNG(t, 300, 200)

	out, err := c.Compose(base, "happy birthday")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if bytes.Equal(out, base) {
		t.Error("composed output should differ from the base image")
	}
	if err := ValidateImageData(out); err != nil {
		t.Errorf("composed output is not a valid PNG: %v", err)
	}

	decoded, err := DecodeImage(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 300 || decoded.Bounds().Dy() != 200 {
		t.Errorf("composition changed dimensions to %v", decoded.Bounds())
	}
}

func TestComposeEmptyTextReturnsBaseUnchanged(t *testing.T) {
	c := NewCompositor(nil)
	base := solidPNG(t, 100, 100)

	out, err := c.Compose(base, "   ")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !bytes.Equal(out, base) {
		t.Error("empty text should leave the base image untouched")
	}
}

func TestComposeMalformedBaseDegrades(t *testing.T) {
	c := NewCompositor(nil)
	garbage := []byte("definitely not a png")

	out, err := c.Compose(garbage, "happy birthday")
	if !core.IsComposition(err) {
		t.Errorf("error = %v, want composition error", err)
	}
	if !bytes.Equal(out, garbage) {
		t.Error("degraded path must return the base bytes unchanged")
	}
}

func TestComposeTooNarrowForMarginsDegrades(t *testing.T) {
	c := NewCompositor(nil)
	base := solidPNG(t, 20, 20)

	out, err := c.Compose(base, "hello")
	if !core.IsComposition(err) {
		t.Errorf("error = %v, want composition error", err)
	}
	if !bytes.Equal(out, base) {
		t.Error("degraded path must return the base bytes unchanged")
	}
}

func TestWrapKeepsLinesWithinWidth(t *testing.T) {
	c := NewCompositor(nil)
	text := "with warmest wishes on your very special day dear friend"
	maxWidth := 120

	lines := c.wrap(text, maxWidth)
	if len(lines) < 2 {
		t.Fatalf("expected multiple lines, got %d", len(lines))
	}
	for _, line := range lines {
		if w := c.measure(line); w > maxWidth {
			t.Errorf("line %q is %dpx wide, exceeds %d", line, w, maxWidth)
		}
	}

	joined := strings.Join(lines, " ")
	if joined != text {
		t.Errorf("wrapped text lost words: %q", joined)
	}
}

func TestWrapHardBreaksOversizedWord(t *testing.T) {
	c := NewCompositor(nil)
	word := strings.Repeat("x", 80)
	maxWidth := 100

	lines := c.wrap(word, maxWidth)
	if len(lines) < 2 {
		t.Fatalf("oversized word should be broken, got %d lines", len(lines))
	}
	for _, line := range lines {
		if w := c.measure(line); w > maxWidth {
			t.Errorf("line %q is %dpx wide, exceeds %d", line, w, maxWidth)
		}
	}
	if strings.Join(lines, "") != word {
		t.Error("hard break lost characters")
	}
}
