package capturer

import (
	"fmt"
	"math"
)

// glyphSet is the fixed character set the velocity overlay ever needs: the
// ten digits, a colon (unused today, kept for a future mm:ss-style readout),
// a minus sign, a space, and '.', '/', 'u', 's' for a unit suffix. Baking a
// 95-character printable-ASCII atlas for
// a speed string like "123 u/s" would waste most of the atlas.
var glyphSet = []rune{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', '-', ' ', '.', '/', 'u', 's'}

// sdfChar holds one baked glyph's atlas placement and metrics, normalized to
// the atlas dimensions; the overlay blit scales them back to atlas pixel
// offsets for overlayShader (shaders.go).
type sdfChar struct {
	U0, V0, U1, V1   float32
	Width, Height    int
	XOffset, YOffset int
	XAdvance         int
}

// sdfAtlas is the baked glyph bitmap plus per-glyph metrics for one font size.
type sdfAtlas struct {
	Width, Height int
	Pixels        []byte
	Chars         map[rune]sdfChar
	FontSize      float32
	// DigitAdvance is the XAdvance of the '0' glyph, substituted onto every
	// other digit (tabular numerals): a speed string's digit columns
	// never shift width as the displayed value changes.
	DigitAdvance int
}

// generateSDFAtlas bakes glyphSet into a single-channel SDF atlas. padding
// controls the SDF falloff band width in pixels; onedgeValue is the encoded
// distance-zero value (128 is stb_truetype's convention); pixelDistScale
// is how many encoded atlas levels one pixel of distance spans.
func generateSDFAtlas(fontData []byte, fontSize float32, padding int, onedgeValue byte, pixelDistScale float32) (*sdfAtlas, error) {
	font, err := loadFont(fontData)
	if err != nil {
		return nil, fmt.Errorf("overlay atlas: %w", err)
	}
	defer font.free()

	scale := font.scaleForPixelHeight(fontSize)

	numChars := len(glyphSet)
	cellSize := int(math.Ceil(float64(fontSize))) + padding*2
	gridSize := int(math.Ceil(math.Sqrt(float64(numChars))))
	atlasWidth := gridSize * cellSize
	atlasHeight := gridSize * cellSize

	atlas := make([]byte, atlasWidth*atlasHeight)
	chars := make(map[rune]sdfChar, numChars)

	gridX, gridY := 0, 0
	var digitAdvance int

	for _, r := range glyphSet {
		codepoint := int(r)

		bitmap, width, height, xoff, yoff := font.codepointSDF(scale, codepoint, padding, onedgeValue, pixelDistScale)
		advanceWidth, _ := font.codepointHMetrics(codepoint)
		advance := int(float32(advanceWidth) * scale)

		if r == '0' {
			digitAdvance = advance
		}

		if bitmap == nil {
			chars[r] = sdfChar{XAdvance: advance}
			gridX++
			if gridX >= gridSize {
				gridX = 0
				gridY++
			}
			continue
		}

		atlasX := gridX * cellSize
		atlasY := gridY * cellSize

		for y := 0; y < height && atlasY+y < atlasHeight; y++ {
			for x := 0; x < width && atlasX+x < atlasWidth; x++ {
				atlas[(atlasY+y)*atlasWidth+(atlasX+x)] = bitmap[y*width+x]
			}
		}

		chars[r] = sdfChar{
			U0: float32(atlasX) / float32(atlasWidth),
			V0: float32(atlasY) / float32(atlasHeight),
			U1: float32(atlasX+width) / float32(atlasWidth),
			V1: float32(atlasY+height) / float32(atlasHeight),
			Width:    width,
			Height:   height,
			XOffset:  xoff,
			YOffset:  yoff,
			XAdvance: advance,
		}

		gridX++
		if gridX >= gridSize {
			gridX = 0
			gridY++
		}
	}

	// Tabular numerals: every digit advances by the '0' glyph's width so a
	// changing speed value never reflows the rest of the overlay string.
	for _, d := range "0123456789" {
		c := chars[d]
		c.XAdvance = digitAdvance
		chars[d] = c
	}

	return &sdfAtlas{
		Width:        atlasWidth,
		Height:       atlasHeight,
		Pixels:       atlas,
		Chars:        chars,
		FontSize:     fontSize,
		DigitAdvance: digitAdvance,
	}, nil
}
