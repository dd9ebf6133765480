package recorder

import (
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"sort"

	"github.com/nfnt/resize"

	"github.com/v0xg/gridfill/internal/executor"
)

// encode quantizes frames against a palette built from the first one. The last frame is held
// for holdDelay.
func encode(frames []image.Image, delay int, maxWidth uint) *gif.GIF {
	g := &gif.GIF{
		Image: make([]*image.Paletted, len(frames)),
		Delay: make([]int, len(frames)),
	}
	palette := generatePalette(frames[0])

	for i, frame := range frames {
		if b := frame.Bounds(); maxWidth > 0 && uint(b.Dx()) > maxWidth {
			// height 0 keeps the aspect ratio
			frame = resize.Resize(maxWidth, 0, frame, resize.Lanczos3)
		}
		b := frame.Bounds()
		paletted := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette)
		draw.FloydSteinberg.Draw(paletted, paletted.Bounds(), frame, b.Min)

		g.Image[i] = paletted
		g.Delay[i] = delay
	}
	if last := len(g.Delay) - 1; g.Delay[last] < holdDelay {
		g.Delay[last] = holdDelay
	}
	return g
}

// generatePalette picks the 255 most frequent colours of a sampled image plus transparency.
func generatePalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	counts := make(map[color.RGBA]int)

	const step = 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}]++
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		colors = append(colors, colorCount{c, n})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].count != colors[j].count {
			return colors[i].count > colors[j].count
		}
		return lessRGBA(colors[i].c, colors[j].c)
	})

	palette := make(color.Palette, 0, 256)
	palette = append(palette, color.RGBA{0, 0, 0, 0})
	// the highlight colours must survive quantization
	for _, o := range []executor.Outcome{executor.Selected, executor.FallbackUsed, executor.Failed} {
		palette = append(palette, outcomeColor(o))
	}
	for _, c := range colors {
		if len(palette) == 256 {
			break
		}
		if !contains(palette, c.c) {
			palette = append(palette, c.c)
		}
	}
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

func lessRGBA(a, b color.RGBA) bool {
	if a.R != b.R {
		return a.R < b.R
	}
	if a.G != b.G {
		return a.G < b.G
	}
	if a.B != b.B {
		return a.B < b.B
	}
	return a.A < b.A
}

func contains(p color.Palette, c color.RGBA) bool {
	for _, x := range p {
		if x == c {
			return true
		}
	}
	return false
}
