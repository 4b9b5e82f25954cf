package tsdf

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// blendColors returns the weighted average of two colors in RGB space.
func blendColors(c1 color.NRGBA, w1 float64, c2 color.NRGBA, w2 float64) color.NRGBA {
	total := w1 + w2
	if !(total > 0) {
		return c1
	}
	t := w2 / total
	a, _ := colorful.MakeColor(opaque(c1))
	b, _ := colorful.MakeColor(opaque(c2))
	r, g, bl := a.BlendRgb(b, t).Clamped().RGB255()
	alpha := math.Round(float64(c1.A)*(1-t) + float64(c2.A)*t)
	return color.NRGBA{R: r, G: g, B: bl, A: uint8(alpha)}
}

// opaque drops alpha so colorful does not see premultiplied channels.
func opaque(c color.NRGBA) color.NRGBA {
	c.A = 255
	return c
}
