package screen

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

var (
	boxColor   = color.RGBA{R: 255, A: 255}
	crossColor = color.RGBA{G: 255, A: 255}
)

const (
	boxThickness = 3
	crossRadius  = 15
)

// Annotate returns a copy of img with box outlined and a crosshair drawn at
// target.
func Annotate(img image.Image, box image.Rectangle, target image.Point) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	box = box.Intersect(b)
	if !box.Empty() {
		for t := 0; t < boxThickness; t++ {
			r := box.Inset(t)
			if r.Empty() {
				break
			}
			hline(out, r.Min.X, r.Max.X-1, r.Min.Y, boxColor)
			hline(out, r.Min.X, r.Max.X-1, r.Max.Y-1, boxColor)
			vline(out, r.Min.Y, r.Max.Y-1, r.Min.X, boxColor)
			vline(out, r.Min.Y, r.Max.Y-1, r.Max.X-1, boxColor)
		}
	}

	hline(out, target.X-crossRadius, target.X+crossRadius, target.Y, crossColor)
	vline(out, target.Y-crossRadius, target.Y+crossRadius, target.X, crossColor)
	return out
}

func hline(img *image.RGBA, x0, x1, y int, c color.RGBA) {
	for x := x0; x <= x1; x++ {
		if (image.Point{X: x, Y: y}).In(img.Rect) {
			img.SetRGBA(x, y, c)
		}
	}
}

func vline(img *image.RGBA, y0, y1, x int, c color.RGBA) {
	for y := y0; y <= y1; y++ {
		if (image.Point{X: x, Y: y}).In(img.Rect) {
			img.SetRGBA(x, y, c)
		}
	}
}
