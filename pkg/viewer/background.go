package viewer

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	"github.com/sudorandom/floortrack/pkg/floorplan"
	"github.com/sudorandom/floortrack/pkg/transform"
)

var (
	colorBackground  = color.RGBA{8, 10, 15, 255}
	colorRoomFill    = color.RGBA{26, 29, 35, 255}
	colorRoomOutline = color.RGBA{56, 64, 78, 255}
)

// projector maps world coordinates into pixel coordinates of the base
// viewbox raster. The flip is anchored on the base box so the raster is
// north-up.
type projector struct {
	base transform.ViewBox
	flip func(float64) float64
	w, h int
}

func (p projector) project(x, y float64) (float64, float64) {
	px := (x - p.base.X) / p.base.W * float64(p.w)
	py := (p.flip(y) - p.base.Y) / p.base.H * float64(p.h)
	return px, py
}

// renderBackground rasterizes the floor's rooms once at startup; pan and
// zoom reuse the raster through a draw transform instead of re-rendering.
func renderBackground(floor *floorplan.Floor, base transform.ViewBox, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorBackground}, image.Point{}, draw.Src)

	p := projector{base: base, flip: transform.FlipY(base), w: w, h: h}
	for _, room := range floor.Rooms {
		fillRoom(img, p, room.Points, colorRoomFill)
		drawRoomOutline(img, p, room.Points, colorRoomOutline)
	}
	return img
}

// fillRoom scanline-fills one room ring.
func fillRoom(img *image.RGBA, p projector, points [][2]float64, c color.RGBA) {
	if len(points) < 3 {
		return
	}
	type point struct{ x, y float64 }
	ring := make([]point, len(points))
	minY, maxY := float64(p.h), 0.0
	for i, pt := range points {
		x, y := p.project(pt[0], pt[1])
		ring[i] = point{x, y}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	for y := int(minY); y <= int(maxY); y++ {
		if y < 0 || y >= p.h {
			continue
		}
		var nodes []int
		fy := float64(y)
		for i := 0; i < len(ring); i++ {
			j := (i + 1) % len(ring)
			if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
				nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
				nodes = append(nodes, int(nodeX))
			}
		}
		sort.Ints(nodes)
		for i := 0; i < len(nodes)-1; i += 2 {
			xs, xe := nodes[i], nodes[i+1]
			if xs < 0 {
				xs = 0
			}
			if xe >= p.w {
				xe = p.w - 1
			}
			for x := xs; x < xe; x++ {
				off := y*img.Stride + x*4
				img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
			}
		}
	}
}

func drawRoomOutline(img *image.RGBA, p projector, points [][2]float64, c color.RGBA) {
	for i := 0; i < len(points); i++ {
		j := (i + 1) % len(points)
		x1, y1 := p.project(points[i][0], points[i][1])
		x2, y2 := p.project(points[j][0], points[j][1])
		drawLineFast(img, p.w, p.h, int(x1), int(y1), int(x2), int(y2), c)
	}
}

func drawLineFast(img *image.RGBA, w, h, x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := math.Abs(float64(x2-x1)), math.Abs(float64(y2-y1))
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		if x1 >= 0 && x1 < w && y1 >= 0 && y1 < h {
			off := y1*img.Stride + x1*4
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
		}
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}
