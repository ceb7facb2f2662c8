package viewer

import (
	"image/color"
	"testing"

	"github.com/sudorandom/floortrack/pkg/floorplan"
	"github.com/sudorandom/floortrack/pkg/transform"
)

func TestProjector(t *testing.T) {
	base := transform.ViewBox{X: 0, Y: 0, W: 10, H: 10}
	p := projector{base: base, flip: transform.FlipY(base), w: 100, h: 100}

	// World origin is the bottom-left of the raster.
	x, y := p.project(0, 0)
	if x != 0 || y != 100 {
		t.Errorf("project(0,0) = (%v, %v); want (0, 100)", x, y)
	}
	x, y = p.project(10, 10)
	if x != 100 || y != 0 {
		t.Errorf("project(10,10) = (%v, %v); want (100, 0)", x, y)
	}
	x, y = p.project(5, 5)
	if x != 50 || y != 50 {
		t.Errorf("project(5,5) = (%v, %v); want (50, 50)", x, y)
	}
}

func TestRenderBackground(t *testing.T) {
	floor := &floorplan.Floor{
		Name:   "test",
		Bounds: &transform.ViewBox{X: 0, Y: 0, W: 10, H: 10},
		Rooms: []floorplan.Room{
			{Name: "square", Points: [][2]float64{{2, 2}, {8, 2}, {8, 8}, {2, 8}}},
		},
	}
	base := floor.BaseViewBox()
	img := renderBackground(floor, base, 200, 200)

	at := func(wx, wy float64) color.RGBA {
		p := projector{base: base, flip: transform.FlipY(base), w: 200, h: 200}
		px, py := p.project(wx, wy)
		return img.RGBAAt(int(px), int(py))
	}

	if got := at(5, 5); got != colorRoomFill {
		t.Errorf("room interior = %v; want fill color", got)
	}
	if got := at(-1, -1); got != colorBackground {
		t.Errorf("outside padding = %v; want background color", got)
	}
	if got := at(2, 5); got != colorRoomOutline && got != colorRoomFill {
		t.Errorf("room edge = %v; want outline or fill", got)
	}
}

func TestSizePx(t *testing.T) {
	if got := sizePx(nil, 40, 14); got != 14 {
		t.Errorf("nil node = %v; want fallback", got)
	}
}

func TestScaleAlpha(t *testing.T) {
	c := scaleAlpha(color.RGBA{200, 100, 50, 255}, 0.5)
	if c.A != 127 {
		t.Errorf("alpha = %d; want 127", c.A)
	}
	if c.R != 100 || c.G != 50 || c.B != 25 {
		t.Errorf("premultiplied channels = %+v", c)
	}
}
