// Package transform implements the world-space to screen-space math for the
// floorplan viewport: base viewbox computation, scale clamping, focal-point
// zoom and the north-up axis flip. Everything here is pure; viewport state
// lives with the caller.
package transform

import "math"

const (
	// MinScale and MaxScale bound user zoom.
	MinScale = 0.5
	MaxScale = 3.0

	// BoundsPadding is added on every side of a floor's computed bounds so
	// rooms never touch the viewport edge.
	BoundsPadding = 1.25

	// Fallback bounds edge length when a floor has no usable geometry.
	defaultBoundsSize = 10.0
)

// ViewBox is a world-space rectangle. W and H are always positive.
type ViewBox struct {
	X, Y, W, H float64
}

// StageView is the user-controlled pan/zoom state for one floor.
type StageView struct {
	X, Y  float64
	Scale float64
}

// ClampScale clamps a zoom factor to [MinScale, MaxScale]. Non-finite input
// resets to 1 rather than propagating NaN through the viewport math.
func ClampScale(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 1
	}
	if s < MinScale {
		return MinScale
	}
	if s > MaxScale {
		return MaxScale
	}
	return s
}

// ComputeBaseViewBox derives the stable reference viewbox for a floor.
// Explicit floor bounds win; otherwise the min/max over all room point
// lists is used, skipping non-finite coordinates. A floor with no finite
// points at all gets a default 10x10 box. The result is padded by
// BoundsPadding on every side.
func ComputeBaseViewBox(bounds *ViewBox, pointLists [][][2]float64) ViewBox {
	if bounds != nil && bounds.W > 0 && bounds.H > 0 {
		return pad(*bounds)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false
	for _, points := range pointLists {
		for _, p := range points {
			x, y := p[0], p[1]
			if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			found = true
			minX = math.Min(minX, x)
			minY = math.Min(minY, y)
			maxX = math.Max(maxX, x)
			maxY = math.Max(maxY, y)
		}
	}
	if !found {
		return pad(ViewBox{X: 0, Y: 0, W: defaultBoundsSize, H: defaultBoundsSize})
	}
	return pad(ViewBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY})
}

func pad(vb ViewBox) ViewBox {
	return ViewBox{
		X: vb.X - BoundsPadding,
		Y: vb.Y - BoundsPadding,
		W: vb.W + 2*BoundsPadding,
		H: vb.H + 2*BoundsPadding,
	}
}

// FlipY returns the vertical-axis flip for a base viewbox. Input data is
// north-up (+Y up) while the rendering surface is +Y down. The flip is
// anchored on the base viewbox, not the live one, so flipped positions do
// not jitter while the user zooms or pans.
func FlipY(base ViewBox) func(float64) float64 {
	return func(y float64) float64 {
		return 2*base.Y + base.H - y
	}
}

// LiveViewBox derives the currently visible rectangle from the base viewbox
// and the stage view. The stage scale is clamped on the way in.
func LiveViewBox(base ViewBox, sv StageView) ViewBox {
	s := ClampScale(sv.Scale)
	return ViewBox{X: sv.X, Y: sv.Y, W: base.W / s, H: base.H / s}
}

// DefaultStage returns the centered, unzoomed stage view for a base viewbox.
func DefaultStage(base ViewBox) StageView {
	return StageView{X: base.X, Y: base.Y, Scale: 1}
}

// ViewBoxForScaleAround solves for the viewbox origin that keeps the world
// point (fx, fy) fixed on screen while the scale changes to nextScale.
func ViewBoxForScaleAround(start ViewBox, nextScale float64, base ViewBox, fx, fy float64) ViewBox {
	if start.W <= 0 || start.H <= 0 {
		return start
	}
	s := ClampScale(nextScale)
	newW := base.W / s
	newH := base.H / s
	return ViewBox{
		X: fx - (fx-start.X)*newW/start.W,
		Y: fy - (fy-start.Y)*newH/start.H,
		W: newW,
		H: newH,
	}
}

// PanDelta converts a pixel-space drag into a world-space delta using the
// live viewbox; pixels-per-world-unit depends on the current zoom. A zero or
// unmeasured viewport yields a no-op delta.
func PanDelta(live ViewBox, dxPix, dyPix, pixW, pixH float64) (float64, float64) {
	if pixW <= 0 || pixH <= 0 {
		return 0, 0
	}
	return dxPix * live.W / pixW, dyPix * live.H / pixH
}

// ToScreen maps a world point into pixel coordinates for the given live
// viewbox and measured viewport size.
func ToScreen(live ViewBox, wx, wy, pixW, pixH float64) (float64, float64) {
	return (wx - live.X) / live.W * pixW, (wy - live.Y) / live.H * pixH
}

// ToWorld maps a pixel position back into world coordinates, typically to
// find the focal point under the pointer before a zoom step.
func ToWorld(live ViewBox, sx, sy, pixW, pixH float64) (float64, float64) {
	if pixW <= 0 || pixH <= 0 {
		return live.X, live.Y
	}
	return live.X + sx/pixW*live.W, live.Y + sy/pixH*live.H
}

// PixelsPerUnit reports the current on-screen density of one world unit.
func PixelsPerUnit(live ViewBox, pixW float64) float64 {
	if live.W <= 0 {
		return 0
	}
	return pixW / live.W
}
