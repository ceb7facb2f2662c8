// Package viewer renders the floorplan and its live markers with ebiten:
// wheel zoom around the pointer, drag panning, and a small HUD.
package viewer

import (
	"bytes"
	"image/color"
	"log"
	"math"
	"strconv"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/floortrack/pkg/floorplan"
	"github.com/sudorandom/floortrack/pkg/scene"
	"github.com/sudorandom/floortrack/pkg/transform"
	"github.com/sudorandom/floortrack/pkg/utils"
)

const zoomStepBase = 1.1

var (
	colorPin      = color.RGBA{0, 191, 255, 255}
	colorStalePin = color.RGBA{255, 170, 40, 255}
	colorStatic   = color.RGBA{110, 118, 132, 255}
	colorLabel    = color.RGBA{255, 255, 255, 255}
)

// Viewer is the ebiten game loop around one floor.
type Viewer struct {
	Width, Height int

	floor *floorplan.Floor
	base  transform.ViewBox
	flip  func(float64) float64
	stage transform.StageView
	home  transform.StageView

	container *scene.Container
	engine    *scene.Engine

	bgImage    *ebiten.Image
	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource

	avatarDir string
	avatars   sync.Map // url -> *ebiten.Image
	fetching  sync.Map // url -> struct{}

	dragging               bool
	lastMouseX, lastMouseY int
}

// New builds a viewer for the floor. The engine is attached separately so
// the caller can hand the viewer's pixel density to the engine first.
func New(floor *floorplan.Floor, container *scene.Container, width, height int, avatarCacheDir string) *Viewer {
	s, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	m, _ := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))

	base := floor.BaseViewBox()
	home := transform.DefaultStage(base)
	if floor.InitialView != nil {
		home = *floor.InitialView
		home.Scale = transform.ClampScale(home.Scale)
	}

	v := &Viewer{
		Width:      width,
		Height:     height,
		floor:      floor,
		base:       base,
		flip:       transform.FlipY(base),
		stage:      home,
		home:       home,
		container:  container,
		fontSource: s,
		monoSource: m,
		avatarDir:  avatarCacheDir,
	}
	v.bgImage = ebiten.NewImageFromImage(renderBackground(floor, base, width, height))
	return v
}

// SetEngine attaches the reconciliation engine driven from Update.
func (v *Viewer) SetEngine(e *scene.Engine) {
	v.engine = e
}

func (v *Viewer) live() transform.ViewBox {
	return transform.LiveViewBox(v.base, v.stage)
}

// PixelsPerUnit reports the current screen density of one world unit; the
// engine uses it to keep marker sizes constant across zoom levels.
func (v *Viewer) PixelsPerUnit() float64 {
	return transform.PixelsPerUnit(v.live(), float64(v.Width))
}

func (v *Viewer) Update() error {
	v.handleZoom()
	v.handlePan()
	v.handleKeys()
	if v.engine != nil {
		v.engine.SyncIfNeeded()
	}
	return nil
}

func (v *Viewer) handleZoom() {
	_, wheelY := ebiten.Wheel()
	if wheelY == 0 {
		return
	}
	live := v.live()
	mx, my := ebiten.CursorPosition()
	fx, fy := transform.ToWorld(live, float64(mx), float64(my), float64(v.Width), float64(v.Height))
	next := transform.ClampScale(v.stage.Scale * math.Pow(zoomStepBase, wheelY))
	vb := transform.ViewBoxForScaleAround(live, next, v.base, fx, fy)
	v.stage = transform.StageView{X: vb.X, Y: vb.Y, Scale: next}
}

func (v *Viewer) handlePan() {
	if !ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		v.dragging = false
		return
	}
	mx, my := ebiten.CursorPosition()
	if v.dragging {
		dx, dy := transform.PanDelta(v.live(),
			float64(v.lastMouseX-mx), float64(v.lastMouseY-my),
			float64(v.Width), float64(v.Height))
		v.stage.X += dx
		v.stage.Y += dy
	}
	v.dragging = true
	v.lastMouseX, v.lastMouseY = mx, my
}

func (v *Viewer) handleKeys() {
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		v.stage = v.home
	}
	if v.engine == nil {
		return
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyT) {
		v.engine.SetEnabled(!v.engine.Enabled())
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyD) {
		switch v.engine.DebugOverlay() {
		case scene.DebugOff:
			v.engine.SetDebugOverlay(scene.DebugXYZ)
		case scene.DebugXYZ:
			v.engine.SetDebugOverlay(scene.DebugGeo)
		default:
			v.engine.SetDebugOverlay(scene.DebugOff)
		}
	}
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	live := v.live()
	pixW, pixH := float64(v.Width), float64(v.Height)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(v.base.W/live.W, v.base.H/live.H)
	op.GeoM.Translate((v.base.X-live.X)/live.W*pixW, (v.base.Y-live.Y)/live.H*pixH)
	screen.DrawImage(v.bgImage, op)

	ppu := transform.PixelsPerUnit(live, pixW)
	v.container.Root().Walk(func(n *scene.Node) {
		if n.Kind != scene.KindMarker {
			return
		}
		tr, ok := n.Transform()
		if !ok {
			return
		}
		wx, wy, ok := scene.ParseTranslate(tr)
		if !ok {
			return
		}
		sx, sy := transform.ToScreen(live, wx, wy, pixW, pixH)
		if n.Attr(scene.AttrTracking) != "" {
			v.drawTrackedMarker(screen, n, sx, sy, ppu)
		} else {
			v.drawStaticMarker(screen, n, sx, sy)
		}
	})

	v.drawLegend(screen)
}

func (v *Viewer) drawTrackedMarker(screen *ebiten.Image, n *scene.Node, sx, sy, ppu float64) {
	stale := n.HasClass(scene.ClassStale)
	pinColor := colorPin
	alpha := float32(1.0)
	if stale {
		pinColor = colorStalePin
		alpha = 0.55
	}

	radius := float32(sizePx(n.Child(scene.KindPin), ppu, 14) / 2)
	vector.DrawFilledCircle(screen, float32(sx), float32(sy), radius, scaleAlpha(pinColor, alpha), true)
	vector.StrokeCircle(screen, float32(sx), float32(sy), radius+1.5, 1, scaleAlpha(colorLabel, alpha*0.7), true)

	// Avatar or initials sits above the pin.
	badgeY := sy - float64(radius) - 4
	if avatar := n.Child(scene.KindAvatar); avatar != nil && avatar.Attr(scene.AttrHidden) != "true" {
		size := sizePx(avatar, ppu, 22)
		if img := v.avatarImage(avatar.Attr(scene.AttrHref)); img != nil {
			aop := &ebiten.DrawImageOptions{}
			b := img.Bounds()
			aop.GeoM.Scale(size/float64(b.Dx()), size/float64(b.Dy()))
			aop.GeoM.Translate(sx-size/2, badgeY-size)
			aop.ColorScale.ScaleAlpha(alpha)
			screen.DrawImage(img, aop)
			badgeY -= size + 2
		}
	} else if ini := n.Child(scene.KindInitials); ini != nil && ini.Attr(scene.AttrHidden) != "true" && ini.Text != "" {
		size := sizePx(ini, ppu, 11)
		v.drawTextCentered(screen, ini.Text, v.fontSource, size, sx, badgeY-size, alpha)
		badgeY -= size + 4
	}

	textY := sy + float64(radius) + 3
	if lbl := n.Child(scene.KindLabel); lbl != nil && lbl.Text != "" {
		size := sizePx(lbl, ppu, 12)
		v.drawTextCentered(screen, lbl.Text, v.fontSource, size, sx, textY, alpha)
		textY += size + 2
	}
	if status := n.Child(scene.KindStatus); status != nil && status.Text != "" {
		size := sizePx(status, ppu, 12) * 0.85
		v.drawTextCentered(screen, status.Text, v.fontSource, size, sx, textY, alpha*0.8)
		textY += size + 2
	}
	if dbg := n.Child(scene.KindDebug); dbg != nil && dbg.Text != "" {
		v.drawTextCentered(screen, dbg.Text, v.monoSource, 10, sx, textY, 0.9)
	}
}

func (v *Viewer) drawStaticMarker(screen *ebiten.Image, n *scene.Node, sx, sy float64) {
	vector.DrawFilledCircle(screen, float32(sx), float32(sy), 3.5, colorStatic, true)
	if n.Text != "" {
		v.drawTextCentered(screen, n.Text, v.fontSource, 11, sx, sy+6, 0.6)
	}
}

func (v *Viewer) drawTextCentered(screen *ebiten.Image, s string, src *text.GoTextFaceSource, size, cx, top float64, alpha float32) {
	if src == nil {
		return
	}
	face := &text.GoTextFace{Source: src, Size: size}
	w, _ := text.Measure(s, face, face.Size*1.2)
	op := &text.DrawOptions{}
	op.LineSpacing = face.Size * 1.2
	op.GeoM.Translate(cx-w/2, top)
	op.ColorScale.Scale(1, 1, 1, alpha)
	text.Draw(screen, s, face, op)
}

func (v *Viewer) drawLegend(screen *ebiten.Image) {
	margin, fontSize, swatch := 24.0, 14.0, 10.0
	items := []struct {
		Label string
		Color color.RGBA
	}{
		{"Live tracker", colorPin},
		{"Stale position", colorStalePin},
		{"Static marker", colorStatic},
	}

	ly := float64(v.Height) - margin - float64(len(items))*(fontSize+8) - fontSize - 10
	for i, it := range items {
		ty := ly + float64(i)*(fontSize+8)
		vector.DrawFilledCircle(screen, float32(margin+swatch/2), float32(ty+fontSize/2), float32(swatch/2), it.Color, true)
		face := &text.GoTextFace{Source: v.fontSource, Size: fontSize}
		op := &text.DrawOptions{}
		op.GeoM.Translate(margin+swatch+10, ty)
		op.ColorScale.Scale(1, 1, 1, 0.8)
		text.Draw(screen, it.Label, face, op)
	}

	hint := "drag: pan   wheel: zoom   R: reset   T: overlay   D: debug"
	face := &text.GoTextFace{Source: v.monoSource, Size: 12}
	op := &text.DrawOptions{}
	op.GeoM.Translate(margin, float64(v.Height)-margin-12)
	op.ColorScale.Scale(1, 1, 1, 0.55)
	text.Draw(screen, hint, face, op)
}

func (v *Viewer) Layout(w, h int) (int, int) { return v.Width, v.Height }

// avatarImage returns the cached avatar texture, kicking off a background
// download on first sight of a URL. Until it lands the caller falls back
// to nothing for a frame or two.
func (v *Viewer) avatarImage(url string) *ebiten.Image {
	if url == "" {
		return nil
	}
	if img, ok := v.avatars.Load(url); ok {
		if img == nil {
			return nil
		}
		return img.(*ebiten.Image)
	}
	if _, inflight := v.fetching.LoadOrStore(url, struct{}{}); inflight {
		return nil
	}
	go func() {
		img, err := utils.FetchAvatar(url, v.avatarDir)
		if err != nil {
			log.Printf("[viewer] Avatar fetch failed for %s: %v", url, err)
			v.avatars.Store(url, nil)
			return
		}
		v.avatars.Store(url, ebiten.NewImageFromImage(img))
	}()
	return nil
}

func sizePx(n *scene.Node, ppu, fallbackPx float64) float64 {
	if n == nil {
		return fallbackPx
	}
	world, err := strconv.ParseFloat(n.Attr(scene.AttrSize), 64)
	if err != nil || world <= 0 {
		return fallbackPx
	}
	return world * ppu
}

func scaleAlpha(c color.RGBA, a float32) color.RGBA {
	return color.RGBA{
		R: uint8(float32(c.R) * a),
		G: uint8(float32(c.G) * a),
		B: uint8(float32(c.B) * a),
		A: uint8(float32(c.A) * a),
	}
}
