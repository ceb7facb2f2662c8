package scene

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sudorandom/floortrack/pkg/tracking"
	"github.com/sudorandom/floortrack/pkg/transform"
)

const (
	markerBound   = "bound"
	markerCreated = "created"

	// Class tokens the renderer styles on.
	ClassMarker = "marker"
	ClassStale  = "stale"

	// On-screen pixel sizes; divided by pixels-per-world-unit so markers
	// keep a constant apparent size across zoom levels.
	pinSizePx      = 14.0
	labelSizePx    = 12.0
	avatarSizePx   = 22.0
	initialsSizePx = 11.0

	// Debug overlay modes.
	DebugOff = ""
	DebugXYZ = "xyz"
	DebugGeo = "geo"
)

// Config carries the externally supplied reconciliation settings.
type Config struct {
	StaleWarning time.Duration
	StaleTimeout time.Duration
	// ConfidenceDisplay shows a percentage under markers whose confidence
	// falls below it; zero disables the display.
	ConfidenceDisplay float64
	// DebugOverlay renders raw diagnostics under every marker: DebugXYZ,
	// DebugGeo or DebugOff.
	DebugOverlay string
}

type capturedTransform struct {
	transform string
	had       bool
}

// Engine synchronizes tracking marker nodes against the location store,
// metadata store and allowlist. A pass is idempotent: running it twice with
// unchanged inputs leaves the scene graph unchanged. The engine re-runs
// whenever its inputs change, whenever the container generation moves
// (external code repopulated the scene), and when a staleness boundary is
// crossed via a single precomputed wake-up timer.
type Engine struct {
	container *Container
	locations *tracking.LocationStore
	metadata  *tracking.MetadataStore
	allowed   func() map[string]struct{}

	flip          func(float64) float64
	pixelsPerUnit func() float64
	now           func() time.Time

	mu       sync.Mutex
	cfg      Config
	enabled  bool
	dirty    bool
	synced   bool
	stopped  bool
	timer    *time.Timer
	captured map[string]capturedTransform

	lastLocVer  uint64
	lastMetaVer uint64
	lastGen     uint64
}

// NewEngine wires the reconciliation engine. base is the floor's stable
// viewbox used for axis-flip math; ppu reports the current
// pixels-per-world-unit of the viewport.
func NewEngine(container *Container, locations *tracking.LocationStore, metadata *tracking.MetadataStore,
	allowed func() map[string]struct{}, base transform.ViewBox, ppu func() float64, cfg Config) *Engine {

	if cfg.StaleWarning <= 0 {
		cfg.StaleWarning = DefaultStaleWarning
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	e := &Engine{
		container:     container,
		locations:     locations,
		metadata:      metadata,
		allowed:       allowed,
		flip:          transform.FlipY(base),
		pixelsPerUnit: ppu,
		now:           time.Now,
		cfg:           cfg,
		enabled:       true,
		captured:      make(map[string]capturedTransform),
	}
	locations.OnChange(e.markDirty)
	metadata.OnChange(e.markDirty)
	return e
}

func (e *Engine) markDirty() {
	e.mu.Lock()
	if !e.stopped {
		e.dirty = true
	}
	e.mu.Unlock()
}

// SetEnabled toggles the whole overlay; disabling releases every marker on
// the next pass.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	if e.enabled != enabled {
		e.enabled = enabled
		e.dirty = true
	}
	e.mu.Unlock()
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetDebugOverlay switches the diagnostic decoration mode at runtime.
func (e *Engine) SetDebugOverlay(mode string) {
	e.mu.Lock()
	if e.cfg.DebugOverlay != mode {
		e.cfg.DebugOverlay = mode
		e.dirty = true
	}
	e.mu.Unlock()
}

func (e *Engine) DebugOverlay() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.DebugOverlay
}

// SyncIfNeeded runs a pass when any input moved since the last one: store
// versions, container generation, the enabled/debug flags or a fired
// staleness timer. Called once per tick by the viewer.
func (e *Engine) SyncIfNeeded() bool {
	e.mu.Lock()
	need := !e.stopped && (e.dirty || !e.synced ||
		e.lastGen != e.container.Generation() ||
		e.lastLocVer != e.locations.Version() ||
		e.lastMetaVer != e.metadata.Version())
	e.mu.Unlock()
	if need {
		e.Sync()
	}
	return need
}

// Stop cancels the staleness timer and detaches the engine from further
// change notifications. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.dirty = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()
}

// Sync runs one full synchronization pass.
func (e *Engine) Sync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	root := e.container.Root()
	if root == nil {
		return
	}

	now := e.now()
	locVer := e.locations.Version()
	metaVer := e.metadata.Version()

	relevant := e.relevantLocked()
	desired := make(map[string]tracking.DeviceLocation)
	if e.enabled {
		desired = FilterFresh(relevant, now, e.cfg.StaleTimeout)
	}
	meta := e.metadata.Snapshot()

	// 1. Enumerate tracking-owned nodes.
	tracked := make(map[string]*Node)
	var owned []*Node
	root.Walk(func(n *Node) {
		if n.Attr(AttrTracking) != "" && n.Attr(AttrEntity) != "" {
			tracked[n.Attr(AttrEntity)] = n
			owned = append(owned, n)
		}
	})

	// 2. Release nodes no longer desired (or everything when disabled).
	for _, n := range owned {
		id := n.Attr(AttrEntity)
		if _, want := desired[id]; want {
			continue
		}
		e.releaseMarkerLocked(n)
		delete(tracked, id)
	}

	for id, loc := range desired {
		// 3. Never render a marker at an invalid position.
		if !finiteCoord(loc.Position.X) || !finiteCoord(loc.Position.Y) {
			continue
		}
		n := tracked[id]
		if n == nil {
			// 4. Bind a pre-authored static marker when one matches, else
			// create a node from scratch.
			if static := findStaticMarker(root, id); static != nil {
				n = static
				tr, had := n.Transform()
				e.captured[id] = capturedTransform{transform: tr, had: had}
				n.SetAttr(AttrTracking, markerBound)
				n.SetAttr(AttrEntity, id)
			} else {
				n = newMarkerNode(id)
				root.AppendChild(n)
			}
		}
		// 5-7. Apply display state.
		e.applyMarkerStateLocked(n, loc, meta[id], now)
	}

	e.lastLocVer = locVer
	e.lastMetaVer = metaVer
	e.lastGen = e.container.Generation()
	e.dirty = false
	e.synced = true

	e.armTimerLocked(relevant, now)
}

// relevantLocked is the allowlisted slice of the location store, before
// staleness filtering; expiry of unallowed entries never matters.
func (e *Engine) relevantLocked() map[string]tracking.DeviceLocation {
	locs := e.locations.Snapshot()
	allowed := e.allowed()
	for id := range locs {
		if _, ok := allowed[id]; !ok {
			delete(locs, id)
		}
	}
	return locs
}

// armTimerLocked schedules exactly one wake-up at the next staleness
// boundary; nothing pending means no timer.
func (e *Engine) armTimerLocked(locs map[string]tracking.DeviceLocation, now time.Time) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if !e.enabled {
		return
	}
	delay, ok := NextTransition(locs, now, e.cfg.StaleWarning, e.cfg.StaleTimeout)
	if !ok {
		return
	}
	e.timer = time.AfterFunc(delay, e.markDirty)
}

// releaseMarkerLocked reverts one tracking-owned node: decorations removed,
// bound nodes restored to their captured transform and stripped of tags,
// created nodes deleted outright.
func (e *Engine) releaseMarkerLocked(n *Node) {
	id := n.Attr(AttrEntity)
	switch n.Attr(AttrTracking) {
	case markerBound:
		n.RemoveChildrenWhere(func(c *Node) bool { return c.Attr(AttrDecoration) == "true" })
		n.RemoveClass(ClassStale)
		if orig, ok := e.captured[id]; ok && orig.had {
			n.SetTransform(orig.transform)
		} else {
			n.ClearTransform()
		}
		n.DelAttr(AttrTracking)
		n.DelAttr(AttrEntity)
	case markerCreated:
		n.Remove()
	}
	delete(e.captured, id)
}

// findStaticMarker locates an authored node whose device attribute matches
// the entity id exactly, then by the shortened object id.
func findStaticMarker(root *Node, entityID string) *Node {
	var exact, short *Node
	objectID := tracking.ObjectID(entityID)
	root.Walk(func(n *Node) {
		if n.Attr(AttrTracking) != "" {
			return
		}
		switch n.Attr(AttrDevice) {
		case entityID:
			if exact == nil {
				exact = n
			}
		case objectID:
			if short == nil {
				short = n
			}
		}
	})
	if exact != nil {
		return exact
	}
	return short
}

func newMarkerNode(entityID string) *Node {
	n := NewNode(KindMarker)
	n.SetAttr(AttrTracking, markerCreated)
	n.SetAttr(AttrEntity, entityID)
	n.SetAttr(AttrClass, ClassMarker)
	pin := NewNode(KindPin)
	pin.SetAttr(AttrDecoration, "true")
	n.AppendChild(pin)
	label := NewNode(KindLabel)
	label.SetAttr(AttrDecoration, "true")
	n.AppendChild(label)
	return n
}

func (e *Engine) applyMarkerStateLocked(n *Node, loc tracking.DeviceLocation, meta tracking.TrackerMetadata, now time.Time) {
	entityID := n.Attr(AttrEntity)

	// Label fallback chain: name, alias, derived object id.
	label := meta.Name
	if label == "" {
		label = meta.Alias
	}
	if label == "" {
		label = tracking.ObjectID(entityID)
	}

	ppu := e.pixelsPerUnit()
	if ppu <= 0 || math.IsNaN(ppu) || math.IsInf(ppu, 0) {
		ppu = 1
	}

	pin := ensureDecoration(n, KindPin)
	pin.SetAttr(AttrSize, formatCoord(pinSizePx/ppu))

	lbl := ensureDecoration(n, KindLabel)
	lbl.Text = label
	lbl.SetAttr(AttrSize, formatCoord(labelSizePx/ppu))

	// Avatar when a URL is known, initials otherwise. Explicit metadata
	// initials win over initials derived from the display label.
	avatar := ensureDecoration(n, KindAvatar)
	initials := ensureDecoration(n, KindInitials)
	if meta.AvatarURL != "" {
		avatar.SetAttr(AttrHref, meta.AvatarURL)
		avatar.SetAttr(AttrSize, formatCoord(avatarSizePx/ppu))
		avatar.DelAttr(AttrHidden)
		initials.SetAttr(AttrHidden, "true")
	} else {
		avatar.SetAttr(AttrHidden, "true")
		ini := meta.Initials
		if ini == "" {
			ini = tracking.Initials(label)
		}
		initials.Text = ini
		initials.SetAttr(AttrSize, formatCoord(initialsSizePx/ppu))
		initials.DelAttr(AttrHidden)
	}

	n.SetTransform(FormatTranslate(loc.Position.X, e.flip(loc.Position.Y)))

	// Stale styling and status text.
	age := now.Sub(loc.ReceivedAt)
	stale := age >= e.cfg.StaleWarning
	if stale {
		n.AddClass(ClassStale)
	} else {
		n.RemoveClass(ClassStale)
	}
	status := ensureDecoration(n, KindStatus)
	status.Text = e.statusTextLocked(loc, age, stale)

	if e.cfg.DebugOverlay != DebugOff {
		debug := ensureDecoration(n, KindDebug)
		debug.Text = debugText(loc, e.cfg.DebugOverlay)
	} else {
		n.RemoveChildrenWhere(func(c *Node) bool { return c.Kind == KindDebug })
	}
}

func (e *Engine) statusTextLocked(loc tracking.DeviceLocation, age time.Duration, stale bool) string {
	if stale {
		if mins := int(age.Minutes()); mins > 0 {
			return fmt.Sprintf("> %d minutes", mins)
		}
	}
	if e.cfg.ConfidenceDisplay > 0 && loc.Confidence < e.cfg.ConfidenceDisplay {
		return fmt.Sprintf("%.0f%%", math.Round(loc.Confidence))
	}
	return ""
}

func debugText(loc tracking.DeviceLocation, mode string) string {
	var lines []string
	switch mode {
	case DebugGeo:
		if loc.Geo != nil {
			line := fmt.Sprintf("lat=%.5f lon=%.5f", loc.Geo.Latitude, loc.Geo.Longitude)
			if loc.Geo.Elevation != nil {
				line += fmt.Sprintf(" ele=%.1f", *loc.Geo.Elevation)
			}
			lines = append(lines, line)
		} else {
			lines = append(lines, "no geo fix")
		}
	default:
		line := fmt.Sprintf("x=%.2f y=%.2f", loc.Position.X, loc.Position.Y)
		if loc.Position.Z != nil {
			line += fmt.Sprintf(" z=%.2f", *loc.Position.Z)
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("conf=%.0f", loc.Confidence))
	if loc.LastSeen != "" {
		lines = append(lines, "seen="+loc.LastSeen)
	}
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}

func ensureDecoration(n *Node, kind string) *Node {
	for _, c := range n.Children {
		if c.Kind == kind && c.Attr(AttrDecoration) == "true" {
			return c
		}
	}
	c := NewNode(kind)
	c.SetAttr(AttrDecoration, "true")
	n.AppendChild(c)
	return c
}

func finiteCoord(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
