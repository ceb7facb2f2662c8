// Package floorplan loads the static floor layout: room outlines, optional
// explicit bounds, an optional initial view and any statically authored
// device markers. Floors are GeoJSON feature collections; each Polygon
// feature is a room, Point features carry a "role" property.
package floorplan

import (
	_ "embed"
	"fmt"
	"os"

	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/floortrack/pkg/transform"
)

//go:embed data/floorplan.geo.json
var defaultFloorplan []byte

// Room is a closed outline of world-space points.
type Room struct {
	Name   string
	Points [][2]float64
}

// StaticMarker is a pre-authored marker pinned to a device id. The tracking
// layer may bind to it and must later return it unchanged.
type StaticMarker struct {
	Device string
	Label  string
	X, Y   float64
}

// Floor is one floor of the home.
type Floor struct {
	Name        string
	Bounds      *transform.ViewBox
	InitialView *transform.StageView
	Rooms       []Room
	Markers     []StaticMarker
}

// BaseViewBox computes the stable padded bounding box for the floor.
func (f *Floor) BaseViewBox() transform.ViewBox {
	lists := make([][][2]float64, 0, len(f.Rooms))
	for _, r := range f.Rooms {
		lists = append(lists, r.Points)
	}
	return transform.ComputeBaseViewBox(f.Bounds, lists)
}

// Default returns the embedded sample floor.
func Default() *Floor {
	f, err := Parse(defaultFloorplan)
	if err != nil {
		// The embedded plan is validated by tests; a parse failure here is
		// a build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded floorplan: %v", err))
	}
	return f
}

// Load reads a floor from a GeoJSON file.
func Load(path string) (*Floor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a GeoJSON feature collection into a Floor.
func Parse(data []byte) (*Floor, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse floorplan: %w", err)
	}

	floor := &Floor{Name: "floor"}
	if len(fc.BoundingBox) >= 4 {
		floor.Bounds = &transform.ViewBox{
			X: fc.BoundingBox[0],
			Y: fc.BoundingBox[1],
			W: fc.BoundingBox[2] - fc.BoundingBox[0],
			H: fc.BoundingBox[3] - fc.BoundingBox[1],
		}
	}

	for _, feat := range fc.Features {
		if feat.Geometry == nil {
			continue
		}
		switch {
		case feat.Geometry.IsPolygon():
			if len(feat.Geometry.Polygon) == 0 {
				continue
			}
			room := Room{Name: stringProp(feat, "name")}
			for _, p := range feat.Geometry.Polygon[0] {
				if len(p) < 2 {
					continue
				}
				room.Points = append(room.Points, [2]float64{p[0], p[1]})
			}
			floor.Rooms = append(floor.Rooms, room)
		case feat.Geometry.IsPoint():
			if len(feat.Geometry.Point) < 2 {
				continue
			}
			x, y := feat.Geometry.Point[0], feat.Geometry.Point[1]
			switch stringProp(feat, "role") {
			case "view":
				scale := 1.0
				if s, err := feat.PropertyFloat64("scale"); err == nil {
					scale = s
				}
				floor.InitialView = &transform.StageView{X: x, Y: y, Scale: scale}
			case "marker":
				floor.Markers = append(floor.Markers, StaticMarker{
					Device: stringProp(feat, "device"),
					Label:  stringProp(feat, "label"),
					X:      x,
					Y:      y,
				})
			}
		}
	}

	if name := stringPropOf(fc.Features, "floor"); name != "" {
		floor.Name = name
	}
	return floor, nil
}

func stringProp(f *geojson.Feature, key string) string {
	s, err := f.PropertyString(key)
	if err != nil {
		return ""
	}
	return s
}

// stringPropOf finds the first feature carrying the given property.
func stringPropOf(features []*geojson.Feature, key string) string {
	for _, f := range features {
		if s := stringProp(f, key); s != "" {
			return s
		}
	}
	return ""
}
