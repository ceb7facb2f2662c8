package floorplan

import (
	"testing"

	"github.com/sudorandom/floortrack/pkg/transform"
)

func TestDefaultFloorplan(t *testing.T) {
	f := Default()
	if len(f.Rooms) != 5 {
		t.Fatalf("expected 5 rooms, got %d", len(f.Rooms))
	}
	if f.Name != "ground" {
		t.Errorf("floor name = %q; want %q", f.Name, "ground")
	}
	if f.Bounds == nil {
		t.Fatal("expected explicit bounds from bbox")
	}
	if f.Bounds.W != 14.5 || f.Bounds.H != 9.5 {
		t.Errorf("bounds = %+v; want 14.5x9.5", f.Bounds)
	}
	if f.InitialView == nil || f.InitialView.Scale != 1.0 {
		t.Errorf("initial view = %+v; want scale 1.0", f.InitialView)
	}
	if len(f.Markers) != 1 || f.Markers[0].Device != "phone_jeremy" {
		t.Errorf("markers = %+v; want one for phone_jeremy", f.Markers)
	}

	base := f.BaseViewBox()
	want := transform.ViewBox{X: -1.25, Y: -1.25, W: 17, H: 12}
	if base != want {
		t.Errorf("BaseViewBox = %+v; want %+v", base, want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("{not geojson")); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestParseBoundsFallback(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"den"},
		 "geometry":{"type":"Polygon","coordinates":[[[1,1],[3,1],[3,4],[1,4],[1,1]]]}}]}`)
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Bounds != nil {
		t.Error("expected nil bounds without bbox")
	}
	base := f.BaseViewBox()
	want := transform.ViewBox{X: -0.25, Y: -0.25, W: 4.5, H: 5.5}
	if base != want {
		t.Errorf("BaseViewBox = %+v; want %+v", base, want)
	}
}
