package tracking

import (
	"testing"
	"time"
)

func jeremyState(attrs map[string]any) EntityState {
	return EntityState{EntityID: "device_tracker.phone_jeremy", Attributes: attrs}
}

func TestParseEntityStateAccept(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	upd, ok := ParseEntityState(jeremyState(map[string]any{
		"x": 2.75, "y": 1.93, "confidence": 74.0,
	}), 69, now)
	if !ok {
		t.Fatal("expected update to be accepted")
	}
	if upd.EntityID != "device_tracker.phone_jeremy" {
		t.Errorf("entity id = %q", upd.EntityID)
	}
	if upd.Position.X != 2.75 || upd.Position.Y != 1.93 {
		t.Errorf("position = %+v; want (2.75, 1.93)", upd.Position)
	}
	if upd.Confidence != 74 {
		t.Errorf("confidence = %v; want 74", upd.Confidence)
	}
	if !upd.ReceivedAt.Equal(now) {
		t.Errorf("receivedAt = %v; want %v", upd.ReceivedAt, now)
	}
}

func TestConfidenceGateIsStrict(t *testing.T) {
	attrs := func(conf float64) map[string]any {
		return map[string]any{"x": 1.0, "y": 2.0, "confidence": conf}
	}
	if _, ok := ParseEntityState(jeremyState(attrs(69)), 69, time.Now()); ok {
		t.Error("boundary-equal confidence must be rejected")
	}
	if _, ok := ParseEntityState(jeremyState(attrs(69.0001)), 69, time.Now()); !ok {
		t.Error("confidence just over the threshold must be accepted")
	}
}

func TestParseEntityStateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]any
	}{
		{"no attrs", nil},
		{"missing x", map[string]any{"y": 1.0, "confidence": 90.0}},
		{"missing y", map[string]any{"x": 1.0, "confidence": 90.0}},
		{"missing confidence", map[string]any{"x": 1.0, "y": 2.0}},
		{"non-numeric x", map[string]any{"x": "north", "y": 2.0, "confidence": 90.0}},
		{"nan y", map[string]any{"x": 1.0, "y": "NaN", "confidence": 90.0}},
	}
	for _, tt := range tests {
		if _, ok := ParseEntityState(jeremyState(tt.attrs), 69, time.Now()); ok {
			t.Errorf("%s: expected rejection", tt.name)
		}
	}
}

func TestNumericStringsWithSuffix(t *testing.T) {
	upd, ok := ParseEntityState(jeremyState(map[string]any{
		"x": "2.75m", "y": "-1.93", "z": "0.8m", "confidence": "74",
	}), 69, time.Now())
	if !ok {
		t.Fatal("expected lenient numeric parse to accept")
	}
	if upd.Position.X != 2.75 || upd.Position.Y != -1.93 {
		t.Errorf("position = %+v", upd.Position)
	}
	if upd.Position.Z == nil || *upd.Position.Z != 0.8 {
		t.Errorf("z = %v; want 0.8", upd.Position.Z)
	}
}

func TestGeoExtraction(t *testing.T) {
	// Direct fields win over nested bags.
	upd, ok := ParseEntityState(jeremyState(map[string]any{
		"x": 1.0, "y": 1.0, "confidence": 90.0,
		"lat": 55.67, "lon": 12.56, "alt": 14.0,
		"gps": map[string]any{"latitude": 1.0, "longitude": 1.0},
	}), 69, time.Now())
	if !ok || upd.Geo == nil {
		t.Fatal("expected geo fix")
	}
	if upd.Geo.Latitude != 55.67 || upd.Geo.Longitude != 12.56 {
		t.Errorf("geo = %+v", upd.Geo)
	}
	if upd.Geo.Elevation == nil || *upd.Geo.Elevation != 14 {
		t.Errorf("elevation = %v", upd.Geo.Elevation)
	}

	// Nested bag fallback.
	upd, _ = ParseEntityState(jeremyState(map[string]any{
		"x": 1.0, "y": 1.0, "confidence": 90.0,
		"coords": map[string]any{"lat": 55.0, "lng": 12.0},
	}), 69, time.Now())
	if upd.Geo == nil || upd.Geo.Latitude != 55 || upd.Geo.Longitude != 12 {
		t.Errorf("nested geo = %+v", upd.Geo)
	}

	// Latitude without longitude is not a fix.
	upd, _ = ParseEntityState(jeremyState(map[string]any{
		"x": 1.0, "y": 1.0, "confidence": 90.0, "lat": 55.0,
	}), 69, time.Now())
	if upd.Geo != nil {
		t.Errorf("half a fix should be nil, got %+v", upd.Geo)
	}
}

func TestLastSeenPassthrough(t *testing.T) {
	upd, _ := ParseEntityState(jeremyState(map[string]any{
		"x": 1.0, "y": 1.0, "confidence": 90.0, "last_seen": "2026-08-01T11:59:58Z",
	}), 69, time.Now())
	if upd.LastSeen != "2026-08-01T11:59:58Z" {
		t.Errorf("last_seen = %q", upd.LastSeen)
	}
}

func TestParseEventEnvelope(t *testing.T) {
	raw := []byte(`{
		"device_tracker.phone_jeremy": {"+": {"a": {"x": 2.75, "y": 1.93, "confidence": 74}}},
		"device_tracker.watch_dana":   {"attributes": {"x": 8.1, "y": 2.2, "confidence": 69}},
		"device_tracker.tag_keys":     {"state": "home"},
		"light.kitchen":               42
	}`)
	updates := ParseEventEnvelope(raw, 69, time.Now())
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].EntityID != "device_tracker.phone_jeremy" {
		t.Errorf("entity id = %q", updates[0].EntityID)
	}
}

func TestParseEventEnvelopeMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", `[1,2,3]`, `"str"`} {
		if got := ParseEventEnvelope([]byte(raw), 69, time.Now()); len(got) != 0 {
			t.Errorf("envelope %q: expected zero updates, got %d", raw, len(got))
		}
	}
}
