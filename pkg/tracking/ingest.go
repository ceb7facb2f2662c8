package tracking

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// DefaultMinConfidence gates incoming fixes unless configured otherwise.
const DefaultMinConfidence = 69.0

var (
	latKeys = []string{"latitude", "lat"}
	lonKeys = []string{"longitude", "lon", "lng", "long"}
	eleKeys = []string{"elevation", "ele", "alt", "altitude", "height"}

	// Nested attribute bags searched for a geographic fix, in order, after
	// the top-level bag.
	geoBags = []string{"gps", "geo", "location", "coords", "coordinates"}
)

// ParseEntityState extracts zero or one LocationUpdate from a raw entity
// state. x, y and confidence are required and must be finite; the update is
// rejected unless confidence is strictly greater than minConfidence.
// Malformed attributes never produce an error, only a rejected record.
func ParseEntityState(st EntityState, minConfidence float64, receivedAt time.Time) (LocationUpdate, bool) {
	if st.EntityID == "" || st.Attributes == nil {
		return LocationUpdate{}, false
	}
	x, okX := numericAttr(st.Attributes, "x")
	y, okY := numericAttr(st.Attributes, "y")
	conf, okC := numericAttr(st.Attributes, "confidence")
	if !okX || !okY || !okC {
		return LocationUpdate{}, false
	}
	if conf <= minConfidence {
		return LocationUpdate{}, false
	}

	pos := Position{X: x, Y: y}
	if z, ok := numericAttr(st.Attributes, "z"); ok {
		pos.Z = &z
	}

	upd := LocationUpdate{
		EntityID:   st.EntityID,
		Position:   pos,
		Geo:        extractGeoFix(st.Attributes),
		Confidence: conf,
		ReceivedAt: receivedAt,
	}
	if upd.ReceivedAt.IsZero() {
		upd.ReceivedAt = time.Now()
	}
	if ls, ok := st.Attributes["last_seen"].(string); ok && ls != "" {
		upd.LastSeen = ls
	}
	return upd, true
}

// ParseEventEnvelope decodes a raw JSON event envelope of the form
// {entityID: {..., "attributes"|"+": {"a": {...}}}} and runs every entry
// through the same extraction and confidence gate. Malformed JSON or an
// unexpected shape yields zero updates.
func ParseEventEnvelope(raw []byte, minConfidence float64, receivedAt time.Time) []LocationUpdate {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	var updates []LocationUpdate
	for entityID, entry := range envelope {
		var body map[string]any
		if err := json.Unmarshal(entry, &body); err != nil {
			continue
		}
		attrs := envelopeAttributes(body)
		if attrs == nil {
			continue
		}
		st := EntityState{EntityID: entityID, Attributes: attrs}
		if upd, ok := ParseEntityState(st, minConfidence, receivedAt); ok {
			updates = append(updates, upd)
		}
	}
	return updates
}

// envelopeAttributes finds the added/changed attribute bag of one envelope
// entry: a plain "attributes" object, or the compressed "+"/"a" form.
func envelopeAttributes(body map[string]any) map[string]any {
	if attrs, ok := body["attributes"].(map[string]any); ok {
		return attrs
	}
	if plus, ok := body["+"].(map[string]any); ok {
		if attrs, ok := plus["a"].(map[string]any); ok {
			return attrs
		}
	}
	return nil
}

func extractGeoFix(attrs map[string]any) *GeoFix {
	if fix := geoFixFromBag(attrs); fix != nil {
		return fix
	}
	for _, key := range geoBags {
		if nested, ok := attrs[key].(map[string]any); ok {
			if fix := geoFixFromBag(nested); fix != nil {
				return fix
			}
		}
	}
	return nil
}

func geoFixFromBag(bag map[string]any) *GeoFix {
	lat, okLat := firstNumeric(bag, latKeys)
	lon, okLon := firstNumeric(bag, lonKeys)
	if !okLat || !okLon {
		return nil
	}
	fix := &GeoFix{Latitude: lat, Longitude: lon}
	if ele, ok := firstNumeric(bag, eleKeys); ok {
		fix.Elevation = &ele
	}
	return fix
}

func firstNumeric(bag map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := numericAttr(bag, k); ok {
			return v, true
		}
	}
	return 0, false
}

func numericAttr(bag map[string]any, key string) (float64, bool) {
	v, ok := bag[key]
	if !ok {
		return 0, false
	}
	return toFinite(v)
}

// toFinite accepts numbers and numeric strings, tolerating trailing
// non-numeric suffixes like "2.75m".
func toFinite(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return lenientParse(n.String())
		}
		return finite(f)
	case string:
		return lenientParse(n)
	default:
		return 0, false
	}
}

func lenientParse(s string) (float64, bool) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return finite(f)
	}
	if prefix := numericPrefix(s); prefix != "" {
		if f, err := strconv.ParseFloat(prefix, 64); err == nil {
			return finite(f)
		}
	}
	return 0, false
}

// numericPrefix returns the longest leading run of s that looks like a
// decimal float, so "1.93m" parses as 1.93.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	dot := false
	start := i
	for i < len(s) {
		c := s[i]
		if c >= '0' && c <= '9' {
			i++
			continue
		}
		if c == '.' && !dot {
			dot = true
			i++
			continue
		}
		break
	}
	if i == start {
		return ""
	}
	return s[:i]
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
