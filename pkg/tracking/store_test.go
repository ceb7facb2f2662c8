package tracking

import (
	"testing"
	"time"
)

func TestLocationStoreLatestWins(t *testing.T) {
	s := NewLocationStore()
	s.Upsert("device_tracker.phone_jeremy", DeviceLocation{Position: Position{X: 1, Y: 1}})
	s.Upsert("device_tracker.phone_jeremy", DeviceLocation{Position: Position{X: 9, Y: 3}})
	loc, ok := s.Get("device_tracker.phone_jeremy")
	if !ok || loc.Position.X != 9 || loc.Position.Y != 3 {
		t.Errorf("got %+v; want latest position (9, 3)", loc)
	}
	if len(s.Snapshot()) != 1 {
		t.Error("upsert must overwrite, not duplicate")
	}
}

func TestLocationStoreVersionAndNotify(t *testing.T) {
	s := NewLocationStore()
	fired := 0
	s.OnChange(func() { fired++ })

	v0 := s.Version()
	s.Upsert("a", DeviceLocation{ReceivedAt: time.Now()})
	if s.Version() == v0 {
		t.Error("version must advance on upsert")
	}
	s.Remove("a")
	s.Remove("a") // second remove is a no-op
	if fired != 2 {
		t.Errorf("expected 2 notifications, got %d", fired)
	}
}

func TestLocationStorePrune(t *testing.T) {
	s := NewLocationStore()
	s.Upsert("a", DeviceLocation{})
	s.Upsert("b", DeviceLocation{})
	s.Prune(map[string]struct{}{"b": {}})
	if _, ok := s.Get("a"); ok {
		t.Error("a should be pruned")
	}
	if _, ok := s.Get("b"); !ok {
		t.Error("b should survive")
	}
}

func TestMetadataFieldLevelUpsert(t *testing.T) {
	s := NewMetadataStore()
	s.Upsert("id", TrackerMetadata{Name: "Jeremy", AvatarURL: "https://x/a.png"})
	// A partial update with unset fields must not erase known values.
	s.Upsert("id", TrackerMetadata{Alias: "phone:jeremy"})
	m, _ := s.Get("id")
	if m.Name != "Jeremy" || m.AvatarURL != "https://x/a.png" || m.Alias != "phone:jeremy" {
		t.Errorf("merged metadata = %+v", m)
	}
	// Explicit values do overwrite.
	s.Upsert("id", TrackerMetadata{Name: "Jeremy H"})
	m, _ = s.Get("id")
	if m.Name != "Jeremy H" {
		t.Errorf("name = %q; want overwrite", m.Name)
	}
}
