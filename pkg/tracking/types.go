// Package tracking turns raw entity-state events into a live, allowlisted
// set of device locations. It owns the ingestion pipeline, the owner-claim
// allowlist resolver, the shared location/metadata stores and the
// subscription lifecycle around them.
package tracking

import (
	"context"
	"time"
)

const (
	// TrackerPrefix is the entity-id domain of location-reporting entities.
	TrackerPrefix = "device_tracker."
	// OwnerPrefix is the entity-id domain of owner entities that claim trackers.
	OwnerPrefix = "person."

	// StateAway marks a tracker as out of the home; away trackers are pruned
	// rather than seeded at startup.
	StateAway = "not_home"
)

// EntityState is one raw record from the entity-state source.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Subscription is a live feed handle. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}

// EntitySource is the boundary to the smart-home backend.
type EntitySource interface {
	FetchSnapshot(ctx context.Context) ([]EntityState, error)
	Subscribe(ctx context.Context, handler func(EntityState)) (Subscription, error)
}

// Position is a world-space fix; Z is optional.
type Position struct {
	X, Y float64
	Z    *float64
}

// GeoFix is an optional geographic position extracted alongside the
// world-space one.
type GeoFix struct {
	Latitude  float64
	Longitude float64
	Elevation *float64
}

// LocationUpdate is produced per accepted event and immediately folded into
// the location store; it is never persisted as-is.
type LocationUpdate struct {
	EntityID   string
	Position   Position
	Geo        *GeoFix
	Confidence float64
	LastSeen   string
	ReceivedAt time.Time
}

// DeviceLocation is the stored, latest-wins record for one tracked entity.
type DeviceLocation struct {
	Position   Position
	Geo        *GeoFix
	Confidence float64
	LastSeen   string
	ReceivedAt time.Time
}

// TrackerMetadata is display metadata for one tracker entity. Upserts are
// field-level: an empty field never erases a known value.
type TrackerMetadata struct {
	DeviceID  string `json:"device_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Alias     string `json:"alias,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Initials  string `json:"initials,omitempty"`
}

// ObjectID strips the domain prefix from an entity id:
// "device_tracker.phone_jeremy" -> "phone_jeremy".
func ObjectID(entityID string) string {
	for i := 0; i < len(entityID); i++ {
		if entityID[i] == '.' {
			return entityID[i+1:]
		}
	}
	return entityID
}

func locationFromUpdate(u LocationUpdate) DeviceLocation {
	return DeviceLocation{
		Position:   u.Position,
		Geo:        u.Geo,
		Confidence: u.Confidence,
		LastSeen:   u.LastSeen,
		ReceivedAt: u.ReceivedAt,
	}
}
