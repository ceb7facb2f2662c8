package tracking

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"unicode"
)

// Resolver derives the tracker allowlist from owner entity states and keeps
// the location store pruned to it. It also upserts display metadata for the
// trackers each owner claims.
//
// Resolver satisfies the tracker sink: updates for ids outside the current
// allowlist are dropped before they reach the store, so a disallowed
// tracker can never be momentarily rendered.
type Resolver struct {
	mu        sync.Mutex
	claims    map[string][]string // owner entity id -> claimed tracker ids
	allowed   map[string]struct{}
	locations *LocationStore
	metadata  *MetadataStore

	// Base URLs used only for avatar resolution. baseURL wins when set;
	// otherwise an http(s) base is derived from wsURL.
	baseURL string
	wsURL   string
}

func NewResolver(locations *LocationStore, metadata *MetadataStore, baseURL, wsURL string) *Resolver {
	return &Resolver{
		claims:    make(map[string][]string),
		allowed:   make(map[string]struct{}),
		locations: locations,
		metadata:  metadata,
		baseURL:   baseURL,
		wsURL:     wsURL,
	}
}

// HandleOwnerState ingests one owner entity state: it replaces that owner's
// claim set, recomputes the allowlist, prunes the location store and
// refreshes display metadata on the claimed trackers.
func (r *Resolver) HandleOwnerState(st EntityState) {
	if !strings.HasPrefix(st.EntityID, OwnerPrefix) {
		return
	}
	claimed := parseClaims(st.Attributes)

	r.mu.Lock()
	r.claims[st.EntityID] = claimed
	allowed := r.recomputeLocked()
	r.mu.Unlock()

	// Prune with r.mu released: the store's change callbacks may read the
	// allowlist.
	r.locations.Prune(allowed)

	r.upsertOwnerMetadata(st, claimed)
}

// parseClaims reads the claimed-trackers attribute. A missing, wrong-typed
// or malformed attribute is an empty claim set, which prunes rather than
// being ignored.
func parseClaims(attrs map[string]any) []string {
	if attrs == nil {
		return nil
	}
	list, ok := attrs["device_trackers"].([]any)
	if !ok {
		return nil
	}
	var claimed []string
	for _, v := range list {
		id, ok := v.(string)
		if !ok || !strings.HasPrefix(id, TrackerPrefix) {
			// One bad entry invalidates the whole claim set.
			return nil
		}
		claimed = append(claimed, id)
	}
	return claimed
}

// recomputeLocked rebuilds the allowlist from all owners' claims and
// expands it across trackers sharing a device identifier. It returns the
// new set so the caller can prune the location store after unlocking.
// Callers hold r.mu.
func (r *Resolver) recomputeLocked() map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, claimed := range r.claims {
		for _, id := range claimed {
			allowed[id] = struct{}{}
		}
	}

	// Expand: any other tracker entity resolving to the same device id is
	// the same physical device under a duplicate/renamed entity.
	meta := r.metadata.Snapshot()
	devices := make(map[string]struct{})
	for id := range allowed {
		if m, ok := meta[id]; ok && m.DeviceID != "" {
			devices[m.DeviceID] = struct{}{}
		}
	}
	for id, m := range meta {
		if m.DeviceID == "" {
			continue
		}
		if _, ok := devices[m.DeviceID]; ok {
			allowed[id] = struct{}{}
		}
	}

	r.allowed = allowed
	return allowed
}

func (r *Resolver) upsertOwnerMetadata(st EntityState, claimed []string) {
	name, _ := st.Attributes["friendly_name"].(string)
	if name == "" {
		return
	}
	picture, _ := st.Attributes["entity_picture"].(string)
	meta := TrackerMetadata{
		Name:      name,
		AvatarURL: r.ResolveAvatarURL(picture),
		Initials:  Initials(name),
	}
	for _, id := range claimed {
		r.metadata.Upsert(id, meta)
	}
}

// Allowed returns a copy of the current allowlist.
func (r *Resolver) Allowed() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{}, len(r.allowed))
	for id := range r.allowed {
		out[id] = struct{}{}
	}
	return out
}

// IsAllowed reports whether one tracker id may render.
func (r *Resolver) IsAllowed(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.allowed[entityID]
	return ok
}

// Upsert is the tracker sink: accepted updates reach the location store
// only while their entity id is allowed.
func (r *Resolver) Upsert(entityID string, loc DeviceLocation) {
	if !r.IsAllowed(entityID) {
		return
	}
	r.locations.Upsert(entityID, loc)
}

// Remove drops a tracker that reported itself away.
func (r *Resolver) Remove(entityID string) {
	r.locations.Remove(entityID)
}

// Seed fetches one snapshot of all entities before live subscription:
// owner states establish the initial allowlist, tracker states contribute
// device ids and initial locations. Trackers whose last known state is
// away-equivalent are pruned instead of seeded.
func (r *Resolver) Seed(ctx context.Context, src EntitySource, minConfidence float64) error {
	states, err := src.FetchSnapshot(ctx)
	if err != nil {
		return err
	}

	// Device ids first, so the first allowlist recomputation can already
	// expand across duplicate tracker entities.
	for _, st := range states {
		if !strings.HasPrefix(st.EntityID, TrackerPrefix) {
			continue
		}
		if dev := deviceIDAttr(st.Attributes); dev != "" {
			r.metadata.Upsert(st.EntityID, TrackerMetadata{DeviceID: dev})
		}
	}
	for _, st := range states {
		if strings.HasPrefix(st.EntityID, OwnerPrefix) {
			r.HandleOwnerState(st)
		}
	}
	for _, st := range states {
		if !strings.HasPrefix(st.EntityID, TrackerPrefix) {
			continue
		}
		if st.State == StateAway {
			r.locations.Remove(st.EntityID)
			continue
		}
		if !r.IsAllowed(st.EntityID) {
			continue
		}
		if upd, ok := ParseEntityState(st, minConfidence, st.LastUpdated); ok {
			r.locations.Upsert(st.EntityID, locationFromUpdate(upd))
		}
	}
	return nil
}

func deviceIDAttr(attrs map[string]any) string {
	if attrs == nil {
		return ""
	}
	if dev, ok := attrs["device_id"].(string); ok && dev != "" {
		return dev
	}
	if mac, ok := attrs["mac"].(string); ok && mac != "" {
		return mac
	}
	return ""
}

// ResolveAvatarURL resolves an entity picture reference to something
// fetchable. Absolute http(s), data: and blob: URLs pass through;
// root-relative paths resolve against the configured base URL, falling back
// to a base derived from the websocket URL (ws->http, wss->https, path and
// query cleared). Any other base scheme leaves the input unchanged.
func (r *Resolver) ResolveAvatarURL(raw string) string {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return raw
	}
	if !strings.HasPrefix(raw, "/") {
		return raw
	}

	base := r.baseURL
	if base == "" {
		base = httpBaseFromWS(r.wsURL)
	}
	if base == "" {
		return raw
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}
	u.Path = raw
	u.RawQuery = ""
	return u.String()
}

func httpBaseFromWS(wsURL string) string {
	if wsURL == "" {
		return ""
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return ""
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Initials derives up to two uppercase letters from a display name: the
// first letter of the first and last whitespace-separated tokens.
func Initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	out := []rune{unicode.ToUpper(firstRune(fields[0]))}
	if len(fields) > 1 {
		out = append(out, unicode.ToUpper(firstRune(fields[len(fields)-1])))
	}
	return string(out)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
