package tracking

import "sync"

// LocationStore is the shared keyed store of latest device locations.
// Writes are whole-record, latest-wins; subscribers are notified after
// every mutation so a render pass can re-synchronize.
type LocationStore struct {
	mu      sync.Mutex
	items   map[string]DeviceLocation
	version uint64
	subs    []func()
}

func NewLocationStore() *LocationStore {
	return &LocationStore{items: make(map[string]DeviceLocation)}
}

// OnChange registers a change notification callback. Callbacks run outside
// the store lock and must be cheap; heavy work belongs in the sync pass.
func (s *LocationStore) OnChange(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *LocationStore) Upsert(entityID string, loc DeviceLocation) {
	s.mu.Lock()
	s.items[entityID] = loc
	s.version++
	subs := s.subs
	s.mu.Unlock()
	notify(subs)
}

func (s *LocationStore) Remove(entityID string) {
	s.mu.Lock()
	if _, ok := s.items[entityID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.items, entityID)
	s.version++
	subs := s.subs
	s.mu.Unlock()
	notify(subs)
}

// Prune removes every entry whose id is not in allowed.
func (s *LocationStore) Prune(allowed map[string]struct{}) {
	s.mu.Lock()
	changed := false
	for id := range s.items {
		if _, ok := allowed[id]; !ok {
			delete(s.items, id)
			changed = true
		}
	}
	var subs []func()
	if changed {
		s.version++
		subs = s.subs
	}
	s.mu.Unlock()
	notify(subs)
}

func (s *LocationStore) Get(entityID string) (DeviceLocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.items[entityID]
	return loc, ok
}

// Snapshot returns a copy; callers may mutate it freely.
func (s *LocationStore) Snapshot() map[string]DeviceLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DeviceLocation, len(s.items))
	for id, loc := range s.items {
		out[id] = loc
	}
	return out
}

func (s *LocationStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MetadataStore is the shared keyed store of tracker display metadata.
// Upserts are field-level: only explicitly set fields overwrite.
type MetadataStore struct {
	mu      sync.Mutex
	items   map[string]TrackerMetadata
	version uint64
	subs    []func()
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{items: make(map[string]TrackerMetadata)}
}

func (s *MetadataStore) OnChange(fn func()) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Upsert merges the set fields of meta into the stored record. Empty fields
// in meta never erase previously known values.
func (s *MetadataStore) Upsert(entityID string, meta TrackerMetadata) {
	s.mu.Lock()
	cur := s.items[entityID]
	if meta.DeviceID != "" {
		cur.DeviceID = meta.DeviceID
	}
	if meta.Name != "" {
		cur.Name = meta.Name
	}
	if meta.Alias != "" {
		cur.Alias = meta.Alias
	}
	if meta.AvatarURL != "" {
		cur.AvatarURL = meta.AvatarURL
	}
	if meta.Initials != "" {
		cur.Initials = meta.Initials
	}
	s.items[entityID] = cur
	s.version++
	subs := s.subs
	s.mu.Unlock()
	notify(subs)
}

func (s *MetadataStore) Remove(entityID string) {
	s.mu.Lock()
	if _, ok := s.items[entityID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.items, entityID)
	s.version++
	subs := s.subs
	s.mu.Unlock()
	notify(subs)
}

func (s *MetadataStore) Get(entityID string) (TrackerMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.items[entityID]
	return meta, ok
}

func (s *MetadataStore) Snapshot() map[string]TrackerMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TrackerMetadata, len(s.items))
	for id, meta := range s.items {
		out[id] = meta
	}
	return out
}

func (s *MetadataStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func notify(subs []func()) {
	for _, fn := range subs {
		fn()
	}
}
