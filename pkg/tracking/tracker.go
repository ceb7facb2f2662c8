package tracking

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// Sink receives every accepted location update and away-state removal.
type Sink interface {
	Upsert(entityID string, loc DeviceLocation)
	Remove(entityID string)
}

// OwnerHandler is implemented by sinks that also track ownership claims;
// owner entity states are routed here when present.
type OwnerHandler interface {
	HandleOwnerState(st EntityState)
}

// Tracker owns the live subscription lifecycle: idle until Start, then
// subscribed until Stop. Start and Stop are idempotent; a failed subscribe
// is logged and leaves the tracker idle so the caller may retry.
type Tracker struct {
	mu            sync.Mutex
	src           EntitySource
	sink          Sink
	minConfidence float64
	sub           Subscription
	now           func() time.Time
}

func NewTracker(src EntitySource, sink Sink, minConfidence float64) *Tracker {
	return &Tracker{
		src:           src,
		sink:          sink,
		minConfidence: minConfidence,
		now:           time.Now,
	}
}

// Start subscribes to the live entity-state stream. No-op if already
// subscribed.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		return
	}
	sub, err := t.src.Subscribe(ctx, t.handleState)
	if err != nil {
		log.Printf("[tracker] Subscribe failed: %v", err)
		return
	}
	t.sub = sub
}

// Stop unsubscribes and returns to idle. Safe to call repeatedly.
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[tracker] Unsubscribe failed: %v", err)
	}
}

// Running reports whether the tracker is in the subscribed state.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sub != nil
}

func (t *Tracker) handleState(st EntityState) {
	switch {
	case strings.HasPrefix(st.EntityID, OwnerPrefix):
		if oh, ok := t.sink.(OwnerHandler); ok {
			oh.HandleOwnerState(st)
		}
	case strings.HasPrefix(st.EntityID, TrackerPrefix):
		if st.State == StateAway {
			t.sink.Remove(st.EntityID)
			return
		}
		upd, ok := ParseEntityState(st, t.minConfidence, t.now())
		if !ok {
			return
		}
		t.sink.Upsert(upd.EntityID, locationFromUpdate(upd))
	}
}
