package hass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/floortrack/pkg/tracking"
)

const testToken = "llat-test-token"

var upgrader = websocket.Upgrader{}

// fakeServer speaks just enough of the Home Assistant websocket protocol
// for the client: auth handshake, get_states, subscribe_events.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth struct {
			Type        string `json:"type"`
			AccessToken string `json:"access_token"`
		}
		if conn.ReadJSON(&auth) != nil {
			return
		}
		if auth.AccessToken != testToken {
			conn.WriteJSON(map[string]string{"type": "auth_invalid", "message": "bad token"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		for {
			var cmd struct {
				ID   int    `json:"id"`
				Type string `json:"type"`
			}
			if conn.ReadJSON(&cmd) != nil {
				return
			}
			switch cmd.Type {
			case "get_states":
				states := []map[string]any{
					{
						"entity_id": "device_tracker.phone_jeremy",
						"state":     "home",
						"attributes": map[string]any{
							"x": 2.75, "y": 1.93, "confidence": 74.0,
						},
					},
					{
						"entity_id":  "person.jeremy",
						"state":      "home",
						"attributes": map[string]any{"device_trackers": []string{"device_tracker.phone_jeremy"}},
					},
				}
				conn.WriteJSON(map[string]any{"id": cmd.ID, "type": "result", "success": true, "result": states})
			case "subscribe_events":
				conn.WriteJSON(map[string]any{"id": cmd.ID, "type": "result", "success": true})
				conn.WriteJSON(map[string]any{
					"id": cmd.ID, "type": "event",
					"event": map[string]any{
						"event_type": "state_changed",
						"data": map[string]any{
							"entity_id": "device_tracker.phone_jeremy",
							"new_state": map[string]any{
								"entity_id":  "device_tracker.phone_jeremy",
								"state":      "home",
								"attributes": map[string]any{"x": 3.0, "y": 4.0, "confidence": 90.0},
							},
						},
					},
				})
				conn.WriteJSON(map[string]any{
					"id": cmd.ID, "type": "event",
					"event": map[string]any{
						"event_type": "state_changed",
						"data": map[string]any{
							"entity_id": "device_tracker.old_tablet",
							"new_state": nil,
						},
					},
				})
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFetchSnapshot(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	c := NewClient(wsURL(srv), testToken)
	states, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states; want 2", len(states))
	}
	if states[0].EntityID != "device_tracker.phone_jeremy" {
		t.Errorf("first entity = %q", states[0].EntityID)
	}
	if x, ok := states[0].Attributes["x"].(float64); !ok || x != 2.75 {
		t.Errorf("x attribute = %v", states[0].Attributes["x"])
	}
}

func TestFetchSnapshotBadToken(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	c := NewClient(wsURL(srv), "wrong")
	if _, err := c.FetchSnapshot(context.Background()); err == nil {
		t.Fatal("expected an auth error")
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	got := make(chan tracking.EntityState, 8)
	c := NewClient(wsURL(srv), testToken)
	sub, err := c.Subscribe(context.Background(), func(st tracking.EntityState) {
		got <- st
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	waitFor := func() tracking.EntityState {
		select {
		case st := <-got:
			return st
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for an event")
			return tracking.EntityState{}
		}
	}

	st := waitFor()
	if st.EntityID != "device_tracker.phone_jeremy" {
		t.Errorf("entity = %q", st.EntityID)
	}
	if y, _ := st.Attributes["y"].(float64); y != 4.0 {
		t.Errorf("y attribute = %v", st.Attributes["y"])
	}

	// A null new_state arrives as an away state.
	st = waitFor()
	if st.EntityID != "device_tracker.old_tablet" || st.State != tracking.StateAway {
		t.Errorf("deleted entity event = %+v", st)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	c := NewClient(wsURL(srv), testToken)
	sub, err := c.Subscribe(context.Background(), func(tracking.EntityState) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
}
