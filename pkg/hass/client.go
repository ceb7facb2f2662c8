// Package hass speaks the Home Assistant websocket API: token auth, a
// one-shot state snapshot, and a state_changed subscription that survives
// connection loss.
package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/floortrack/pkg/tracking"
)

const (
	handshakeTimeout = 10 * time.Second
	maxBackoff       = 60 * time.Second
)

// Client implements tracking.EntitySource over a Home Assistant websocket
// endpoint (ws://host:8123/api/websocket).
type Client struct {
	URL   string
	Token string
}

func NewClient(url, token string) *Client {
	return &Client{URL: url, Token: token}
}

type message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *eventPayload   `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

type eventPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string                `json:"entity_id"`
		NewState *tracking.EntityState `json:"new_state"`
	} `json:"data"`
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// authenticate runs the auth_required / auth / auth_ok exchange that the
// server demands before any command.
func (c *Client) authenticate(conn *websocket.Conn) error {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case "auth_required":
			auth := map[string]string{"type": "auth", "access_token": c.Token}
			if err := conn.WriteJSON(auth); err != nil {
				return err
			}
		case "auth_ok":
			return nil
		case "auth_invalid":
			return fmt.Errorf("auth rejected: %s", msg.Message)
		}
	}
}

// FetchSnapshot retrieves the current state of every entity over a
// short-lived connection.
func (c *Client) FetchSnapshot(ctx context.Context) ([]tracking.EntityState, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	const reqID = 1
	if err := conn.WriteJSON(map[string]any{"id": reqID, "type": "get_states"}); err != nil {
		return nil, err
	}
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		if msg.Type != "result" || msg.ID != reqID {
			continue
		}
		if !msg.Success {
			return nil, errors.New("get_states refused")
		}
		var states []tracking.EntityState
		if err := json.Unmarshal(msg.Result, &states); err != nil {
			return nil, err
		}
		return states, nil
	}
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Unsubscribe tears the stream down and waits for the reader goroutine to
// exit. Safe to call more than once.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		<-s.done
	})
	return nil
}

// Subscribe starts a state_changed event stream. The reader goroutine
// reconnects with doubling backoff until Unsubscribe or context
// cancellation.
func (c *Client) Subscribe(ctx context.Context, handler func(tracking.EntityState)) (tracking.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go c.run(ctx, sub, handler)
	return sub, nil
}

func (c *Client) run(ctx context.Context, sub *subscription, handler func(tracking.EntityState)) {
	defer close(sub.done)
	backoff := 1 * time.Second
	for ctx.Err() == nil {
		log.Printf("[hass] Connecting to %s", c.URL)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[hass] Dial error: %v. Retrying in %v...", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 1 * time.Second
		sub.setConn(conn)

		subscribe := map[string]any{"id": 1, "type": "subscribe_events", "event_type": "state_changed"}
		if err := conn.WriteJSON(subscribe); err != nil {
			log.Printf("[hass] Subscribe error: %v", err)
			conn.Close()
			sub.setConn(nil)
			continue
		}

		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					log.Printf("[hass] Read error: %v. Reconnecting...", err)
				}
				break
			}
			if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
				continue
			}
			st := msg.Event.Data.NewState
			if st == nil {
				// Entity removed from the registry: report it as away so
				// its marker is dropped.
				handler(tracking.EntityState{
					EntityID: msg.Event.Data.EntityID,
					State:    tracking.StateAway,
				})
				continue
			}
			handler(*st)
		}
		conn.Close()
		sub.setConn(nil)

		select {
		case <-time.After(1 * time.Second):
		case <-ctx.Done():
		}
	}
}
