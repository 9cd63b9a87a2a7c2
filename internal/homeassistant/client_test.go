package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/battery"
)

// fakeHost is a minimal in-process Home Assistant websocket endpoint.
// It performs the auth handshake, answers subscribe_events and
// get_states commands, and lets tests push events to the client.
type fakeHost struct {
	t        *testing.T
	server   *httptest.Server
	token    string
	entities []Entity

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeHost(t *testing.T, token string, entities ...Entity) *fakeHost {
	t.Helper()
	h := &fakeHost{t: t, token: token, entities: entities}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()
		h.serve(conn)
	})

	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHost) serve(conn *websocket.Conn) {
	if err := conn.WriteJSON(map[string]string{"type": msgTypeAuthRequired}); err != nil {
		return
	}

	var auth struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != h.token {
		conn.WriteJSON(map[string]string{ //nolint:errcheck // test server
			"type":    msgTypeAuthInvalid,
			"message": "Invalid access token",
		})
		conn.Close()
		return
	}
	if err := conn.WriteJSON(map[string]string{"type": msgTypeAuthOK}); err != nil {
		return
	}

	for {
		var cmd map[string]any
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		id, _ := cmd["id"].(float64)
		reply := map[string]any{
			"id":      int64(id),
			"type":    msgTypeResult,
			"success": true,
		}
		if cmd["type"] == msgTypeGetStates {
			reply["result"] = h.entities
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

// pushEvent delivers an event message to the connected client.
func (h *fakeHost) pushEvent(eventType string, data any) {
	h.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		h.t.Fatalf("marshaling event data: %v", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		h.t.Fatal("no client connected")
	}
	err = h.conn.WriteJSON(serverMessage{
		ID:   1,
		Type: msgTypeEvent,
		Event: &eventMessage{
			EventType: eventType,
			Data:      raw,
		},
	})
	if err != nil {
		h.t.Fatalf("pushing event: %v", err)
	}
}

func (h *fakeHost) dropConnection() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		h.conn.Close()
	}
}

func wireEntity(entityID, state string, attrs map[string]any) Entity {
	return Entity{EntityID: entityID, State: state, Attributes: attrs}
}

func dialFake(t *testing.T, h *fakeHost) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{URL: h.server.URL, Token: h.token})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"http", "http://ha.local:8123", "ws://ha.local:8123/api/websocket", false},
		{"https", "https://ha.example.com", "wss://ha.example.com/api/websocket", false},
		{"ws passthrough", "ws://ha.local:8123", "ws://ha.local:8123/api/websocket", false},
		{"wss passthrough", "wss://ha.example.com", "wss://ha.example.com/api/websocket", false},
		{"trailing slash", "http://ha.local:8123/", "ws://ha.local:8123/api/websocket", false},
		{"subpath", "http://proxy.local/ha", "ws://proxy.local/ha/api/websocket", false},
		{"ftp scheme", "ftp://ha.local", "", true},
		{"no scheme", "ha.local:8123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := websocketURL(tt.base)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Fatalf("error = %v, want ErrInvalidURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("websocketURL(%q): %v", tt.base, err)
			}
			if got != tt.want {
				t.Errorf("websocketURL(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}

func TestDialPrimesStateCache(t *testing.T) {
	h := newFakeHost(t, "secret",
		wireEntity("sensor.a", "80", map[string]any{"device_class": "battery"}),
		wireEntity("light.kitchen", "on", nil),
	)
	c := dialFake(t, h)

	snap, ok := c.GetState("sensor.a")
	if !ok {
		t.Fatal("sensor.a not in cache after dial")
	}
	if snap.State != "80" {
		t.Errorf("sensor.a state = %q, want 80", snap.State)
	}
	if snap.DeviceClass() != "battery" {
		t.Errorf("sensor.a device class = %q, want battery", snap.DeviceClass())
	}

	if _, ok := c.GetState("sensor.missing"); ok {
		t.Error("unexpected cache hit for unknown entity")
	}

	if got := len(c.AllStates()); got != 2 {
		t.Errorf("AllStates = %d entities, want 2", got)
	}
}

func TestDialAuthInvalid(t *testing.T) {
	h := newFakeHost(t, "secret")

	_, err := Dial(context.Background(), Config{URL: h.server.URL, Token: "wrong"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("error = %v, want ErrAuthFailed", err)
	}
	if !strings.Contains(err.Error(), "Invalid access token") {
		t.Errorf("error %q missing host message", err)
	}
}

func TestDialBadURL(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ftp://nope", Token: "t"})
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("error = %v, want ErrInvalidURL", err)
	}
}

func TestStateChangedUpdatesCacheAndHandlers(t *testing.T) {
	h := newFakeHost(t, "secret",
		wireEntity("sensor.a", "80", map[string]any{"device_class": "battery"}),
	)
	c := dialFake(t, h)

	type change struct {
		entityID string
		oldState string
		newState string
	}
	changes := make(chan change, 4)
	unsub, err := c.OnStateChanged(func(entityID string, oldState, newState *battery.StateSnapshot) {
		ch := change{entityID: entityID}
		if oldState != nil {
			ch.oldState = oldState.State
		}
		if newState != nil {
			ch.newState = newState.State
		}
		changes <- ch
	})
	if err != nil {
		t.Fatalf("OnStateChanged: %v", err)
	}
	defer unsub()

	oldEnt := wireEntity("sensor.a", "80", map[string]any{"device_class": "battery"})
	newEnt := wireEntity("sensor.a", "75", map[string]any{"device_class": "battery"})
	h.pushEvent(eventStateChanged, stateChangedData{
		EntityID: "sensor.a",
		OldState: &oldEnt,
		NewState: &newEnt,
	})

	select {
	case ch := <-changes:
		if ch.entityID != "sensor.a" || ch.oldState != "80" || ch.newState != "75" {
			t.Errorf("change = %+v, want sensor.a 80 -> 75", ch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("state change handler never fired")
	}

	// Cache is updated before handlers run, so it must be current now.
	snap, ok := c.GetState("sensor.a")
	if !ok || snap.State != "75" {
		t.Errorf("cached state = %v, want 75", snap)
	}
}

func TestStateChangedRemovalEvictsCache(t *testing.T) {
	h := newFakeHost(t, "secret",
		wireEntity("sensor.a", "80", nil),
	)
	c := dialFake(t, h)

	fired := make(chan struct{}, 1)
	unsub, err := c.OnStateChanged(func(entityID string, _, newState *battery.StateSnapshot) {
		if entityID == "sensor.a" && newState == nil {
			fired <- struct{}{}
		}
	})
	if err != nil {
		t.Fatalf("OnStateChanged: %v", err)
	}
	defer unsub()

	oldEnt := wireEntity("sensor.a", "80", nil)
	h.pushEvent(eventStateChanged, stateChangedData{
		EntityID: "sensor.a",
		OldState: &oldEnt,
		NewState: nil,
	})

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("removal handler never fired")
	}

	if _, ok := c.GetState("sensor.a"); ok {
		t.Error("removed entity still in cache")
	}
}

func TestRegistryUpdatedDispatch(t *testing.T) {
	h := newFakeHost(t, "secret")
	c := dialFake(t, h)

	type registryEvent struct {
		action   battery.RegistryAction
		entityID string
	}
	events := make(chan registryEvent, 4)
	unsub, err := c.OnRegistryUpdated(func(action battery.RegistryAction, entityID string) {
		events <- registryEvent{action: action, entityID: entityID}
	})
	if err != nil {
		t.Fatalf("OnRegistryUpdated: %v", err)
	}
	defer unsub()

	h.pushEvent(eventRegistryUpdated, registryUpdatedData{
		Action:   "remove",
		EntityID: "sensor.a",
	})

	select {
	case ev := <-events:
		if ev.action != battery.RegistryActionRemove || ev.entityID != "sensor.a" {
			t.Errorf("event = %+v, want remove sensor.a", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("registry handler never fired")
	}
}

func TestHandlerUnsubscribe(t *testing.T) {
	h := newFakeHost(t, "secret")
	c := dialFake(t, h)

	first := make(chan struct{}, 4)
	second := make(chan struct{}, 4)
	unsubFirst, err := c.OnRegistryUpdated(func(battery.RegistryAction, string) {
		first <- struct{}{}
	})
	if err != nil {
		t.Fatalf("OnRegistryUpdated: %v", err)
	}
	if _, err := c.OnRegistryUpdated(func(battery.RegistryAction, string) {
		second <- struct{}{}
	}); err != nil {
		t.Fatalf("OnRegistryUpdated: %v", err)
	}

	unsubFirst()
	unsubFirst() // repeated calls are harmless

	h.pushEvent(eventRegistryUpdated, registryUpdatedData{
		Action:   "create",
		EntityID: "sensor.b",
	})

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining handler never fired")
	}
	select {
	case <-first:
		t.Error("unsubscribed handler still fired")
	default:
	}
}

func TestOnDisconnectFires(t *testing.T) {
	h := newFakeHost(t, "secret")
	c := dialFake(t, h)

	disconnected := make(chan struct{})
	c.SetOnDisconnect(func(error) { close(disconnected) })

	h.dropConnection()

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newFakeHost(t, "secret")
	c := dialFake(t, h)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := c.OnStateChanged(func(string, *battery.StateSnapshot, *battery.StateSnapshot) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("OnStateChanged after close = %v, want ErrNotConnected", err)
	}
}
