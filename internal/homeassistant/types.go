package homeassistant

import (
	"encoding/json"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/battery"
)

// Entity is the wire representation of a Home Assistant entity state,
// as returned by get_states and carried in state_changed events.
type Entity struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

// Snapshot converts a wire entity into the core's snapshot type.
func (e *Entity) Snapshot() *battery.StateSnapshot {
	if e == nil {
		return nil
	}
	return &battery.StateSnapshot{
		EntityID:    e.EntityID,
		State:       e.State,
		Attributes:  e.Attributes,
		LastChanged: e.LastChanged,
		LastUpdated: e.LastUpdated,
	}
}

// serverMessage is the envelope for every message received from the host.
type serverMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *eventMessage   `json:"event,omitempty"`
	Error   *serverError    `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// serverError is the error object of a failed command result.
type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// eventMessage is the payload of a "type":"event" message.
type eventMessage struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// stateChangedData is the data of a state_changed event.
type stateChangedData struct {
	EntityID string  `json:"entity_id"`
	OldState *Entity `json:"old_state"`
	NewState *Entity `json:"new_state"`
}

// registryUpdatedData is the data of an entity_registry_updated event.
type registryUpdatedData struct {
	Action   string `json:"action"`
	EntityID string `json:"entity_id"`
}

// Message types on the host websocket API.
const (
	msgTypeAuthRequired    = "auth_required"
	msgTypeAuth            = "auth"
	msgTypeAuthOK          = "auth_ok"
	msgTypeAuthInvalid     = "auth_invalid"
	msgTypeResult          = "result"
	msgTypeEvent           = "event"
	msgTypeGetStates       = "get_states"
	msgTypeSubscribeEvents = "subscribe_events"
)

// Host event types the client subscribes to.
const (
	eventStateChanged    = "state_changed"
	eventRegistryUpdated = "entity_registry_updated"
)
