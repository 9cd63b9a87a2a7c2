// Package homeassistant provides the websocket client that connects the
// core to a Home Assistant instance.
//
// # Architecture
//
//	Home Assistant ── websocket ──> Client (read pump)
//	                                   │
//	                 ┌─────────────────┼──────────────────┐
//	                 ▼                 ▼                  ▼
//	           state cache      command results     event handlers
//	        (GetState/AllStates)  (id correlated)  (battery.Monitor)
//
// The client authenticates with a long-lived access token, subscribes
// to state_changed and entity_registry_updated events, and primes a
// local cache of all entity states via get_states. A single read
// goroutine updates the cache and dispatches events, so handlers
// observe per-entity changes in arrival order and the cache never lags
// behind a delivered event.
//
// # Key Types
//
//   - Client: Connected, authenticated websocket session
//   - Config: Host URL and access token
//   - Entity: Wire representation of a host entity state
//
// Client implements battery.StateSource and battery.EventBus, which is
// all the core needs from the host.
package homeassistant
