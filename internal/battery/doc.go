// Package battery implements the event-driven battery tracking core of
// Heimdall Battery Sentinel.
//
// The core discovers entities tagged with device-class "battery" on the
// host platform, evaluates their charge level against a configurable
// threshold, and maintains two live collections per session: the set of
// all tracked batteries and the set of currently-low batteries.
// Registry-derived payloads fan out to subscribers on every real change.
//
// # Architecture
//
//	Discovery ─▶ Monitor (evaluation engine) ─▶ Session (registry) ─▶ Notify ─▶ Subscribers
//	                     ▲
//	     host event bus ─┘ (state_changed, entity_registry_updated)
//
// # Key Types
//
//   - StateSnapshot: read-only view of one entity's state and attributes
//   - Record: one tracked battery (level, low flag, timestamps)
//   - Session: per-instance registry owning the all/low maps, the
//     subscriber list, and the teardown cleanup callbacks
//   - Monitor: the evaluation engine fed by host events
//   - StateSource, EventBus: narrow host collaborator contracts,
//     substituted with in-memory fakes in tests
//
// # Invariants
//
// An entity appears in the low set iff its record in the all set has
// IsLow true, and both maps always carry the identical record value.
// Entities with unavailable, unknown, or unparseable state have no
// entry in either map. All map mutations happen inside one critical
// section per session, so readers never observe a torn two-map update.
//
// # Concurrency
//
// The host adapter dispatches events from a single goroutine, giving
// per-entity arrival-order processing. The session mutex makes the
// registry safe for concurrent query handlers regardless. Subscriber
// delivery is a non-blocking send; socket I/O happens on the hub's
// write pumps, never inside the registry critical section.
package battery
