package battery

import "sync"

// Monitor is the evaluation engine: it consumes state-change and
// entity-registry notifications from the host, reclassifies the
// affected entity, updates the session registry, and triggers
// subscriber notification when the update is a real change.
//
// A conceptual state machine runs per entity: Untracked,
// TrackedNormal, TrackedLow. Classification success moves an entity
// into one of the tracked states by threshold comparison; sentinel
// states, parse failures, and registry removals move it back to
// Untracked. Events for entities that were never batteries are no-ops.
type Monitor struct {
	states  StateSource
	session *Session

	loggerMu sync.RWMutex
	logger   Logger
}

// NewMonitor creates a monitor bound to one session and the host state
// source.
func NewMonitor(states StateSource, session *Session) *Monitor {
	return &Monitor{
		states:  states,
		session: session,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the monitor. Safe to call while event
// handlers are running.
func (m *Monitor) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	defer m.loggerMu.Unlock()
	m.logger = logger
}

// log returns the current logger.
func (m *Monitor) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// Session returns the session this monitor mutates.
func (m *Monitor) Session() *Session {
	return m.session
}

// Start wires the host event bus and performs initial discovery.
// Listeners are registered before the first evaluation so an event
// arriving mid-discovery is not lost; replaying it over an entity the
// discovery pass already evaluated is a harmless no-op.
// The returned unsubscribe functions are registered as session
// cleanups, so Session.Teardown detaches every listener exactly once.
func (m *Monitor) Start(bus EventBus) error {
	unsubState, err := bus.OnStateChanged(m.HandleStateChanged)
	if err != nil {
		return err
	}
	m.session.AddCleanup(unsubState)

	unsubRegistry, err := bus.OnRegistryUpdated(m.HandleRegistryUpdated)
	if err != nil {
		unsubState()
		return err
	}
	m.session.AddCleanup(unsubRegistry)

	discovered := m.Discover()
	m.log().Info("discovered battery entities", "count", len(discovered))
	m.evaluateIDs(discovered)

	return nil
}

// Discover enumerates the host entity universe and returns the ids of
// all battery-class entities. The filter is device-class only:
// unavailable or non-numeric batteries are still discovered, so their
// subsequent evaluation drops them through the same transition paths
// as live events would.
func (m *Monitor) Discover() []string {
	var ids []string
	for _, snap := range m.states.AllStates() {
		s := snap
		if IsBatterySnapshot(&s) {
			ids = append(ids, s.EntityID)
			m.log().Debug("battery entity discovered",
				"entity_id", s.EntityID,
				"name", s.FriendlyName(),
				"state", s.State,
			)
		}
	}
	return ids
}

// Reevaluate re-runs discovery and feeds every discovered entity
// through the evaluation engine. Called after a threshold change so
// all tracked entities re-derive their low/normal classification.
//
// Entities that vanished from the host between runs are not purged
// here; they leave the registry when their absent-state or
// registry-removal event arrives.
func (m *Monitor) Reevaluate() {
	m.log().Debug("re-evaluating all battery entities")
	m.evaluateIDs(m.Discover())
	m.log().Debug("re-evaluation complete")
}

// evaluateIDs runs a full evaluation for each entity id that still has
// a state in the host.
func (m *Monitor) evaluateIDs(ids []string) {
	for _, id := range ids {
		if snap, ok := m.states.GetState(id); ok {
			m.evaluateBattery(id, snap)
		}
	}
}

// HandleStateChanged processes one host state-change event.
// The old state is unused: classification depends only on the new
// snapshot, and change detection compares against the registry.
func (m *Monitor) HandleStateChanged(entityID string, _, newState *StateSnapshot) {
	if entityID == "" {
		return
	}

	if IsBatterySnapshot(newState) {
		m.log().Debug("battery state change", "entity_id", entityID, "state", newState.State)
		m.evaluateBattery(entityID, newState)
		return
	}

	// Not (or no longer) a battery entity. Only notify if it was tracked.
	if m.session.Tracked(entityID) {
		m.log().Debug("entity no longer a battery entity or has no state", "entity_id", entityID)
		m.remove(entityID, ReasonRemovedOrNotBattery)
	}
}

// HandleRegistryUpdated processes one host entity-registry event.
func (m *Monitor) HandleRegistryUpdated(action RegistryAction, entityID string) {
	if entityID == "" {
		return
	}
	m.log().Debug("entity registry update", "action", string(action), "entity_id", entityID)

	switch action {
	case RegistryActionCreate:
		if snap, ok := m.states.GetState(entityID); ok && IsBatterySnapshot(snap) {
			m.log().Info("new battery entity discovered", "entity_id", entityID)
			m.evaluateBattery(entityID, snap)
		}
	case RegistryActionRemove:
		m.remove(entityID, ReasonEntityRemoved)
	case RegistryActionUpdate:
		if snap, ok := m.states.GetState(entityID); ok && IsBatterySnapshot(snap) {
			m.evaluateBattery(entityID, snap)
		} else {
			m.remove(entityID, ReasonEntityUpdatedNotBatt)
		}
	}
}

// evaluateBattery re-evaluates one battery-class entity against the
// current threshold and syncs the registry.
//
// The registry entry is always rewritten on classification success,
// even when the level is unchanged, because the snapshot timestamps
// move; value comparison downstream decides whether anyone is told.
func (m *Monitor) evaluateBattery(entityID string, snap *StateSnapshot) {
	if snap.State == StateUnavailable || snap.State == StateUnknown {
		m.remove(entityID, ReasonStateUnavailable)
		return
	}

	level, ok := Classify(snap)
	if !ok {
		m.log().Debug("battery level not parsable", "entity_id", entityID, "state", snap.State)
		m.remove(entityID, ReasonNonNumericBattery)
		return
	}

	threshold := m.session.Threshold()
	rec := Record{
		EntityID:     entityID,
		BatteryLevel: level,
		FriendlyName: snap.FriendlyName(),
		StateValue:   snap.State,
		Unit:         snap.Unit(),
		IsLow:        level <= float64(threshold),
		LastChanged:  snap.LastChanged,
		LastUpdated:  snap.LastUpdated,
	}

	result := m.session.Update(rec)

	if result.newlyLow {
		m.log().Warn("low battery detected",
			"entity_id", entityID,
			"name", rec.FriendlyName,
			"level", rec.BatteryLevel,
		)
	}
	if result.recovered {
		m.log().Info("battery recovered",
			"entity_id", entityID,
			"name", rec.FriendlyName,
			"level", rec.BatteryLevel,
			"threshold", threshold,
		)
	}

	if result.changed {
		m.session.Notify(ReasonStateUpdate, entityID)
	}
}

// remove drops an entity from both maps and notifies when the removal
// actually changed state (present to absent in either map).
func (m *Monitor) remove(entityID string, reason Reason) {
	if m.session.Remove(entityID) {
		m.log().Debug("removed entity from tracking", "entity_id", entityID, "reason", string(reason))
		m.session.Notify(reason, entityID)
	}
}
