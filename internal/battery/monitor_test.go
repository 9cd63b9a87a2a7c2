package battery

import (
	"testing"
)

// fakeStateSource is an in-memory host state machine.
type fakeStateSource struct {
	states map[string]StateSnapshot
}

func newFakeStateSource() *fakeStateSource {
	return &fakeStateSource{states: make(map[string]StateSnapshot)}
}

func (f *fakeStateSource) set(snap *StateSnapshot) {
	f.states[snap.EntityID] = *snap
}

func (f *fakeStateSource) remove(entityID string) {
	delete(f.states, entityID)
}

func (f *fakeStateSource) GetState(entityID string) (*StateSnapshot, bool) {
	snap, ok := f.states[entityID]
	if !ok {
		return nil, false
	}
	out := snap
	return &out, true
}

func (f *fakeStateSource) AllStates() []StateSnapshot {
	out := make([]StateSnapshot, 0, len(f.states))
	for _, snap := range f.states {
		out = append(out, snap)
	}
	return out
}

// fakeBus records handler registrations and counts unsubscribes.
type fakeBus struct {
	stateHandler    func(entityID string, oldState, newState *StateSnapshot)
	registryHandler func(action RegistryAction, entityID string)
	stateUnsubs     int
	registryUnsubs  int
}

func (f *fakeBus) OnStateChanged(fn func(entityID string, oldState, newState *StateSnapshot)) (func(), error) {
	f.stateHandler = fn
	return func() { f.stateUnsubs++ }, nil
}

func (f *fakeBus) OnRegistryUpdated(fn func(action RegistryAction, entityID string)) (func(), error) {
	f.registryHandler = fn
	return func() { f.registryUnsubs++ }, nil
}

// newMonitorFixture builds a started monitor over the given snapshots.
func newMonitorFixture(t *testing.T, threshold int, snaps ...*StateSnapshot) (*Monitor, *fakeStateSource, *fakeBus, *fakeSubscriber) {
	t.Helper()

	source := newFakeStateSource()
	for _, snap := range snaps {
		source.set(snap)
	}

	session := NewSession(threshold)
	monitor := NewMonitor(source, session)
	bus := &fakeBus{}
	if err := monitor.Start(bus); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub := &fakeSubscriber{}
	if _, err := session.Subscribe(sub, "test-client"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	return monitor, source, bus, sub
}

func TestMonitorDiscovery(t *testing.T) {
	monitor, _, _, _ := newMonitorFixture(t, 20,
		batterySnap("sensor.door_battery", "87", nil),
		batterySnap("sensor.motion_battery", "15", nil),
		batterySnap("sensor.lock_battery", "locked", map[string]any{AttrBattery: 55.0}),
		&StateSnapshot{
			EntityID:   "sensor.outdoor_temp",
			State:      "21.5",
			Attributes: map[string]any{AttrDeviceClass: "temperature"},
		},
		&StateSnapshot{EntityID: "light.hall", State: "on"},
	)

	all, low := monitor.Session().Counts()
	if all != 3 {
		t.Errorf("tracked after discovery = %d, want 3", all)
	}
	if low != 1 {
		t.Errorf("low after discovery = %d, want 1", low)
	}

	rec, ok := monitor.Session().Get("sensor.lock_battery")
	if !ok {
		t.Fatal("attribute-level battery not tracked")
	}
	if rec.BatteryLevel != 55 {
		t.Errorf("attribute-level battery level = %v, want 55", rec.BatteryLevel)
	}
	if rec.IsLow {
		t.Error("attribute-level battery at 55 flagged low with threshold 20")
	}

	assertConsistent(t, monitor.Session())
}

func TestMonitorNonBatteryNeverTracked(t *testing.T) {
	monitor, _, bus, sub := newMonitorFixture(t, 20)

	temp := &StateSnapshot{
		EntityID:   "sensor.outdoor_temp",
		State:      "19",
		Attributes: map[string]any{AttrDeviceClass: "temperature"},
	}
	bus.stateHandler("sensor.outdoor_temp", nil, temp)
	bus.registryHandler(RegistryActionCreate, "light.hall")

	if all, _ := monitor.Session().Counts(); all != 0 {
		t.Errorf("tracked = %d, want 0", all)
	}
	if len(sub.events) != 0 {
		t.Errorf("notifications = %d, want 0", len(sub.events))
	}
}

func TestMonitorStateUpdateNotifiesOnChange(t *testing.T) {
	monitor, source, bus, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "80", nil),
	)

	next := batterySnap("sensor.a", "75", nil)
	source.set(next)
	bus.stateHandler("sensor.a", nil, next)

	if len(sub.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sub.events))
	}
	if sub.events[0].Reason != ReasonStateUpdate {
		t.Errorf("reason = %q, want %q", sub.events[0].Reason, ReasonStateUpdate)
	}
	if sub.events[0].EntityID != "sensor.a" {
		t.Errorf("entity_id = %q, want sensor.a", sub.events[0].EntityID)
	}

	// Replaying the identical event produces no further notification.
	bus.stateHandler("sensor.a", nil, next)
	if len(sub.events) != 1 {
		t.Errorf("notifications after identical event = %d, want 1", len(sub.events))
	}

	assertConsistent(t, monitor.Session())
}

func TestMonitorLowTransition(t *testing.T) {
	monitor, source, bus, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "50", nil),
	)

	// Boundary: level == threshold counts as low.
	atThreshold := batterySnap("sensor.a", "20", nil)
	source.set(atThreshold)
	bus.stateHandler("sensor.a", nil, atThreshold)

	rec, _ := monitor.Session().Get("sensor.a")
	if !rec.IsLow {
		t.Error("level equal to threshold not flagged low")
	}
	if _, low := monitor.Session().Counts(); low != 1 {
		t.Errorf("low count = %d, want 1", low)
	}

	recovered := batterySnap("sensor.a", "21", nil)
	source.set(recovered)
	bus.stateHandler("sensor.a", nil, recovered)

	rec, _ = monitor.Session().Get("sensor.a")
	if rec.IsLow {
		t.Error("level above threshold still flagged low")
	}
	if _, low := monitor.Session().Counts(); low != 0 {
		t.Errorf("low count after recovery = %d, want 0", low)
	}

	if len(sub.events) != 2 {
		t.Errorf("notifications = %d, want 2", len(sub.events))
	}
	assertConsistent(t, monitor.Session())
}

func TestMonitorUnavailableRemovesEntity(t *testing.T) {
	monitor, source, bus, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.kitchen_battery", "12", nil),
	)

	if _, low := monitor.Session().Counts(); low != 1 {
		t.Fatalf("low count before transition = %d, want 1", low)
	}

	gone := batterySnap("sensor.kitchen_battery", StateUnavailable, nil)
	source.set(gone)
	bus.stateHandler("sensor.kitchen_battery", nil, gone)

	if all, low := monitor.Session().Counts(); all != 0 || low != 0 {
		t.Errorf("Counts() after unavailable = (%d, %d), want (0, 0)", all, low)
	}
	if len(sub.events) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(sub.events))
	}
	if sub.events[0].Reason != ReasonStateUnavailable {
		t.Errorf("reason = %q, want %q", sub.events[0].Reason, ReasonStateUnavailable)
	}

	// A second unavailable event for the now-untracked entity is silent.
	bus.stateHandler("sensor.kitchen_battery", nil, gone)
	if len(sub.events) != 1 {
		t.Errorf("notifications after repeat = %d, want 1", len(sub.events))
	}
}

func TestMonitorNonNumericRemovesEntity(t *testing.T) {
	monitor, source, bus, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "80", nil),
	)

	bad := batterySnap("sensor.a", "charging", nil)
	source.set(bad)
	bus.stateHandler("sensor.a", nil, bad)

	if all, _ := monitor.Session().Counts(); all != 0 {
		t.Errorf("tracked after non-numeric = %d, want 0", all)
	}
	if len(sub.events) != 1 || sub.events[0].Reason != ReasonNonNumericBattery {
		t.Errorf("notifications = %+v, want one with reason %q", sub.events, ReasonNonNumericBattery)
	}
}

func TestMonitorEntityStopsBeingBattery(t *testing.T) {
	monitor, source, bus, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "80", nil),
	)

	repurposed := &StateSnapshot{
		EntityID:   "sensor.a",
		State:      "21.5",
		Attributes: map[string]any{AttrDeviceClass: "temperature"},
	}
	source.set(repurposed)
	bus.stateHandler("sensor.a", nil, repurposed)

	if all, _ := monitor.Session().Counts(); all != 0 {
		t.Errorf("tracked = %d, want 0", all)
	}
	if len(sub.events) != 1 || sub.events[0].Reason != ReasonRemovedOrNotBattery {
		t.Errorf("notifications = %+v, want one with reason %q", sub.events, ReasonRemovedOrNotBattery)
	}
}

func TestMonitorRegistryEvents(t *testing.T) {
	monitor, source, bus, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "80", nil),
	)

	// Create: a new battery entity appears in the registry.
	source.set(batterySnap("sensor.b", "40", nil))
	bus.registryHandler(RegistryActionCreate, "sensor.b")
	if !monitor.Session().Tracked("sensor.b") {
		t.Error("created entity not tracked")
	}

	// Update keeping battery class: re-evaluated in place.
	source.set(batterySnap("sensor.b", "10", nil))
	bus.registryHandler(RegistryActionUpdate, "sensor.b")
	if rec, _ := monitor.Session().Get("sensor.b"); !rec.IsLow {
		t.Error("updated entity not re-evaluated")
	}

	// Update away from battery class: removed with its own reason.
	source.set(&StateSnapshot{
		EntityID:   "sensor.b",
		State:      "on",
		Attributes: map[string]any{AttrDeviceClass: "power"},
	})
	bus.registryHandler(RegistryActionUpdate, "sensor.b")
	if monitor.Session().Tracked("sensor.b") {
		t.Error("entity still tracked after losing battery class")
	}
	last := sub.events[len(sub.events)-1]
	if last.Reason != ReasonEntityUpdatedNotBatt {
		t.Errorf("reason = %q, want %q", last.Reason, ReasonEntityUpdatedNotBatt)
	}

	// Remove: tracked entity dropped from the registry.
	bus.registryHandler(RegistryActionRemove, "sensor.a")
	if monitor.Session().Tracked("sensor.a") {
		t.Error("entity still tracked after registry removal")
	}
	last = sub.events[len(sub.events)-1]
	if last.Reason != ReasonEntityRemoved {
		t.Errorf("reason = %q, want %q", last.Reason, ReasonEntityRemoved)
	}

	// Remove of an untracked entity is silent.
	before := len(sub.events)
	bus.registryHandler(RegistryActionRemove, "sensor.never_tracked")
	if len(sub.events) != before {
		t.Error("removal of untracked entity produced a notification")
	}
}

func TestMonitorThresholdReevaluation(t *testing.T) {
	monitor, _, _, sub := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "15", nil),
		batterySnap("sensor.b", "8", nil),
	)

	if _, low := monitor.Session().Counts(); low != 2 {
		t.Fatalf("low count at threshold 20 = %d, want 2", low)
	}

	// Lowering the threshold moves sensor.a out of the low set while it
	// stays tracked; sensor.b at 8 remains low.
	monitor.Session().SetThreshold(10)
	monitor.Reevaluate()

	rec, ok := monitor.Session().Get("sensor.a")
	if !ok {
		t.Fatal("sensor.a no longer tracked after re-evaluation")
	}
	if rec.IsLow {
		t.Error("sensor.a still flagged low at threshold 10")
	}
	if all, low := monitor.Session().Counts(); all != 2 || low != 1 {
		t.Errorf("Counts() = (%d, %d), want (2, 1)", all, low)
	}

	last := sub.events[len(sub.events)-1]
	if last.Reason != ReasonStateUpdate {
		t.Errorf("re-evaluation reason = %q, want %q", last.Reason, ReasonStateUpdate)
	}
	if last.Threshold != 10 {
		t.Errorf("payload threshold = %d, want 10", last.Threshold)
	}
	assertConsistent(t, monitor.Session())
}

func TestMonitorReevaluateDoesNotPurgeVanished(t *testing.T) {
	monitor, source, _, _ := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "80", nil),
	)

	// The entity disappears from the host without any event. A plain
	// re-evaluation leaves its record in place; only the entity's own
	// absent-state or registry-removal event drops it.
	source.remove("sensor.a")
	monitor.Reevaluate()

	if !monitor.Session().Tracked("sensor.a") {
		t.Error("re-evaluation purged an entity with no removal event")
	}
}

func TestMonitorTeardownDetachesListeners(t *testing.T) {
	monitor, _, bus, _ := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "80", nil),
	)

	count := monitor.Session().Teardown()
	if count != 2 {
		t.Errorf("Teardown() = %d, want 2 (state + registry listeners)", count)
	}
	if bus.stateUnsubs != 1 {
		t.Errorf("state unsubscribes = %d, want 1", bus.stateUnsubs)
	}
	if bus.registryUnsubs != 1 {
		t.Errorf("registry unsubscribes = %d, want 1", bus.registryUnsubs)
	}

	// Second teardown must not double-invoke the unsubscribes.
	monitor.Session().Teardown()
	if bus.stateUnsubs != 1 || bus.registryUnsubs != 1 {
		t.Errorf("unsubscribes after second Teardown = (%d, %d), want (1, 1)",
			bus.stateUnsubs, bus.registryUnsubs)
	}
}

// handlerAwareSource records whether both bus handlers were in place
// when the state universe was first enumerated.
type handlerAwareSource struct {
	*fakeStateSource
	bus                   *fakeBus
	handlersAtEnumeration bool
	enumerated            bool
}

func (h *handlerAwareSource) AllStates() []StateSnapshot {
	if !h.enumerated {
		h.enumerated = true
		h.handlersAtEnumeration = h.bus.stateHandler != nil && h.bus.registryHandler != nil
	}
	return h.fakeStateSource.AllStates()
}

func TestStartRegistersListenersBeforeDiscovery(t *testing.T) {
	bus := &fakeBus{}
	source := &handlerAwareSource{fakeStateSource: newFakeStateSource(), bus: bus}
	source.set(batterySnap("sensor.a", "50", nil))

	monitor := NewMonitor(source, NewSession(20))
	if err := monitor.Start(bus); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !source.enumerated {
		t.Fatal("Start never enumerated the state universe")
	}
	// An event arriving while discovery runs must reach a registered
	// handler rather than vanish, so registration comes first.
	if !source.handlersAtEnumeration {
		t.Error("discovery ran before event listeners were registered")
	}
}

func TestMonitorSetLoggerDuringEvents(t *testing.T) {
	monitor, _, bus, _ := newMonitorFixture(t, 20,
		batterySnap("sensor.a", "50", nil),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.stateHandler("sensor.a", nil, batterySnap("sensor.a", "49", nil))
		}
	}()
	for i := 0; i < 100; i++ {
		monitor.SetLogger(noopLogger{})
	}
	<-done
}
