package battery

import (
	"testing"
)

// fakeSubscriber records delivered payloads and can be told to fail.
type fakeSubscriber struct {
	events  []UpdatePayload
	failErr error
}

func (f *fakeSubscriber) SendEvent(payload UpdatePayload) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.events = append(f.events, payload)
	return nil
}

func TestNotifyDeliversSnapshot(t *testing.T) {
	s := NewSession(20)
	sub := &fakeSubscriber{}
	s.Subscribe(sub, "client") //nolint:errcheck // registration is the point

	s.Update(record("sensor.a", 15, true))
	s.Update(record("sensor.b", 90, false))
	s.Notify(ReasonStateUpdate, "sensor.a")

	if len(sub.events) != 1 {
		t.Fatalf("delivered events = %d, want 1", len(sub.events))
	}

	got := sub.events[0]
	if got.Reason != ReasonStateUpdate {
		t.Errorf("payload reason = %q, want %q", got.Reason, ReasonStateUpdate)
	}
	if got.EntityID != "sensor.a" {
		t.Errorf("payload entity_id = %q, want sensor.a", got.EntityID)
	}
	if got.Threshold != 20 {
		t.Errorf("payload threshold = %d, want 20", got.Threshold)
	}
	if len(got.AllBatteries) != 2 {
		t.Errorf("payload all_batteries = %d entries, want 2", len(got.AllBatteries))
	}
	if len(got.LowBatteries) != 1 {
		t.Errorf("payload low_batteries = %d entries, want 1", len(got.LowBatteries))
	}
}

func TestNotifyNoSubscribersIsNoop(t *testing.T) {
	s := NewSession(20)
	s.Update(record("sensor.a", 15, true))

	// Must not panic or block with an empty subscriber list.
	s.Notify(ReasonStateUpdate, "sensor.a")
}

func TestNotifyPrunesStaleSubscribers(t *testing.T) {
	s := NewSession(20)
	healthy := &fakeSubscriber{}
	stale := &fakeSubscriber{failErr: ErrSubscriberStale}

	s.Subscribe(healthy, "healthy") //nolint:errcheck // registration is the point
	s.Subscribe(stale, "stale")     //nolint:errcheck // registration is the point

	s.Update(record("sensor.a", 15, true))
	s.Notify(ReasonStateUpdate, "sensor.a")

	if got := s.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() after stale delivery = %d, want 1", got)
	}
	if len(healthy.events) != 1 {
		t.Errorf("healthy subscriber events = %d, want 1", len(healthy.events))
	}

	// The healthy subscriber keeps receiving after the prune.
	s.Update(record("sensor.a", 10, true))
	s.Notify(ReasonStateUpdate, "sensor.a")
	if len(healthy.events) != 2 {
		t.Errorf("healthy subscriber events after prune = %d, want 2", len(healthy.events))
	}
}

func TestNotifyPrunesMultipleStaleInOneBatch(t *testing.T) {
	s := NewSession(20)
	staleA := &fakeSubscriber{failErr: ErrSubscriberStale}
	staleB := &fakeSubscriber{failErr: ErrSubscriberStale}
	healthy := &fakeSubscriber{}

	s.Subscribe(staleA, "stale-a")  //nolint:errcheck // registration is the point
	s.Subscribe(healthy, "healthy") //nolint:errcheck // registration is the point
	s.Subscribe(staleB, "stale-b")  //nolint:errcheck // registration is the point

	s.Update(record("sensor.a", 15, true))
	s.Notify(ReasonStateUpdate, "sensor.a")

	if got := s.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}
	// A stale subscriber in the middle must not abort delivery to the rest.
	if len(healthy.events) != 1 {
		t.Errorf("healthy subscriber events = %d, want 1", len(healthy.events))
	}
}
