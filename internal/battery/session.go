package battery

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the runtime registry for one monitoring instance.
//
// It exclusively owns the tracked-battery maps, the subscriber list, and
// the cleanup callbacks; no other component holds a mutable reference.
// Every read and mutation goes through a single mutex so that the
// all/low maps can never be observed in a torn state (an entity present
// in low but absent from all, or with diverging record values).
type Session struct {
	mu          sync.Mutex
	id          string
	all         map[string]Record
	low         map[string]Record
	subscribers []subscription
	cleanups    []func()
	threshold   int
	closed      bool
	logger      Logger
}

// subscription pairs a subscriber with its client-chosen id. The same
// connection may hold several subscriptions under distinct ids.
type subscription struct {
	sub Subscriber
	id  string
}

// NewSession creates a session with the given low-battery threshold.
func NewSession(threshold int) *Session {
	return &Session{
		id:        uuid.NewString(),
		all:       make(map[string]Record),
		low:       make(map[string]Record),
		threshold: threshold,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// log returns the logger for use outside the critical section.
func (s *Session) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Threshold returns the currently active low-battery threshold.
// The value is read fresh on every evaluation, never cached by callers.
func (s *Session) Threshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// SetThreshold updates the active threshold. The caller is expected to
// trigger a full re-evaluation afterwards so every tracked entity
// re-derives its low/normal classification promptly.
func (s *Session) SetThreshold(threshold int) {
	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()
}

// updateResult describes what an Update call changed.
type updateResult struct {
	changed   bool // either map's entry differs from before
	newlyLow  bool // entity crossed into the low set
	recovered bool // entity crossed out of the low set
}

// Update writes a record into the all-batteries map and syncs the
// low-batteries map from its IsLow flag, both inside one critical
// section. It reports whether either map's entry actually changed by
// value, so identical writes produce no notification.
func (s *Session) Update(rec Record) updateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldAll, hadAll := s.all[rec.EntityID]
	oldLow, hadLow := s.low[rec.EntityID]

	s.all[rec.EntityID] = rec
	if rec.IsLow {
		s.low[rec.EntityID] = rec
	} else {
		delete(s.low, rec.EntityID)
	}

	newLow, hasLow := s.low[rec.EntityID]

	return updateResult{
		changed:   !hadAll || oldAll != rec || hadLow != hasLow || (hasLow && oldLow != newLow),
		newlyLow:  rec.IsLow && !hadLow,
		recovered: !rec.IsLow && hadLow,
	}
}

// Remove deletes an entity from both maps in one operation.
// It reports whether the entity was actually present in either map, so
// removal of an untracked entity produces no notification.
func (s *Session) Remove(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, inAll := s.all[entityID]
	_, inLow := s.low[entityID]
	delete(s.all, entityID)
	delete(s.low, entityID)
	return inAll || inLow
}

// Tracked reports whether an entity currently has a record.
func (s *Session) Tracked(entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.all[entityID]
	return ok
}

// Get returns the current record for an entity, if tracked.
func (s *Session) Get(entityID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.all[entityID]
	return rec, ok
}

// Snapshot returns the full registry payload: all tracked batteries,
// the low subset, and the active threshold. Slice order is arbitrary.
func (s *Session) Snapshot() SnapshotPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SnapshotPayload{
		AllBatteries: recordsOf(s.all),
		LowBatteries: recordsOf(s.low),
		Threshold:    s.threshold,
	}
}

// Counts returns the sizes of the all and low maps.
func (s *Session) Counts() (all, low int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all), len(s.low)
}

// Subscribe adds a subscriber under the given subscription id and
// returns an unsubscribe function that removes exactly that pair.
// Callers are responsible for not registering the same pair twice.
func (s *Session) Subscribe(sub Subscriber, subscriptionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	entry := subscription{sub: sub, id: subscriptionID}
	s.subscribers = append(s.subscribers, entry)
	s.logger.Debug("subscriber added", "subscription_id", subscriptionID, "subscribers", len(s.subscribers))

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeSubscriberLocked(entry)
	}, nil
}

// removeSubscriberLocked removes one exact (subscriber, id) pair.
// Caller must hold s.mu.
func (s *Session) removeSubscriberLocked(entry subscription) {
	for i, existing := range s.subscribers {
		if existing == entry {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// AddCleanup registers a callback to run exactly once at teardown.
// If the session is already torn down, the callback runs immediately so
// host-bus listeners registered late are not leaked.
func (s *Session) AddCleanup(fn func()) {
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.cleanups = append(s.cleanups, fn)
	}
	s.mu.Unlock()

	if closed {
		fn()
	}
}

// Teardown runs and clears all registered cleanup callbacks exactly
// once, invalidates all subscriber bindings, and discards tracked
// state. It returns the number of cleanup callbacks that ran.
//
// The cleanup list is drained under the lock before any callback runs,
// so a concurrent unsubscribe can neither double-invoke a callback nor
// leak one.
func (s *Session) Teardown() int {
	s.mu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.subscribers = nil
	s.all = make(map[string]Record)
	s.low = make(map[string]Record)
	s.closed = true
	s.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
	return len(cleanups)
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordsOf copies a record map into a slice. Order is arbitrary.
func recordsOf(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out
}
