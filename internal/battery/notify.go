package battery

// Notify pushes the current registry snapshot to every live subscriber.
//
// When the session has no subscribers this is a no-op; the payload is
// never built for nobody. Delivery is fire-and-forget per subscriber: a
// failed send marks that subscriber stale without aborting delivery to
// the rest, and all stale subscribers are removed in one batch after
// the fan-out pass so the list is never mutated mid-iteration.
//
// The payload is assembled inside the registry critical section so it
// reflects exactly the state the triggering event produced; the sends
// themselves happen outside the lock and must not block (see
// Subscriber).
func (s *Session) Notify(reason Reason, entityID string) {
	s.mu.Lock()
	if len(s.subscribers) == 0 {
		s.mu.Unlock()
		return
	}

	payload := UpdatePayload{
		AllBatteries: recordsOf(s.all),
		LowBatteries: recordsOf(s.low),
		Threshold:    s.threshold,
		Reason:       reason,
		EntityID:     entityID,
	}
	targets := make([]subscription, len(s.subscribers))
	copy(targets, s.subscribers)
	s.mu.Unlock()

	var stale []subscription
	for _, target := range targets {
		if err := target.sub.SendEvent(payload); err != nil {
			s.log().Debug("subscriber delivery failed, marking stale",
				"subscription_id", target.id,
				"error", err,
			)
			stale = append(stale, target)
		}
	}

	if len(stale) == 0 {
		return
	}

	s.mu.Lock()
	for _, entry := range stale {
		s.removeSubscriberLocked(entry)
	}
	remaining := len(s.subscribers)
	s.mu.Unlock()

	s.log().Info("pruned stale subscribers", "stale", len(stale), "remaining", remaining)
}
