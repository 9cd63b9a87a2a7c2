package battery

// Platform sentinel state values. Entities reporting these are not
// trackable regardless of their attributes.
const (
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// DeviceClassBattery is the device-class attribute value that marks an
// entity as a battery sensor.
const DeviceClassBattery = "battery"

// Well-known attribute names on entity snapshots.
const (
	AttrDeviceClass  = "device_class"
	AttrFriendlyName = "friendly_name"
	AttrBattery      = "battery"
	AttrUnit         = "unit_of_measurement"
)

// StateSnapshot is a read-only view of an entity's state and attributes
// at one point in time, as reported by the host platform.
type StateSnapshot struct {
	EntityID    string
	State       string
	Attributes  map[string]any
	LastChanged string
	LastUpdated string
}

// DeviceClass returns the snapshot's device-class attribute, or "" if absent.
func (s *StateSnapshot) DeviceClass() string {
	v, _ := s.Attributes[AttrDeviceClass].(string)
	return v
}

// FriendlyName returns the snapshot's friendly name, falling back to the
// entity id when the attribute is absent.
func (s *StateSnapshot) FriendlyName() string {
	if v, ok := s.Attributes[AttrFriendlyName].(string); ok && v != "" {
		return v
	}
	return s.EntityID
}

// Unit returns the snapshot's unit of measurement, or "" if absent.
func (s *StateSnapshot) Unit() string {
	v, _ := s.Attributes[AttrUnit].(string)
	return v
}

// Record is one tracked battery entity.
//
// Records are compared by value to detect real changes; all fields are
// comparable so plain == works.
type Record struct {
	EntityID     string  `json:"entity_id"`
	BatteryLevel float64 `json:"battery_level"`
	FriendlyName string  `json:"friendly_name"`
	StateValue   string  `json:"state_value"`
	Unit         string  `json:"unit"`
	IsLow        bool    `json:"is_low"`
	LastChanged  string  `json:"last_changed"`
	LastUpdated  string  `json:"last_updated"`
}

// Reason identifies why a registry change notification fired.
type Reason string

// Notification reasons, one per evaluation transition path.
const (
	ReasonStateUpdate          Reason = "state_update"
	ReasonRemovedOrNotBattery  Reason = "removed_or_not_battery"
	ReasonEntityRemoved        Reason = "entity_removed"
	ReasonEntityUpdatedNotBatt Reason = "entity_updated_not_battery"
	ReasonStateUnavailable     Reason = "state_unavailable_or_unknown"
	ReasonNonNumericBattery    Reason = "non_numeric_battery"
)

// SnapshotPayload is the full registry snapshot returned by query handlers.
type SnapshotPayload struct {
	AllBatteries []Record `json:"all_batteries"`
	LowBatteries []Record `json:"low_batteries"`
	Threshold    int      `json:"threshold"`
}

// UpdatePayload is pushed to subscribers on every state-affecting change.
// It always carries the entire current snapshot, not a delta.
type UpdatePayload struct {
	AllBatteries []Record `json:"all_batteries"`
	LowBatteries []Record `json:"low_batteries"`
	Threshold    int      `json:"threshold"`
	Reason       Reason   `json:"reason"`
	EntityID     string   `json:"entity_id"`
}

// RegistryAction is the kind of entity-registry change reported by the host.
type RegistryAction string

// Entity-registry actions.
const (
	RegistryActionCreate RegistryAction = "create"
	RegistryActionUpdate RegistryAction = "update"
	RegistryActionRemove RegistryAction = "remove"
)

// StateSource provides read access to the host platform's entity states.
//
// Implementations must be safe for concurrent use. The core treats the
// source as authoritative; it never caches entity states itself beyond
// the tracked battery records.
type StateSource interface {
	// GetState returns the current snapshot for an entity, or ok=false
	// if the entity is absent from the host state machine.
	GetState(entityID string) (*StateSnapshot, bool)

	// AllStates returns a snapshot of every entity known to the host.
	AllStates() []StateSnapshot
}

// EventBus delivers host state-change and entity-registry notifications.
//
// Both methods return an unsubscribe function that stops delivery when
// called. Callbacks for a single entity are invoked in arrival order.
type EventBus interface {
	OnStateChanged(fn func(entityID string, oldState, newState *StateSnapshot)) (func(), error)
	OnRegistryUpdated(fn func(action RegistryAction, entityID string)) (func(), error)
}

// Subscriber receives update payloads from a session's notifier.
//
// SendEvent must not block: implementations should hand the payload to a
// buffered queue and return immediately. A non-nil error marks the
// subscriber stale; it is pruned after the current fan-out pass.
type Subscriber interface {
	SendEvent(payload UpdatePayload) error
}

// Logger defines the logging interface used by the battery core.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
