package battery

import (
	"fmt"
	"strconv"
	"strings"
)

// IsBatterySnapshot reports whether a snapshot belongs to the battery
// domain. Membership is decided solely by the device-class attribute;
// entities failing this test are never tracked, regardless of any other
// attribute.
func IsBatterySnapshot(s *StateSnapshot) bool {
	return s != nil && s.DeviceClass() == DeviceClassBattery
}

// Classify extracts a numeric charge level from a battery snapshot.
//
// The level comes from the raw state string when it parses as a float,
// otherwise from the `battery` attribute. Sentinel states (unavailable,
// unknown) short-circuit to not-trackable without attribute inspection.
// No range validation is applied; levels outside 0-100 pass through.
//
// Returns ok=false when the snapshot is not a battery entity, its state
// is a sentinel, or no numeric level can be extracted.
func Classify(s *StateSnapshot) (float64, bool) {
	if !IsBatterySnapshot(s) {
		return 0, false
	}
	if s.State == StateUnavailable || s.State == StateUnknown {
		return 0, false
	}
	if level, err := strconv.ParseFloat(strings.TrimSpace(s.State), 64); err == nil {
		return level, true
	}
	if attr, ok := s.Attributes[AttrBattery]; ok {
		if level, ok := parseLevel(attr); ok {
			return level, true
		}
	}
	return 0, false
}

// parseLevel converts an attribute value to a float64 level.
// Host attribute maps decoded from JSON carry numbers as float64, but
// templated sensors can report strings, so both are accepted.
func parseLevel(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		level, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return level, true
	default:
		// Fall back through string formatting for oddball numeric types
		// (json.Number, etc.).
		level, err := strconv.ParseFloat(fmt.Sprint(val), 64)
		if err != nil {
			return 0, false
		}
		return level, true
	}
}
