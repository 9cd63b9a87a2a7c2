package battery

import (
	"testing"
)

func batterySnap(entityID, state string, attrs map[string]any) *StateSnapshot {
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs[AttrDeviceClass] = DeviceClassBattery
	return &StateSnapshot{
		EntityID:   entityID,
		State:      state,
		Attributes: attrs,
	}
}

func TestIsBatterySnapshot(t *testing.T) {
	tests := []struct {
		name string
		snap *StateSnapshot
		want bool
	}{
		{
			name: "battery device class",
			snap: batterySnap("sensor.door_battery", "80", nil),
			want: true,
		},
		{
			name: "other device class",
			snap: &StateSnapshot{
				EntityID:   "sensor.outdoor_temp",
				State:      "21.5",
				Attributes: map[string]any{AttrDeviceClass: "temperature"},
			},
			want: false,
		},
		{
			name: "no device class",
			snap: &StateSnapshot{EntityID: "light.hall", State: "on"},
			want: false,
		},
		{
			name: "nil snapshot",
			snap: nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBatterySnapshot(tt.snap); got != tt.want {
				t.Errorf("IsBatterySnapshot() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		snap      *StateSnapshot
		wantLevel float64
		wantOK    bool
	}{
		{
			name:      "numeric state",
			snap:      batterySnap("sensor.door_battery", "87", nil),
			wantLevel: 87,
			wantOK:    true,
		},
		{
			name:      "numeric state with fraction",
			snap:      batterySnap("sensor.door_battery", "12.5", nil),
			wantLevel: 12.5,
			wantOK:    true,
		},
		{
			name:      "numeric state with whitespace",
			snap:      batterySnap("sensor.door_battery", " 42 ", nil),
			wantLevel: 42,
			wantOK:    true,
		},
		{
			name:   "unavailable state short-circuits before attributes",
			snap:   batterySnap("sensor.door_battery", StateUnavailable, map[string]any{AttrBattery: 55.0}),
			wantOK: false,
		},
		{
			name:   "unknown state short-circuits before attributes",
			snap:   batterySnap("sensor.door_battery", StateUnknown, map[string]any{AttrBattery: 55.0}),
			wantOK: false,
		},
		{
			name:      "non-numeric state falls back to battery attribute",
			snap:      batterySnap("sensor.lock_battery", "locked", map[string]any{AttrBattery: 55.0}),
			wantLevel: 55,
			wantOK:    true,
		},
		{
			name:      "battery attribute as string",
			snap:      batterySnap("sensor.lock_battery", "locked", map[string]any{AttrBattery: "73"}),
			wantLevel: 73,
			wantOK:    true,
		},
		{
			name:      "battery attribute as int",
			snap:      batterySnap("sensor.lock_battery", "locked", map[string]any{AttrBattery: 31}),
			wantLevel: 31,
			wantOK:    true,
		},
		{
			name:   "battery attribute not numeric",
			snap:   batterySnap("sensor.lock_battery", "locked", map[string]any{AttrBattery: "full"}),
			wantOK: false,
		},
		{
			name:   "no numeric level anywhere",
			snap:   batterySnap("sensor.lock_battery", "locked", nil),
			wantOK: false,
		},
		{
			name: "not a battery entity",
			snap: &StateSnapshot{
				EntityID:   "sensor.outdoor_temp",
				State:      "21.5",
				Attributes: map[string]any{AttrDeviceClass: "temperature"},
			},
			wantOK: false,
		},
		{
			name:      "out of range level passes through unclamped",
			snap:      batterySnap("sensor.weird_battery", "150", nil),
			wantLevel: 150,
			wantOK:    true,
		},
		{
			name:      "negative level passes through unclamped",
			snap:      batterySnap("sensor.weird_battery", "-5", nil),
			wantLevel: -5,
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok := Classify(tt.snap)
			if ok != tt.wantOK {
				t.Fatalf("Classify() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && level != tt.wantLevel {
				t.Errorf("Classify() level = %v, want %v", level, tt.wantLevel)
			}
		})
	}
}

func TestSnapshotFriendlyNameFallback(t *testing.T) {
	snap := batterySnap("sensor.door_battery", "80", nil)
	if got := snap.FriendlyName(); got != "sensor.door_battery" {
		t.Errorf("FriendlyName() without attribute = %q, want entity id fallback", got)
	}

	snap = batterySnap("sensor.door_battery", "80", map[string]any{AttrFriendlyName: "Front Door Battery"})
	if got := snap.FriendlyName(); got != "Front Door Battery" {
		t.Errorf("FriendlyName() = %q, want %q", got, "Front Door Battery")
	}
}
