package mqtt

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultCleanupPrefix is the topic prefix targeted by the retained
// cleanup tool when no explicit prefixes are given. Home Assistant's
// MQTT discovery tree accumulates retained config topics for devices
// that no longer exist.
const DefaultCleanupPrefix = "homeassistant/"

// FilterTopics selects the topics to act on from a retained-topic scan.
//
// When allRetained is true every scanned topic is returned; otherwise
// only topics matching one of the given prefixes. The result is sorted
// for stable output.
func FilterTopics(topics map[string]string, prefixes []string, allRetained bool) []string {
	out := make([]string, 0, len(topics))
	for topic := range topics {
		if allRetained || hasAnyPrefix(topic, prefixes) {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

func hasAnyPrefix(topic string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// DiscoveryInfo is the subset of a Home Assistant MQTT discovery config
// payload that identifies what a retained topic belongs to.
type DiscoveryInfo struct {
	EntityName   string
	Manufacturer string
	Model        string
}

// Device returns a display string for the device, combining manufacturer
// and model when present.
func (d DiscoveryInfo) Device() string {
	parts := make([]string, 0, 2)
	if d.Manufacturer != "" {
		parts = append(parts, d.Manufacturer)
	}
	if d.Model != "" {
		parts = append(parts, d.Model)
	}
	return strings.Join(parts, " ")
}

// ParseDiscoveryInfo extracts identifying fields from a retained payload.
// Non-JSON or unexpected payloads yield an empty DiscoveryInfo; the
// cleanup tool only uses this for display.
func ParseDiscoveryInfo(payload string) DiscoveryInfo {
	var info DiscoveryInfo
	if payload == "" {
		return info
	}

	var data struct {
		Name   string `json:"name"`
		Device struct {
			Name         string `json:"name"`
			Manufacturer string `json:"manufacturer"`
			Model        string `json:"model"`
		} `json:"device"`
	}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return info
	}

	info.EntityName = data.Name
	if info.EntityName == "" {
		info.EntityName = data.Device.Name
	}
	info.Manufacturer = data.Device.Manufacturer
	info.Model = data.Device.Model
	return info
}
