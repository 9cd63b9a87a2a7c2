// Package mqtt provides MQTT client connectivity for the retained-topic
// maintenance tooling.
//
// This package manages:
//   - Connection to an MQTT broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Retained-topic scanning and deletion
//
// # Architecture
//
// Home Assistant's MQTT discovery mechanism leaves retained config
// topics on the broker after devices are removed. The cleanup tool uses
// this package to scan the broker's retained tree and clear stale
// entries by publishing zero-length retained tombstones.
//
//	cmd/mqtt-cleanup → mqtt.Client ↔ Broker (Mosquitto)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics, err := client.ScanRetained(ctx, 2*time.Second, 20*time.Second)
//	targets := mqtt.FilterTopics(topics, []string{mqtt.DefaultCleanupPrefix}, false)
//	for _, topic := range targets {
//	    client.ClearRetained(topic)
//	}
package mqtt
