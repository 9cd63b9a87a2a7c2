// mqtt-cleanup removes stale retained topics from an MQTT broker.
//
// Home Assistant's MQTT discovery leaves retained config topics behind
// when devices are removed; this tool scans the broker's retained tree,
// shows what matched the selected scope, and deletes entries by
// publishing zero-length retained tombstones.
//
// By default it is a dry run; pass --execute to delete. Each deletion
// is confirmed interactively unless --yes is given.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/config"
	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/mqtt"
)

const (
	defaultHost = "mqtt"
	defaultPort = 1883
	defaultUser = "mqtt"

	// passwordFile is consulted when HA_MQTT_PASSWD is not set.
	passwordFile = ".config/ha_mqtt_passwd"
)

// stringList collects repeatable --prefix flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		host        = flag.String("host", defaultHost, "broker hostname")
		port        = flag.Int("port", defaultPort, "broker port")
		user        = flag.String("user", defaultUser, "broker username")
		allRetained = flag.Bool("all-retained", false, "target all retained topics on the broker")
		timeout     = flag.Duration("timeout", 2*time.Second, "inactivity timeout while scanning retained topics")
		maxScan     = flag.Duration("max-scan-seconds", 20*time.Second, "hard limit for topic scan duration")
		execute     = flag.Bool("execute", false, "actually delete retained topics (default is dry run)")
		yes         = flag.Bool("yes", false, "skip per-topic confirmation prompts")
		prefixes    stringList
	)
	flag.Var(&prefixes, "prefix", "topic prefix to clean (repeatable), e.g. --prefix zigbee2mqtt/")
	flag.Parse()

	if !*allRetained && len(prefixes) == 0 {
		prefixes = stringList{mqtt.DefaultCleanupPrefix}
	}

	password, err := loadPassword()
	if err != nil {
		return err
	}

	client, err := mqtt.Connect(config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     *host,
			Port:     *port,
			ClientID: "heimdall-mqtt-cleanup",
		},
		Auth: config.MQTTAuthConfig{
			Username: *user,
			Password: password,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     10,
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer client.Close() //nolint:errcheck // Best-effort disconnect on exit

	fmt.Printf("Scanning retained topics from %s@%s:%d ...\n", *user, *host, *port)
	topics, err := client.ScanRetained(ctx, *timeout, *maxScan)
	if err != nil {
		return fmt.Errorf("scanning retained topics: %w", err)
	}
	fmt.Printf("Found %d retained topic(s) total.\n", len(topics))

	targets := mqtt.FilterTopics(topics, prefixes, *allRetained)
	if len(targets) == 0 {
		fmt.Println("No retained topics matched the selected scope. Nothing to do.")
		return nil
	}

	fmt.Printf("\nTarget retained topic(s): %d\n", len(targets))
	if *allRetained {
		fmt.Println("Scope: ALL retained topics")
	} else {
		fmt.Println("Scope prefixes:")
		for _, prefix := range prefixes {
			fmt.Printf("  - %s\n", prefix)
		}
	}
	fmt.Println()
	printEntitiesTable(targets, topics)

	if !*execute {
		fmt.Println("\nDry run only. Re-run with --execute to delete these retained topics.")
		return nil
	}

	deleted, err := deleteTopics(ctx, client, targets, topics, *yes)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d retained topic(s).\n", deleted)
	return nil
}

// loadPassword resolves the broker password from the HA_MQTT_PASSWD
// environment variable, falling back to ~/.config/ha_mqtt_passwd.
func loadPassword() (string, error) {
	if password := strings.TrimSpace(os.Getenv("HA_MQTT_PASSWD")); password != "" {
		return password, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, passwordFile)
		if data, readErr := os.ReadFile(path); readErr == nil {
			if password := strings.TrimSpace(string(data)); password != "" {
				return password, nil
			}
		}
	}

	return "", fmt.Errorf("MQTT password not found: set HA_MQTT_PASSWD or create ~/%s", passwordFile)
}

// deleteTopics clears each target topic, prompting before each deletion
// unless skipConfirm is set.
func deleteTopics(ctx context.Context, client *mqtt.Client, targets []string, topics map[string]string, skipConfirm bool) (int, error) {
	reader := bufio.NewReader(os.Stdin)
	deleted := 0

	for i, topic := range targets {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		info := mqtt.ParseDiscoveryInfo(topics[topic])
		fmt.Printf("\n[%d/%d] Ready to delete retained topic:\n", i+1, len(targets))
		fmt.Printf("  topic: %s\n", topic)
		fmt.Printf("  entity name: %s\n", orUnknown(info.EntityName))
		fmt.Printf("  device: %s\n", orUnknown(info.Device()))

		if !skipConfirm {
			fmt.Print("Delete this topic? [y/N]: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return deleted, fmt.Errorf("reading confirmation: %w", err)
			}
			if strings.ToLower(strings.TrimSpace(line)) != "y" {
				fmt.Println("  Skipped.")
				continue
			}
		}

		if err := client.ClearRetained(topic); err != nil {
			return deleted, fmt.Errorf("deleting retained topic %q: %w", topic, err)
		}
		deleted++
		fmt.Println("  Deleted.")
	}

	return deleted, nil
}

// printEntitiesTable renders the matched topics with the entity and
// device names parsed from their discovery payloads.
func printEntitiesTable(targets []string, topics map[string]string) {
	headers := []string{"topic", "entity name", "device"}
	rows := make([][]string, 0, len(targets)+1)
	rows = append(rows, headers)
	for _, topic := range targets {
		info := mqtt.ParseDiscoveryInfo(topics[topic])
		rows = append(rows, []string{topic, info.EntityName, info.Device()})
	}

	widths := make([]int, len(headers))
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	formatRow := func(row []string) string {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		return "| " + strings.Join(cells, " | ") + " |"
	}

	dividers := make([]string, len(widths))
	for i, w := range widths {
		dividers[i] = strings.Repeat("-", w)
	}

	fmt.Println("Entities:")
	fmt.Println(formatRow(headers))
	fmt.Println("|-" + strings.Join(dividers, "-|-") + "-|")
	for _, row := range rows[1:] {
		fmt.Println(formatRow(row))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
