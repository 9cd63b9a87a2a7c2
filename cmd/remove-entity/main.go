// remove-entity deletes a Home Assistant entity via the REST API.
//
// It runs from any machine with API access, even when the recorder
// database lives on the Home Assistant host. Removal has three steps:
//
//  1. recorder.purge_entities service call to purge recorder data
//  2. entity registry delete endpoint (best effort)
//  3. DELETE /api/states/<entity_id> to clear runtime state
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHAURL = "http://homeassistant:8123"

	// tokenFile is consulted when HA_TOKEN is not set.
	tokenFile = ".config/ha_token"

	requestTimeout = 30 * time.Second
)

// registryDeletePaths are the candidate REST endpoints for entity
// registry removal; availability varies across Home Assistant versions.
var registryDeletePaths = []string{
	"/api/config/entity_registry/entity/%s",
	"/api/config/entity_registry/entry/%s",
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	haURL := flag.String("ha-url", envOrDefault("HA_URL", defaultHAURL), "Home Assistant base URL")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: remove-entity [flags] <entity_id>")
	}
	entityID := strings.TrimSpace(flag.Arg(0))
	if entityID == "" {
		return fmt.Errorf("entity_id cannot be empty")
	}

	token, err := loadToken()
	if err != nil {
		return err
	}

	client := &apiClient{
		baseURL: strings.TrimRight(*haURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}

	exists, existsMessage, err := client.entityExists(ctx, entityID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("entity %q was not found (%s)", entityID, existsMessage)
	}

	fmt.Println("Planned API actions:")
	fmt.Println("  1) Purge recorder history/statistics via recorder.purge_entities")
	fmt.Println("  2) Remove entity registry entry (best effort)")
	fmt.Println("  3) Delete current runtime state via DELETE /api/states/<entity_id>")
	fmt.Println()
	fmt.Printf("Home Assistant URL: %s\n", client.baseURL)
	fmt.Printf("Entity ID:          %s\n", entityID)
	fmt.Printf("Entity check:       %s\n", existsMessage)
	fmt.Println()

	if !*yes {
		fmt.Print("Confirm deletion? Type 'Y' to continue: ")
		line, readErr := bufio.NewReader(os.Stdin).ReadString('\n')
		if readErr != nil {
			return fmt.Errorf("reading confirmation: %w", readErr)
		}
		if strings.ToLower(strings.TrimSpace(line)) != "y" {
			fmt.Println("Aborted. No changes made.")
			return nil
		}
	}

	failures := 0

	// 1) Recorder purge
	purgePayload := map[string]any{"entity_id": []string{entityID}, "keep_days": 0}
	status, body, err := client.request(ctx, http.MethodPost, "/api/services/recorder/purge_entities", purgePayload)
	switch {
	case err != nil:
		return err
	case status == http.StatusOK:
		fmt.Println("✓ Recorder purge request sent successfully.")
	default:
		failures++
		fmt.Printf("✗ Recorder purge failed (%d): %s\n", status, body)
	}

	// 2) Entity registry (best effort)
	registryOK, registryMsg, err := client.deleteRegistryEntry(ctx, entityID)
	if err != nil {
		return err
	}
	if registryOK {
		fmt.Printf("✓ %s\n", registryMsg)
	} else {
		fmt.Printf("⚠ %s\n", registryMsg)
	}

	// 3) Runtime state
	status, body, err = client.request(ctx, http.MethodDelete, "/api/states/"+url.PathEscape(entityID), nil)
	switch {
	case err != nil:
		return err
	case status == http.StatusOK || status == http.StatusCreated:
		fmt.Println("✓ Runtime state deleted.")
	case status == http.StatusNotFound:
		fmt.Println("✓ Runtime state already absent.")
	default:
		failures++
		fmt.Printf("✗ Runtime state delete failed (%d): %s\n", status, body)
	}

	if failures > 0 {
		return fmt.Errorf("completed with %d error(s), see messages above", failures)
	}

	fmt.Println("\nCompleted successfully.")
	return nil
}

// apiClient is a minimal authenticated Home Assistant REST client.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// request performs one API call and returns the status code and body.
// HTTP error statuses are returned for the caller to interpret, not
// treated as Go errors; only transport failures error out.
func (c *apiClient) request(ctx context.Context, method, path string, payload any) (int, string, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, "", fmt.Errorf("encoding payload for %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, "", fmt.Errorf("building request for %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed for %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best-effort close after full read

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("reading response for %s %s: %w", method, path, err)
	}
	return resp.StatusCode, string(data), nil
}

// entityExists checks the state machine first, then falls back to the
// entity registry for entities with no current state.
func (c *apiClient) entityExists(ctx context.Context, entityID string) (bool, string, error) {
	quoted := url.PathEscape(entityID)

	status, body, err := c.request(ctx, http.MethodGet, "/api/states/"+quoted, nil)
	if err != nil {
		return false, "", err
	}
	if status == http.StatusOK {
		return true, "found in state machine", nil
	}
	if status != http.StatusNotFound {
		return false, fmt.Sprintf("state lookup failed (%d): %s", status, body), nil
	}

	for _, pattern := range registryDeletePaths {
		path := fmt.Sprintf(pattern, quoted)
		status, body, err := c.request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return false, "", err
		}
		if status == http.StatusOK {
			return true, "found in entity registry via " + path, nil
		}
		if status == http.StatusNotFound {
			continue
		}
		return false, fmt.Sprintf("entity registry lookup failed (%d) via %s: %s", status, path, body), nil
	}

	return false, "not found in state machine or entity registry", nil
}

// deleteRegistryEntry tries each candidate registry endpoint in turn.
func (c *apiClient) deleteRegistryEntry(ctx context.Context, entityID string) (bool, string, error) {
	quoted := url.PathEscape(entityID)

	for _, pattern := range registryDeletePaths {
		path := fmt.Sprintf(pattern, quoted)
		status, body, err := c.request(ctx, http.MethodDelete, path, nil)
		if err != nil {
			return false, "", err
		}
		if status == http.StatusOK || status == http.StatusNoContent {
			return true, "Removed entity registry entry via " + path, nil
		}
		if status == http.StatusNotFound {
			continue
		}
		return false, fmt.Sprintf("Registry delete failed (%d) via %s: %s", status, path, body), nil
	}

	return false, "No REST entity registry delete endpoint was available on this HA instance", nil
}

// loadToken resolves the API token from the HA_TOKEN environment
// variable, falling back to ~/.config/ha_token.
func loadToken() (string, error) {
	if token := strings.TrimSpace(os.Getenv("HA_TOKEN")); token != "" {
		return token, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, tokenFile)
		if data, readErr := os.ReadFile(path); readErr == nil {
			if token := strings.TrimSpace(string(data)); token != "" {
				return token, nil
			}
		}
	}

	return "", fmt.Errorf("no token found: set HA_TOKEN or create ~/%s", tokenFile)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
