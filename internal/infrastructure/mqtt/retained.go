package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScanRetained subscribes to the broker's full topic tree and collects
// every retained message, keyed by topic with its payload.
//
// The broker delivers all retained messages immediately on subscribe,
// so the scan ends after inactivityTimeout passes with no new message.
// maxScan bounds the total scan duration on busy brokers where live
// traffic keeps resetting the inactivity window.
//
// Parameters:
//   - ctx: Context for cancellation
//   - inactivityTimeout: Quiet period that ends the scan
//   - maxScan: Hard limit on total scan duration
//
// Returns:
//   - map[string]string: Retained topics and their payloads
//   - error: If the wildcard subscription fails
func (c *Client) ScanRetained(ctx context.Context, inactivityTimeout, maxScan time.Duration) (map[string]string, error) {
	var (
		mu           sync.Mutex
		topics       = make(map[string]string)
		lastActivity = time.Now()
	)

	err := c.Subscribe("#", 0, func(topic string, payload []byte, retained bool) error {
		mu.Lock()
		defer mu.Unlock()
		lastActivity = time.Now()
		if retained {
			topics[topic] = string(payload)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning retained topics: %w", err)
	}
	defer c.Unsubscribe("#") //nolint:errcheck // Best-effort cleanup; scan results already collected

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(maxScan)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case now := <-ticker.C:
			mu.Lock()
			quiet := now.Sub(lastActivity) >= inactivityTimeout
			mu.Unlock()
			if quiet || now.After(deadline) {
				mu.Lock()
				out := make(map[string]string, len(topics))
				for k, v := range topics {
					out[k] = v
				}
				mu.Unlock()
				return out, nil
			}
		}
	}
}
