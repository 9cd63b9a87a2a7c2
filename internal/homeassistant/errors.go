package homeassistant

import "errors"

// Domain-specific errors for the Home Assistant client.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthFailed is returned when the host rejects the access token.
	ErrAuthFailed = errors.New("homeassistant: authentication failed")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("homeassistant: connection failed")

	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("homeassistant: client not connected")

	// ErrCommandFailed is returned when the host reports a failed command result.
	ErrCommandFailed = errors.New("homeassistant: command failed")

	// ErrInvalidURL is returned when the configured base URL cannot be parsed.
	ErrInvalidURL = errors.New("homeassistant: invalid base URL")
)
