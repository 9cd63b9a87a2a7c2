package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/declanshanaghy/heimdall-battery-sentinel/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	logger := New(config.LoggingConfig{
		Level:  "warn",
		Format: "json",
		Output: "stdout",
	}, "test")

	ctx := context.Background()
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled with level=warn")
	}
	if !logger.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn not enabled with level=warn")
	}
	if !logger.Enabled(ctx, slog.LevelError) {
		t.Error("error not enabled with level=warn")
	}
}

func TestWithReturnsNewLogger(t *testing.T) {
	logger := Default()
	child := logger.With("component", "test")

	if child == nil {
		t.Fatal("With returned nil")
	}
	if child == logger {
		t.Error("With returned the same logger instance")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default returned nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default logger should log at info level")
	}
}
