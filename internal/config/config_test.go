package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"COMFY_API_URL", "COMFY_WS_URL", "COMFY_JOB_TIMEOUT", "COMFY_POLL_INTERVAL",
		"COMFY_PROBE_ATTEMPTS", "COMFY_PROBE_DELAY", "BUCKET_NAME",
		"COMFYRELAY_SERVER_PORT", "COMFYRELAY_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ComfyAPIURL != "http://127.0.0.1:8188" {
		t.Errorf("ComfyAPIURL = %q", cfg.ComfyAPIURL)
	}
	if cfg.ComfyWSURL != "ws://127.0.0.1:8188/ws" {
		t.Errorf("ComfyWSURL = %q", cfg.ComfyWSURL)
	}
	if cfg.JobTimeout != 600*time.Second {
		t.Errorf("JobTimeout = %v", cfg.JobTimeout)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.ProbeAttempts != 50 {
		t.Errorf("ProbeAttempts = %d", cfg.ProbeAttempts)
	}
	if cfg.ProbeDelay != 50*time.Millisecond {
		t.Errorf("ProbeDelay = %v", cfg.ProbeDelay)
	}
	if cfg.BucketName != DefaultBucket {
		t.Errorf("BucketName = %q", cfg.BucketName)
	}
	if cfg.ServerPort != "8384" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COMFY_API_URL", "https://comfy.example.com")
	t.Setenv("COMFY_WS_URL", "")
	t.Setenv("COMFY_JOB_TIMEOUT", "5m")
	t.Setenv("COMFY_POLL_INTERVAL", "3")
	t.Setenv("COMFY_PROBE_ATTEMPTS", "10")
	t.Setenv("BUCKET_ENDPOINT_URL", "https://s3.example.com")
	t.Setenv("BUCKET_ACCESS_KEY_ID", "key")
	t.Setenv("BUCKET_SECRET_ACCESS_KEY", "secret")
	t.Setenv("COMFYRELAY_LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.ComfyAPIURL != "https://comfy.example.com" {
		t.Errorf("ComfyAPIURL = %q", cfg.ComfyAPIURL)
	}
	if cfg.ComfyWSURL != "wss://comfy.example.com/ws" {
		t.Errorf("ComfyWSURL = %q, want derived wss url", cfg.ComfyWSURL)
	}
	if cfg.JobTimeout != 5*time.Minute {
		t.Errorf("JobTimeout = %v", cfg.JobTimeout)
	}
	// Bare numbers are seconds.
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.ProbeAttempts != 10 {
		t.Errorf("ProbeAttempts = %d", cfg.ProbeAttempts)
	}
	if cfg.BucketEndpointURL != "https://s3.example.com" {
		t.Errorf("BucketEndpointURL = %q", cfg.BucketEndpointURL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("COMFY_API_URL", "http://env-host:8188")
	t.Setenv("COMFY_JOB_TIMEOUT", "600")
	t.Setenv("BUCKET_NAME", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
comfy_api_url: http://file-host:9000
job_timeout: 2m
bucket_name: my-outputs
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.ComfyAPIURL != "http://file-host:9000" {
		t.Errorf("ComfyAPIURL = %q, file must win over env", cfg.ComfyAPIURL)
	}
	if cfg.ComfyWSURL != "ws://file-host:9000/ws" {
		t.Errorf("ComfyWSURL = %q, must be re-derived from the file url", cfg.ComfyWSURL)
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Errorf("JobTimeout = %v", cfg.JobTimeout)
	}
	if cfg.BucketName != "my-outputs" {
		t.Errorf("BucketName = %q", cfg.BucketName)
	}
	// Values absent from the file keep their environment defaults.
	if cfg.ServerPort != "8384" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8188", "ws://127.0.0.1:8188/ws"},
		{"https://comfy.example.com", "wss://comfy.example.com/ws"},
		{"http://host:1234", "ws://host:1234/ws"},
	}

	for _, tt := range tests {
		if got := DeriveWSURL(tt.in); got != tt.want {
			t.Errorf("DeriveWSURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"gibberish", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
