package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBucket is the bucket for rehosted output images when BUCKET_NAME is unset.
const DefaultBucket = "comfyui-outputs"

// networkVolumePath is the mount point used on rented GPU hosts.
const networkVolumePath = "/runpod-volume"

// Config holds all configuration values.
type Config struct {
	// ComfyUI backend
	ComfyAPIURL string `yaml:"comfy_api_url"`
	ComfyWSURL  string `yaml:"comfy_ws_url"`

	// Comfy.org API key for paid API nodes (optional)
	ComfyOrgAPIKey string `yaml:"comfyorg_api_key"`

	// Model storage
	ModelsPath string `yaml:"models_path"`

	// Job defaults
	JobTimeout    time.Duration `yaml:"job_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ProbeAttempts int           `yaml:"probe_attempts"`
	ProbeDelay    time.Duration `yaml:"probe_delay"`

	// S3-compatible output storage (optional)
	BucketEndpointURL     string `yaml:"bucket_endpoint_url"`
	BucketAccessKeyID     string `yaml:"bucket_access_key_id"`
	BucketSecretAccessKey string `yaml:"bucket_secret_access_key"`
	BucketName            string `yaml:"bucket_name"`

	// Server
	ServerPort string `yaml:"server_port"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables.
// Defaults match the current worker deployments.
func Load() Config {
	apiURL := getEnv("COMFY_API_URL", "http://127.0.0.1:8188")

	return Config{
		ComfyAPIURL:    apiURL,
		ComfyWSURL:     getEnv("COMFY_WS_URL", DeriveWSURL(apiURL)),
		ComfyOrgAPIKey: os.Getenv("COMFYORG_API_KEY"),

		ModelsPath: resolveModelsPath(),

		JobTimeout:    getEnvDuration("COMFY_JOB_TIMEOUT", 600*time.Second),
		PollInterval:  getEnvDuration("COMFY_POLL_INTERVAL", 2*time.Second),
		ProbeAttempts: getEnvInt("COMFY_PROBE_ATTEMPTS", 50),
		ProbeDelay:    getEnvDuration("COMFY_PROBE_DELAY", 50*time.Millisecond),

		BucketEndpointURL:     os.Getenv("BUCKET_ENDPOINT_URL"),
		BucketAccessKeyID:     os.Getenv("BUCKET_ACCESS_KEY_ID"),
		BucketSecretAccessKey: os.Getenv("BUCKET_SECRET_ACCESS_KEY"),
		BucketName:            getEnv("BUCKET_NAME", DefaultBucket),

		ServerPort: getEnv("COMFYRELAY_SERVER_PORT", "8384"),

		LogFile:  getEnv("COMFYRELAY_LOG_FILE", "/tmp/comfyrelay.log"),
		LogLevel: parseLogLevel(getEnv("COMFYRELAY_LOG_LEVEL", "INFO")),
	}
}

// LoadFile loads environment configuration and overlays values from a YAML
// file. File values win over environment values; zero values in the file are
// ignored.
func LoadFile(path string) (Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	cfg.merge(overlay)
	if overlay.ComfyAPIURL != "" && overlay.ComfyWSURL == "" {
		cfg.ComfyWSURL = DeriveWSURL(overlay.ComfyAPIURL)
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.ComfyAPIURL != "" {
		c.ComfyAPIURL = o.ComfyAPIURL
	}
	if o.ComfyWSURL != "" {
		c.ComfyWSURL = o.ComfyWSURL
	}
	if o.ComfyOrgAPIKey != "" {
		c.ComfyOrgAPIKey = o.ComfyOrgAPIKey
	}
	if o.ModelsPath != "" {
		c.ModelsPath = o.ModelsPath
	}
	if o.JobTimeout != 0 {
		c.JobTimeout = o.JobTimeout
	}
	if o.PollInterval != 0 {
		c.PollInterval = o.PollInterval
	}
	if o.ProbeAttempts != 0 {
		c.ProbeAttempts = o.ProbeAttempts
	}
	if o.ProbeDelay != 0 {
		c.ProbeDelay = o.ProbeDelay
	}
	if o.BucketEndpointURL != "" {
		c.BucketEndpointURL = o.BucketEndpointURL
	}
	if o.BucketAccessKeyID != "" {
		c.BucketAccessKeyID = o.BucketAccessKeyID
	}
	if o.BucketSecretAccessKey != "" {
		c.BucketSecretAccessKey = o.BucketSecretAccessKey
	}
	if o.BucketName != "" {
		c.BucketName = o.BucketName
	}
	if o.ServerPort != "" {
		c.ServerPort = o.ServerPort
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
}

// DeriveWSURL converts an HTTP backend URL into its websocket endpoint.
func DeriveWSURL(apiURL string) string {
	ws := strings.Replace(apiURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return ws + "/ws"
}

// resolveModelsPath prefers the network volume when mounted, falling back to
// MODELS_PATH or a local directory.
func resolveModelsPath() string {
	if _, err := os.Stat(networkVolumePath); err == nil {
		return networkVolumePath
	}
	return getEnv("MODELS_PATH", "./models")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are treated as seconds, matching the job payload.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
