// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Sampling cadence bounds.
const (
	MinSampleInterval = time.Second
	MaxSampleInterval = 2 * time.Second
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	LogLevel     slog.Level
	AuthTokenTTL time.Duration

	Capture      CaptureConfig
	Classifier   ClassifierConfig
	InterviewAPI InterviewAPIConfig
}

// CaptureConfig controls the capture loop.
type CaptureConfig struct {
	SessionTTL     time.Duration
	ReaperInterval time.Duration
	SampleInterval time.Duration
	AcquireTimeout time.Duration
	MaxFrameBytes  int64
}

// ClassifierConfig locates the emotion classifier.
type ClassifierConfig struct {
	URL           string
	Timeout       time.Duration
	GRPCAddr      string // optional gRPC health endpoint
	HealthService string
	// Image, when set, runs the classifier as a managed container.
	Image         string
	ContainerName string
	Network       string
	Port          int
	Runtime       string // Docker runtime: "" = default (runc), "runsc" = gVisor
}

// InterviewAPIConfig points submissions at an external backend. When URL
// is empty interviews are stored locally.
type InterviewAPIConfig struct {
	URL     string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/interviews.db"),
		LogLevel:     getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		AuthTokenTTL: getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		Capture: CaptureConfig{
			SessionTTL:     getEnvDuration("CAPTURE_SESSION_TTL", 2*time.Minute),
			ReaperInterval: getEnvDuration("CAPTURE_REAPER_INTERVAL", 30*time.Second),
			SampleInterval: getEnvDuration("SAMPLE_INTERVAL", 2*time.Second),
			AcquireTimeout: getEnvDuration("ACQUIRE_TIMEOUT", 15*time.Second),
			MaxFrameBytes:  int64(getEnvInt("MAX_FRAME_BYTES", 2<<20)),
		},
		Classifier: ClassifierConfig{
			URL:           getEnv("CLASSIFIER_URL", "http://127.0.0.1:8000"),
			Timeout:       getEnvDuration("CLASSIFIER_TIMEOUT", 5*time.Second),
			GRPCAddr:      getEnv("CLASSIFIER_GRPC_ADDR", ""),
			HealthService: getEnv("CLASSIFIER_HEALTH_SERVICE", ""),
			Image:         getEnv("CLASSIFIER_IMAGE", ""),
			ContainerName: getEnv("CLASSIFIER_CONTAINER_NAME", "emotion-classifier"),
			Network:       getEnv("CLASSIFIER_NETWORK", "interview-coach"),
			Port:          getEnvInt("CLASSIFIER_PORT", 8000),
			Runtime:       getEnv("CONTAINER_RUNTIME", ""),
		},
		InterviewAPI: InterviewAPIConfig{
			URL:     getEnv("INTERVIEW_API_URL", ""),
			Timeout: getEnvDuration("INTERVIEW_API_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be > 0")
	}
	if c.Capture.SampleInterval < MinSampleInterval || c.Capture.SampleInterval > MaxSampleInterval {
		return fmt.Errorf("SAMPLE_INTERVAL must be between %s and %s, got %s",
			MinSampleInterval, MaxSampleInterval, c.Capture.SampleInterval)
	}
	if c.Capture.SessionTTL <= 0 || c.Capture.ReaperInterval <= 0 {
		return fmt.Errorf("CAPTURE_SESSION_TTL and CAPTURE_REAPER_INTERVAL must be > 0")
	}
	if c.Capture.AcquireTimeout <= 0 {
		return fmt.Errorf("ACQUIRE_TIMEOUT must be > 0")
	}
	if c.Capture.MaxFrameBytes <= 0 {
		return fmt.Errorf("MAX_FRAME_BYTES must be > 0")
	}
	if c.Classifier.Image == "" && c.Classifier.URL == "" {
		return fmt.Errorf("CLASSIFIER_URL cannot be empty")
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be > 0")
	}
	if c.Classifier.Image != "" && (c.Classifier.Port <= 0 || c.Classifier.ContainerName == "") {
		return fmt.Errorf("CLASSIFIER_PORT and CLASSIFIER_CONTAINER_NAME are required with CLASSIFIER_IMAGE")
	}
	if c.InterviewAPI.URL != "" && c.InterviewAPI.Timeout <= 0 {
		return fmt.Errorf("INTERVIEW_API_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return lvl
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
