package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "SAMPLE_INTERVAL", "CLASSIFIER_URL", "LOG_LEVEL", "INTERVIEW_API_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/interviews.db")
	t.Setenv("SAMPLE_INTERVAL", "2s")
	t.Setenv("CLASSIFIER_URL", "http://127.0.0.1:8000")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.SampleInterval != 2*time.Second {
		t.Errorf("SampleInterval = %s", cfg.Capture.SampleInterval)
	}
	if cfg.Capture.MaxFrameBytes != 2<<20 {
		t.Errorf("MaxFrameBytes = %d", cfg.Capture.MaxFrameBytes)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.InterviewAPI.URL != "" {
		t.Errorf("InterviewAPI.URL = %q", cfg.InterviewAPI.URL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SAMPLE_INTERVAL", "1500ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CLASSIFIER_TIMEOUT", "3s")
	t.Setenv("CLASSIFIER_PORT", "9000")
	t.Setenv("ACQUIRE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.SampleInterval != 1500*time.Millisecond {
		t.Errorf("SampleInterval = %s", cfg.Capture.SampleInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.Classifier.Timeout != 3*time.Second || cfg.Classifier.Port != 9000 {
		t.Errorf("classifier = %+v", cfg.Classifier)
	}
	if cfg.Capture.AcquireTimeout != 15*time.Second {
		t.Errorf("bad duration should fall back, got %s", cfg.Capture.AcquireTimeout)
	}
}

func TestValidateSampleInterval(t *testing.T) {
	for _, v := range []string{"500ms", "3s"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("SAMPLE_INTERVAL", v)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for SAMPLE_INTERVAL=%s", v)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:         "8080",
			DBPath:       "db",
			AuthTokenTTL: time.Hour,
			Capture: CaptureConfig{
				SessionTTL: time.Minute, ReaperInterval: time.Second,
				SampleInterval: 2 * time.Second, AcquireTimeout: time.Second, MaxFrameBytes: 1,
			},
			Classifier: ClassifierConfig{URL: "http://x", Timeout: time.Second},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	tests := map[string]func(c *Config){
		"port":        func(c *Config) { c.Port = "" },
		"db":          func(c *Config) { c.DBPath = "" },
		"token ttl":   func(c *Config) { c.AuthTokenTTL = 0 },
		"frame bytes": func(c *Config) { c.Capture.MaxFrameBytes = 0 },
		"classifier":  func(c *Config) { c.Classifier.URL = "" },
		"managed":     func(c *Config) { c.Classifier.Image = "img"; c.Classifier.Port = 0 },
		"api timeout": func(c *Config) { c.InterviewAPI.URL = "http://api"; c.InterviewAPI.Timeout = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	if !(&Config{}).IsDevelopment() {
		t.Error("empty FRONTEND_URL should be development")
	}
	if !(&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment() {
		t.Error("localhost should be development")
	}
	if (&Config{FrontendURL: "https://coach.example.com"}).IsDevelopment() {
		t.Error("public URL should not be development")
	}
}
