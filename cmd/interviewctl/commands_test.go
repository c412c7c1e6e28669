package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/persist"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "face.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestQuestionsCommand(t *testing.T) {
	out, err := run(t, "questions", "--role", "SRE", "--level", "Beginner")
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if !strings.HasPrefix(out, "1. ") || !strings.Contains(out, "SRE at a basic level") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "questions", "-o", "yaml")
	if err != nil {
		t.Fatalf("questions yaml: %v", err)
	}
	var qs []string
	if err := yaml.Unmarshal([]byte(out), &qs); err != nil {
		t.Fatalf("yaml output: %v", err)
	}
	if len(qs) != 3 || !strings.Contains(qs[0], "the role") {
		t.Errorf("questions = %v", qs)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	if _, err := run(t, "questions", "-o", "xml"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestListCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(persist.ListResponse{
			Status: "success",
			Interviews: []*domain.Interview{{
				ID:                "iv-1",
				JobRole:           "SRE",
				Level:             "Advanced",
				ConfidenceData:    []domain.ConfidenceSample{{Confidence: 80, Duration: 2}},
				OverallConfidence: 80,
			}},
		})
	}))
	defer srv.Close()

	out, err := run(t, "list", "--api", srv.URL, "--token", "tok_test")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "SRE") || !strings.Contains(out, "80.00%") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "list", "--api", srv.URL, "--token", "tok_test", "-o", "json")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var rows []interviewRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if len(rows) != 1 || rows[0].Samples != 1 {
		t.Errorf("rows = %+v", rows)
	}

	t.Setenv("INTERVIEW_TOKEN", "")
	if _, err := run(t, "list", "--api", srv.URL); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestClassifyCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect_emotion" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"faces":[{"box":{"x":1,"y":2,"w":30,"h":40},"emotion":"happy","confidence":0.9},{"box":{"x":50,"y":2,"w":30,"h":40},"emotion":"sad","confidence":0.4}]}`))
	}))
	defer srv.Close()
	img := writePNG(t)

	out, err := run(t, "classify", "--classifier", srv.URL, img)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if strings.TrimSpace(out) != "happy 90.00%" {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "classify", "--classifier", srv.URL, "--faces", img)
	if err != nil {
		t.Fatalf("classify faces: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 2 {
		t.Errorf("faces output = %q", out)
	}
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("api_url: http://api.test\ntoken: tok_file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if fc.APIURL != "http://api.test" || fc.Token != "tok_file" {
		t.Errorf("config = %+v", fc)
	}

	if _, err := loadFileConfig(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}
}
