package container

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
)

func TestSpecBaseURL(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"published on loopback", Spec{Name: "emotion-classifier", Port: 8000}, "http://127.0.0.1:8000"},
		{"shared network", Spec{Name: "emotion-classifier", Port: 8000, InNetwork: true}, "http://emotion-classifier:8000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContainerConfig(t *testing.T) {
	spec := Spec{
		Image:   "classifier:latest",
		Name:    "emotion-classifier",
		Network: "interview-coach",
		Port:    8000,
		Env:     map[string]string{"MODEL": "fer"},
	}

	cfg := containerConfig(spec)
	if cfg.Image != spec.Image {
		t.Errorf("image = %q", cfg.Image)
	}
	if _, ok := cfg.ExposedPorts[nat.Port("8000/tcp")]; !ok {
		t.Errorf("port not exposed: %v", cfg.ExposedPorts)
	}
	if cfg.Labels[managedLabel] != "true" {
		t.Error("managed label missing")
	}
	var sawPort, sawModel bool
	for _, e := range cfg.Env {
		sawPort = sawPort || e == "PORT=8000"
		sawModel = sawModel || e == "MODEL=fer"
	}
	if !sawPort || !sawModel {
		t.Errorf("env = %v", cfg.Env)
	}
}

func TestHostConfig(t *testing.T) {
	spec := Spec{Name: "c", Network: "interview-coach", Port: 8000, Runtime: "runsc"}

	hc := hostConfig(spec)
	if hc.Runtime != "runsc" || hc.NetworkMode != container.NetworkMode("interview-coach") {
		t.Errorf("host config = %+v", hc)
	}
	bindings := hc.PortBindings[nat.Port("8000/tcp")]
	if len(bindings) != 1 || bindings[0].HostIP != "127.0.0.1" || bindings[0].HostPort != "8000" {
		t.Errorf("bindings = %+v", bindings)
	}

	spec.InNetwork = true
	if hc := hostConfig(spec); len(hc.PortBindings) != 0 {
		t.Errorf("in-network classifier should not publish ports: %+v", hc.PortBindings)
	}
}
