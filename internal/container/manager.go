// Package container runs the emotion classifier as a managed Docker container.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	stopTimeoutSecs = 10

	// Resource limits.
	memoryLimitBytes = 2 * 1024 * 1024 * 1024 // 2GB
	cpuQuota         = 200000                 // 2 CPUs
	pidsLimit        = 512

	classifierSubnet = "172.29.0.0/16"
	managedLabel     = "interview-coach.managed"

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// Manager controls the classifier container.
type Manager interface {
	// EnsureClassifier starts the classifier if needed and returns its base URL.
	EnsureClassifier(ctx context.Context) (string, error)

	// StopClassifier stops and removes the classifier container.
	StopClassifier(ctx context.Context) error

	// IsRunning reports whether the classifier container is running.
	IsRunning(ctx context.Context) (bool, error)

	// EnsureNetwork creates the classifier bridge network if it doesn't exist.
	EnsureNetwork(ctx context.Context) (string, error)
}

// Spec describes the classifier container.
type Spec struct {
	Image   string
	Name    string
	Network string
	Port    int
	Runtime string // "" = default (runc), "runsc" = gVisor
	Env     map[string]string
	// InNetwork is set when this process shares Network with the
	// classifier and can reach it by name. Otherwise the port is
	// published on the loopback interface.
	InNetwork bool
}

// BaseURL is where the classifier answers once running.
func (s Spec) BaseURL() string {
	if s.InNetwork {
		return fmt.Sprintf("http://%s:%d", s.Name, s.Port)
	}
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port)
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli  *client.Client
	spec Spec
}

// NewDockerManager creates a Docker-backed classifier manager.
func NewDockerManager(spec Spec) (*DockerManager, error) {
	if spec.Image == "" || spec.Name == "" || spec.Port <= 0 {
		return nil, errors.New("classifier container needs image, name and port")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	runtime := spec.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Docker client initialized", "runtime", runtime, "image", spec.Image)
	return &DockerManager{cli: cli, spec: spec}, nil
}

// EnsureClassifier starts the classifier container, reusing a running one.
func (m *DockerManager) EnsureClassifier(ctx context.Context) (string, error) {
	inspect, err := m.cli.ContainerInspect(ctx, m.spec.Name)
	switch {
	case err == nil && inspect.State != nil && inspect.State.Running && inspect.Config != nil && inspect.Config.Image == m.spec.Image:
		slog.Info("Classifier already running", "container_id", inspect.ID)
		return m.spec.BaseURL(), nil
	case err == nil && inspect.Config != nil && inspect.Config.Image == m.spec.Image:
		slog.Info("Restarting stopped classifier", "container_id", inspect.ID)
		if err := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
			return "", fmt.Errorf("restart classifier %s: %w", inspect.ID, err)
		}
		return m.spec.BaseURL(), nil
	case err == nil:
		slog.Info("Classifier image changed, recreating", "container_id", inspect.ID)
		if err := m.remove(ctx, inspect.ID); err != nil {
			slog.Warn("Failed to remove outdated classifier", "error", err, "container_id", inspect.ID)
		}
	case !errdefs.IsNotFound(err):
		return "", fmt.Errorf("inspect classifier: %w", err)
	}

	if _, err := m.EnsureNetwork(ctx); err != nil {
		return "", err
	}

	id, err := m.create(ctx)
	if err != nil {
		return "", err
	}

	if err := m.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove classifier after start failure", "container_id", id, "error", removeErr)
		}
		return "", fmt.Errorf("start classifier %s: %w", id, err)
	}

	slog.Info("Classifier created and started", "container_id", id, "url", m.spec.BaseURL())
	return m.spec.BaseURL(), nil
}

func (m *DockerManager) create(ctx context.Context) (string, error) {
	cfg := containerConfig(m.spec)
	hostCfg := hostConfig(m.spec)

	pulled := false
	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, m.spec.Name)
		if createErr == nil {
			return resp.ID, nil
		}

		if errdefs.IsNotFound(createErr) && !pulled {
			if err := m.pull(ctx); err != nil {
				return "", err
			}
			pulled = true
			continue
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create classifier: %w", createErr)
		}

		// A previous instance may still be shutting down under the same name.
		slog.Warn("Classifier name conflict during create, retrying",
			"container_name", m.spec.Name,
			"attempt", i+1,
			"error", createErr,
		)
		if inspect, inspectErr := m.cli.ContainerInspect(ctx, m.spec.Name); inspectErr == nil {
			if rmErr := m.remove(ctx, inspect.ID); rmErr != nil {
				slog.Warn("Failed to remove conflicting classifier before retry", "container_id", inspect.ID, "error", rmErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	return "", fmt.Errorf("create classifier after retries: %w", createErr)
}

func (m *DockerManager) pull(ctx context.Context) error {
	slog.Info("Pulling classifier image", "image", m.spec.Image)
	rc, err := m.cli.ImagePull(ctx, m.spec.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", m.spec.Image, err)
	}
	defer rc.Close()
	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("read pull progress for %s: %w", m.spec.Image, err)
	}
	return nil
}

func containerConfig(spec Spec) *container.Config {
	port := nat.Port(strconv.Itoa(spec.Port) + "/tcp")
	env := make([]string, 0, len(spec.Env)+1)
	env = append(env, fmt.Sprintf("PORT=%d", spec.Port))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{managedLabel: "true"},
	}
}

func hostConfig(spec Spec) *container.HostConfig {
	hc := &container.HostConfig{
		Runtime:       spec.Runtime,
		NetworkMode:   container.NetworkMode(spec.Network),
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}
	if !spec.InNetwork {
		port := nat.Port(strconv.Itoa(spec.Port) + "/tcp")
		hc.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.Port)}},
		}
	}
	return hc
}

// StopClassifier stops and removes the classifier container.
// It is idempotent.
func (m *DockerManager) StopClassifier(ctx context.Context) error {
	inspect, err := m.cli.ContainerInspect(ctx, m.spec.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Classifier already removed", "container_name", m.spec.Name)
			return nil
		}
		return fmt.Errorf("inspect classifier: %w", err)
	}
	return m.remove(ctx, inspect.ID)
}

func (m *DockerManager) remove(ctx context.Context, containerID string) error {
	slog.Info("Stopping classifier", "container_id", containerID)

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		slog.Debug("Classifier stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, classifier may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove classifier %s: %w", containerID, err)
	}

	slog.Info("Classifier stopped and removed", "container_id", containerID)
	return nil
}

// IsRunning reports whether the classifier container is running.
func (m *DockerManager) IsRunning(ctx context.Context) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, m.spec.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect classifier: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// EnsureNetwork creates the classifier bridge network if it doesn't exist.
func (m *DockerManager) EnsureNetwork(ctx context.Context) (string, error) {
	if m.spec.Network == "" {
		return "", nil
	}

	networks, err := m.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == m.spec.Network {
			return nw.ID, nil
		}
	}

	createResp, err := m.cli.NetworkCreate(ctx, m.spec.Network, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{managedLabel: "true"},
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: classifierSubnet}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", m.spec.Network, err)
	}

	slog.Info("Classifier network created", "network_id", createResp.ID, "subnet", classifierSubnet)
	return createResp.ID, nil
}

// Close releases the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}
