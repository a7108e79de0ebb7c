package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// DockerLister implements ContainerLister against the Docker Engine
// API over its unix socket, covering the single "list containers,
// filter by name" call this probe needs without pulling in the full
// Docker SDK's transitive dependency tree for one endpoint.
type DockerLister struct {
	SocketPath string // default "/var/run/docker.sock"
	APIVersion string // default "v1.45"
	client     *http.Client
}

func NewDockerLister(socketPath string) *DockerLister {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}
	return &DockerLister{
		SocketPath: socketPath,
		APIVersion: "v1.45",
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

type dockerContainer struct {
	Names []string `json:"Names"`
	State string   `json:"State"`
}

func (l *DockerLister) RunningCount(ctx context.Context, namespace string, names []string) (running, total int, err error) {
	apiVersion := l.APIVersion
	if apiVersion == "" {
		apiVersion = "v1.45"
	}
	url := fmt.Sprintf("http://docker/%s/containers/json?all=true", apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("docker engine api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("docker engine api returned %d", resp.StatusCode)
	}

	var containers []dockerContainer
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return 0, 0, err
	}

	want := func(c dockerContainer) bool {
		if len(names) == 0 {
			return true
		}
		for _, want := range names {
			for _, n := range c.Names {
				if strings.TrimPrefix(n, "/") == want {
					return true
				}
			}
		}
		return false
	}

	for _, c := range containers {
		if !want(c) {
			continue
		}
		total++
		if c.State == "running" {
			running++
		}
	}
	return running, total, nil
}
