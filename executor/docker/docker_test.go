package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kbukum/devflow/executor"
)

type fakeAPI struct {
	mu       sync.Mutex
	created  *container.Config
	host     *container.HostConfig
	removed  []string
	stopped  []string
	exitCode int64
	block    bool
	stdout   string
	stderr   string
	stats    []container.StatsResponse
}

func (f *fakeAPI) ImageInspect(context.Context, string, ...client.ImageInspectOption) (image.InspectResponse, error) {
	return image.InspectResponse{}, nil
}

func (f *fakeAPI) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created, f.host = cfg, host
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error { return nil }

func (f *fakeAPI) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.block {
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
		return statusCh, errCh
	}
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, errCh
}

func (f *fakeAPI) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerStats(context.Context, string, bool) (container.StatsResponseReader, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range f.stats {
		_ = enc.Encode(s)
	}
	return container.StatsResponseReader{Body: io.NopCloser(&buf)}, nil
}

func (f *fakeAPI) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.mu.Lock()
	f.stopped = append(f.stopped, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) Ping(context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeAPI) Close() error { return nil }

func stats(totalUsage, systemUsage, memBytes uint64) container.StatsResponse {
	var s container.StatsResponse
	s.CPUStats.CPUUsage.TotalUsage = totalUsage
	s.CPUStats.SystemUsage = systemUsage
	s.CPUStats.OnlineCPUs = 2
	s.MemoryStats.Usage = memBytes
	return s
}

func TestExecuteSuccess(t *testing.T) {
	api := &fakeAPI{
		stdout: "built\nok\n",
		stderr: "warning\n",
		stats:  []container.StatsResponse{stats(50, 100, 64*1024*1024), stats(25, 100, 128*1024*1024)},
	}
	e := NewWithClient(Config{}, api, nil)

	var lines []string
	result, err := e.Execute(context.Background(), executor.Request{
		NodeID:  "build",
		Command: "make build",
		Dir:     "/src/app",
		Env:     map[string]string{"CI": "1"},
		Profile: executor.Profile{Kind: executor.ProfileDocker, CPULimit: "0.5", MemLimit: "256m"},
		Lines:   func(stream, line string) { lines = append(lines, stream+":"+line) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 0 || result.Stdout != "built\nok\n" || result.Stderr != "warning\n" {
		t.Errorf("unexpected result %+v", result)
	}
	if len(lines) != 3 {
		t.Errorf("lines = %v", lines)
	}
	if result.MaxMemoryMB != 128 {
		t.Errorf("MaxMemoryMB = %v", result.MaxMemoryMB)
	}
	if result.MaxCPU != 100 {
		t.Errorf("MaxCPU = %v", result.MaxCPU)
	}

	if api.created.Image != "ubuntu:22.04" {
		t.Errorf("image = %q", api.created.Image)
	}
	if strings.Join(api.created.Cmd, " ") != "sh -c make build" {
		t.Errorf("cmd = %v", api.created.Cmd)
	}
	if api.created.WorkingDir != WorkDir || api.host.Binds[0] != "/src/app:/workspace" {
		t.Errorf("mount = %v dir = %s", api.host.Binds, api.created.WorkingDir)
	}
	if api.host.Resources.NanoCPUs != 500_000_000 || api.host.Resources.Memory != 256*1024*1024 {
		t.Errorf("resources = %+v", api.host.Resources)
	}
	if len(api.created.Env) != 1 || api.created.Env[0] != "CI=1" {
		t.Errorf("env = %v", api.created.Env)
	}
	if len(api.removed) != 1 {
		t.Errorf("container not removed: %v", api.removed)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	api := &fakeAPI{exitCode: 2, stderr: "no such target\n"}
	e := NewWithClient(Config{DefaultImage: "alpine:3"}, api, nil)

	result, err := e.Execute(context.Background(), executor.Request{Command: "make nope"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 2 || result.Stderr != "no such target\n" {
		t.Errorf("unexpected result %+v", result)
	}
	if api.created.Image != "alpine:3" {
		t.Errorf("image = %q", api.created.Image)
	}
}

func TestExecuteTimeout(t *testing.T) {
	api := &fakeAPI{block: true}
	e := NewWithClient(Config{}, api, nil)

	result, err := e.Execute(context.Background(), executor.Request{Command: "sleep 60", Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if !result.TimedOut || result.ExitCode != -1 {
		t.Errorf("expected timeout, got %+v", result)
	}
	if len(api.stopped) != 1 || len(api.removed) != 1 {
		t.Errorf("stopped=%v removed=%v", api.stopped, api.removed)
	}
}

func TestExecuteBadLimits(t *testing.T) {
	e := NewWithClient(Config{}, &fakeAPI{}, nil)
	_, err := e.Execute(context.Background(), executor.Request{
		Command: "true",
		Profile: executor.Profile{MemLimit: "lots"},
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"512m", 512 * 1024 * 1024, false},
		{"1g", 1024 * 1024 * 1024, false},
		{"2Gi", 2 * 1024 * 1024 * 1024, false},
		{"256mb", 256 * 1024 * 1024, false},
		{"64k", 64 * 1024, false},
		{"1024", 1024, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseMemory(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want {
				t.Errorf("parseMemory(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseCPU(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0.5", 500_000_000},
		{"1", 1_000_000_000},
		{"500m", 500_000_000},
	}
	for _, tc := range tests {
		got, err := parseCPU(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("parseCPU(%q) = %d, %v", tc.in, got, err)
		}
	}
	if _, err := parseCPU("fast"); err == nil {
		t.Error("expected error")
	}
}

func TestCPUPercent(t *testing.T) {
	s := stats(50, 100, 0)
	if got := cpuPercent(s); got != 100 {
		t.Errorf("cpuPercent = %v", got)
	}
	if got := cpuPercent(container.StatsResponse{}); got != 0 {
		t.Errorf("empty stats cpu = %v", got)
	}
}
