// Package docker runs node commands inside throwaway containers through
// the Docker Engine API.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/logger"
)

// WorkDir is where the node's working directory is mounted.
const WorkDir = "/workspace"

// API is the subset of the Docker client the executor uses.
type API interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Executor runs each request in a fresh container that is removed afterwards.
type Executor struct {
	cfg    Config
	client *component.Lazy[API]
	log    *logger.Logger
}

// New creates a Docker executor. The client connects on first use.
func New(cfg Config, log *logger.Logger) *Executor {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	lazy := component.NewLazy[API]("docker-client", func(context.Context) (API, error) {
		return newClient(cfg)
	}).WithCloser(func(api API) error { return api.Close() })
	return &Executor{cfg: cfg, client: lazy, log: log.WithComponent("executor.docker")}
}

// NewWithClient creates an executor over an existing API implementation.
func NewWithClient(cfg Config, api API, log *logger.Logger) *Executor {
	e := New(cfg, log)
	e.client = component.NewLazy[API]("docker-client", func(context.Context) (API, error) {
		return api, nil
	})
	return e
}

func newClient(cfg Config) (API, error) {
	opts := []client.Opt{client.WithHost(cfg.Host)}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}
	return cli, nil
}

// Execute runs req.Command with sh -c in a container built from the
// profile image, with the work dir bind-mounted at /workspace.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	api, err := e.client.Get(ctx)
	if err != nil {
		return nil, err
	}

	containerCfg, hostCfg, err := e.buildConfigs(req)
	if err != nil {
		return nil, err
	}

	if err := e.ensureImage(ctx, api, containerCfg.Image); err != nil {
		return nil, fmt.Errorf("docker: pull image: %w", err)
	}

	resp, err := api.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker: create container: %w", err)
	}
	id := resp.ID
	defer e.remove(api, id)

	runCtx, cancel := executor.WithTimeout(ctx, req)
	defer cancel()

	start := time.Now()
	if err := api.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("docker: start container: %w", err)
	}
	e.log.Debug("container started", map[string]interface{}{
		logger.FieldNodeID: req.NodeID,
		"container":        shortID(id),
		"image":            containerCfg.Image,
	})

	sampleCtx, stopSampling := context.WithCancel(runCtx)
	peaks := make(chan peak, 1)
	go func() { peaks <- samplePeaks(sampleCtx, api, id) }()

	exitCode, waitErr := wait(runCtx, api, id)
	duration := time.Since(start)
	stopSampling()
	p := <-peaks

	result := &executor.Result{
		ExitCode:    exitCode,
		Duration:    duration,
		MaxCPU:      p.cpu,
		MaxMemoryMB: p.memMB,
	}

	if waitErr != nil {
		stopTimeout := 0
		_ = api.ContainerStop(context.Background(), id, container.StopOptions{Timeout: &stopTimeout})
		if executor.TimedOut(ctx, runCtx) {
			result.TimedOut = true
			result.ExitCode = -1
		} else if ctx.Err() != nil {
			return result, fmt.Errorf("docker: killed by context: %w", ctx.Err())
		} else {
			return result, fmt.Errorf("docker: wait: %w", waitErr)
		}
	}

	stdout := executor.NewStreamWriter("stdout", req.Lines)
	stderr := executor.NewStreamWriter("stderr", req.Lines)
	if err := collectLogs(context.WithoutCancel(ctx), api, id, stdout, stderr); err != nil {
		e.log.Warn("could not collect container logs", logger.ErrorFields("logs", err))
	}
	stdout.Flush()
	stderr.Flush()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

// Close releases the Docker client if it was created.
func (e *Executor) Close() error {
	return e.client.Close()
}

// Ping checks the daemon is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	api, err := e.client.Get(ctx)
	if err != nil {
		return err
	}
	if _, err := api.Ping(ctx); err != nil {
		return fmt.Errorf("docker: health check failed: %w", err)
	}
	return nil
}

func (e *Executor) buildConfigs(req executor.Request) (*container.Config, *container.HostConfig, error) {
	img := req.Profile.DockerImage
	if img == "" {
		img = e.cfg.DefaultImage
	}

	containerCfg := &container.Config{
		Image:      img,
		Cmd:        []string{"sh", "-c", req.Command},
		Env:        executor.EnvList(req.Env),
		WorkingDir: WorkDir,
		Labels: map[string]string{
			"managed-by":   "devflow",
			"devflow.node": req.NodeID,
		},
	}

	hostCfg := &container.HostConfig{}
	dir := req.Dir
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("docker: resolve work dir: %w", err)
	}
	hostCfg.Binds = []string{abs + ":" + WorkDir}

	if req.Profile.CPULimit != "" {
		cpu, err := parseCPU(req.Profile.CPULimit)
		if err != nil {
			return nil, nil, err
		}
		hostCfg.Resources.NanoCPUs = cpu
	}
	if req.Profile.MemLimit != "" {
		mem, err := parseMemory(req.Profile.MemLimit)
		if err != nil {
			return nil, nil, err
		}
		hostCfg.Resources.Memory = mem
	}
	return containerCfg, hostCfg, nil
}

// ensureImage pulls the image if it is not present locally.
func (e *Executor) ensureImage(ctx context.Context, api API, ref string) error {
	if _, err := api.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	if !e.cfg.Pull {
		return nil
	}

	e.log.Info("pulling image", map[string]interface{}{"image": ref})
	reader, err := api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (e *Executor) remove(api API, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := api.ContainerRemove(ctx, id, container.RemoveOptions{RemoveVolumes: true, Force: true}); err != nil {
		e.log.Warn("could not remove container", map[string]interface{}{
			"container":       shortID(id),
			logger.FieldError: err.Error(),
		})
	}
}

func wait(ctx context.Context, api API, id string) (int, error) {
	statusCh, errCh := api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return int(st.StatusCode), fmt.Errorf("docker: %s", st.Error.Message)
		}
		return int(st.StatusCode), nil
	case err := <-errCh:
		return -1, err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func collectLogs(ctx context.Context, api API, id string, stdout, stderr io.Writer) error {
	reader, err := api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fmt.Errorf("docker: get logs: %w", err)
	}
	defer reader.Close()
	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	return err
}

type peak struct {
	cpu   float64
	memMB float64
}

// samplePeaks reads the stats stream and keeps the maxima. The stream
// ends when ctx is cancelled.
func samplePeaks(ctx context.Context, api API, id string) peak {
	var p peak
	resp, err := api.ContainerStats(ctx, id, true)
	if err != nil {
		return p
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var stats container.StatsResponse
		if err := dec.Decode(&stats); err != nil {
			return p
		}
		if cpu := cpuPercent(stats); cpu > p.cpu {
			p.cpu = cpu
		}
		if mem := float64(stats.MemoryStats.Usage) / (1024 * 1024); mem > p.memMB {
			p.memMB = mem
		}
	}
}

func cpuPercent(stats container.StatsResponse) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / sysDelta * cpus * 100
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ executor.Executor = (*Executor)(nil)
