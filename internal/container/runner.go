package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/service/common"
)

// API is the subset of the Docker client used to run build containers.
type API interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(
		ctx context.Context,
		containerID string,
		condition container.WaitCondition,
	) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var _ API = (*client.Client)(nil)

// Spec describes one disposable container.
type Spec struct {
	// Name is the container name.
	Name string
	// Image is the distribution image.
	Image string
	// Cmd is the command run inside the container.
	Cmd []string
	// Env holds KEY=VALUE pairs.
	Env []string
	// HostDir is bind-mounted at MountPath and used as the working directory.
	HostDir string
	// MountPath is the mount target inside the container.
	MountPath string
	// Labels are attached to the container.
	Labels map[string]string
}

// String renders the spec for logs.
func (s *Spec) String() string {
	return fmt.Sprintf("%s: %s", s.Image, strings.Join(s.Cmd, " "))
}

// Runner runs a container to completion.
type Runner interface {
	Run(ctx context.Context, spec *Spec) error
}

var (
	errImageRequired = errors.New("container image must be provided")
	errWait          = errors.New("container wait failed")
)

// DockerRunner runs specs through the Docker Engine API.
type DockerRunner struct {
	// api is the Docker client.
	api API
	// pull fetches the image before creating the container.
	pull bool
	// stdout and stderr receive the demultiplexed container output.
	stdout, stderr io.Writer
}

// Option configures a DockerRunner.
type Option func(r *DockerRunner)

// WithoutPull skips pulling images, for locally built or cached images.
func WithoutPull() Option {
	return func(r *DockerRunner) {
		r.pull = false
	}
}

// WithOutput redirects the container output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *DockerRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// NewClient creates a Docker client and checks that the daemon answers.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if _, err = cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	return cli, nil
}

// NewDockerRunner wraps api into a Runner.
func NewDockerRunner(api API, options ...Option) *DockerRunner {
	r := &DockerRunner{
		api:    api,
		pull:   true,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Run pulls, creates, starts and waits for the container, then removes it.
// A non-zero exit status is returned as *common.ExitError.
func (r *DockerRunner) Run(ctx context.Context, spec *Spec) error {
	if spec == nil || spec.Image == "" {
		return errImageRequired
	}

	ctx = logger.WithKV(ctx, "container", spec.Name)

	if r.pull {
		if err := r.pullImage(ctx, spec.Image); err != nil {
			return err
		}
	}

	containerConfig := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.MountPath,
		Labels:     spec.Labels,
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false, // removed explicitly after the logs are drained
	}

	if spec.HostDir != "" && spec.MountPath != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.HostDir,
			Target: spec.MountPath,
		}}
	}

	logger.InfoKV(ctx, "Creating build container", "spec", spec.String())

	resp, err := r.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	defer r.remove(ctx, resp.ID)

	if err = r.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	var (
		wg      sync.WaitGroup
		logsErr error
	)

	logsCtx, cancelLogs := context.WithCancel(ctx)
	defer cancelLogs()

	wg.Add(1)

	go func() {
		defer wg.Done()

		logsErr = r.streamLogs(logsCtx, resp.ID)
	}()

	code, err := r.wait(ctx, resp.ID)
	if err != nil {
		// The follow stream may never end when the wait itself failed.
		cancelLogs()
	}

	wg.Wait()

	if logsErr != nil && !errors.Is(logsErr, context.Canceled) {
		logger.WarnKV(ctx, "Container log stream ended with an error", "error", logsErr)
	}

	if err != nil {
		return err
	}

	if code != 0 {
		return &common.ExitError{
			Command: spec.String(),
			Code:    code,
			Err:     fmt.Errorf("container %s exited with status %d", spec.Name, code),
		}
	}

	logger.Info(ctx, "Build container finished")

	return nil
}

func (r *DockerRunner) pullImage(ctx context.Context, image string) error {
	logger.InfoKV(ctx, "Pulling image", "image", image)

	reader, err := r.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}

	defer func() {
		_ = reader.Close()
	}()

	// The pull completes only when the progress stream is drained.
	if _, err = io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}

	return nil
}

func (r *DockerRunner) streamLogs(ctx context.Context, id string) error {
	reader, err := r.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return err
	}

	defer func() {
		_ = reader.Close()
	}()

	_, err = stdcopy.StdCopy(r.stdout, r.stderr, reader)

	return err
}

func (r *DockerRunner) wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := r.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return 0, fmt.Errorf("%w: %w", errWait, err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, fmt.Errorf("%w: %s", errWait, status.Error.Message)
		}

		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// remove force-removes the container even when ctx is already cancelled.
func (r *DockerRunner) remove(ctx context.Context, id string) {
	err := r.api.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	if err != nil {
		logger.WarnKV(ctx, "Could not remove build container", "id", id, "error", err)
	}
}
