package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/wpdocker/wp-docker/cmd/internal/utils"
	"go.uber.org/zap"
)

// ExecOptions tune a single command execution inside a container
type ExecOptions struct {
	// User to run the command as, defaults to the user of the container
	User string
	// Env is a list of KEY=value pairs
	Env []string
	// Stdin is streamed to the command if set
	Stdin io.Reader
	// Stdout receives the standard output of the command if set, otherwise it is returned by Exec
	Stdout io.Writer
}

// Runtime is the container capability the backup core depends on
type Runtime interface {
	// Exec runs cmd inside the named container and returns its output
	Exec(ctx context.Context, containerName string, cmd []string, opts ExecOptions) (string, error)
	// IsRunning reports whether the named container is running
	IsRunning(ctx context.Context, containerName string) (bool, error)
	// Start starts the named container
	Start(ctx context.Context, containerName string) error
	// RestartCompose restarts all services of a compose project
	RestartCompose(ctx context.Context, composeFile string) error
}

// apiClient is the subset of the docker engine api used by Client
type apiClient interface {
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerInspect(ctx context.Context, container string) (container.InspectResponse, error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	Close() error
}

// Client implements Runtime with the docker engine api
type Client struct {
	log      *zap.SugaredLogger
	api      apiClient
	executor *utils.CmdExecutor
	timeout  time.Duration
}

// New returns a docker client configured from the environment (DOCKER_HOST etc.)
func New(log *zap.SugaredLogger, timeout time.Duration) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}

	return newClient(log, api, timeout), nil
}

func newClient(log *zap.SugaredLogger, api apiClient, timeout time.Duration) *Client {
	return &Client{
		log:      log,
		api:      api,
		executor: utils.NewExecutor(log),
		timeout:  timeout,
	}
}

// Close releases the connection to the docker daemon
func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Exec runs cmd inside the named container
func (c *Client) Exec(ctx context.Context, containerName string, cmd []string, opts ExecOptions) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.log.Debugw("executing command in container", "container", containerName, "cmd", strings.Join(cmd, " "), "user", opts.User)

	created, err := c.api.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		User:         opts.User,
		Env:          opts.Env,
		Cmd:          cmd,
		AttachStdin:  opts.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create exec in container %q: %w", containerName, err)
	}

	resp, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("unable to attach to exec in container %q: %w", containerName, err)
	}
	defer resp.Close()

	stdinErr := make(chan error, 1)
	if opts.Stdin != nil {
		go func() {
			_, err := io.Copy(resp.Conn, opts.Stdin)
			if cerr := resp.CloseWrite(); err == nil {
				err = cerr
			}
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	var (
		stdout bytes.Buffer
		stderr bytes.Buffer
		out    io.Writer = &stdout
	)
	if opts.Stdout != nil {
		out = opts.Stdout
	}

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(out, &stderr, resp.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("error reading output of command in container %q: %w", containerName, err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("command in container %q did not finish: %w", containerName, ctx.Err())
	}

	if err := <-stdinErr; err != nil {
		return "", fmt.Errorf("error streaming input to container %q: %w", containerName, err)
	}

	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", fmt.Errorf("unable to inspect exec in container %q: %w", containerName, err)
	}

	output := strings.TrimSpace(stdout.String())
	if inspect.ExitCode != 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = output
		}
		return output, fmt.Errorf("command %q in container %q exited with code %d: %s", strings.Join(cmd, " "), containerName, inspect.ExitCode, msg)
	}

	return output, nil
}

// IsRunning reports whether the named container is running, a missing container is not running
func (c *Client) IsRunning(ctx context.Context, containerName string) (bool, error) {
	info, err := c.api.ContainerInspect(ctx, containerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("unable to inspect container %q: %w", containerName, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, nil
	}
	return info.State.Running, nil
}

// Start starts the named container
func (c *Client) Start(ctx context.Context, containerName string) error {
	c.log.Infow("starting container", "container", containerName)
	if err := c.api.ContainerStart(ctx, containerName, container.StartOptions{}); err != nil {
		return fmt.Errorf("unable to start container %q: %w", containerName, err)
	}
	return nil
}

// RestartCompose restarts all services of the compose project defined by composeFile
func (c *Client) RestartCompose(ctx context.Context, composeFile string) error {
	if !utils.IsCommandPresent("docker") {
		return fmt.Errorf("unable to restart compose project %q: docker cli not found in path", composeFile)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.executor.ExecuteCommandWithOutput(ctx, "docker", nil, "compose", "-f", composeFile, "restart")
	if err != nil {
		return fmt.Errorf("unable to restart compose project %q: %s: %w", composeFile, out, err)
	}
	return nil
}
