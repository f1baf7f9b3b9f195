package syntaxcheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// DockerChecker runs a response through a disposable container
// (create → exec → wait → logs → remove), grounded in the teacher's
// container executor lifecycle. It trades the subprocess backend's
// speed for toolchain isolation when the harness needs to run a
// response's own compiler inside a controlled image.
type DockerChecker struct {
	client  *client.Client
	image   string
	command []string // e.g. []string{"sh", "-c", "echo \"$CODE\" > /tmp/a.go && go build -o /dev/null /tmp/a.go"}
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDockerChecker connects to the Docker daemon and returns a
// DockerChecker that runs command inside image for each Check call.
func NewDockerChecker(ctx context.Context, dockerHost, image string, command []string, logger zerolog.Logger) (*DockerChecker, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("syntaxcheck: create docker client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("syntaxcheck: connect to docker: %w", err)
	}
	return &DockerChecker{
		client:  cli,
		image:   image,
		command: command,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "syntaxcheck.docker").Logger(),
	}, nil
}

func (c *DockerChecker) Check(code string) Result {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.client.ContainerCreate(ctx, &container.Config{
		Image: c.image,
		Cmd:   c.command,
		Env:   []string{"CODE=" + code},
		Tty:   false,
	}, nil, nil, nil, "")
	if err != nil {
		return Result{OK: false, Errors: []string{fmt.Sprintf("create container: %v", err)}}
	}
	containerID := resp.ID
	defer c.client.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})

	if err := c.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return Result{OK: false, Errors: []string{fmt.Sprintf("start container: %v", err)}}
	}

	statusCh, errCh := c.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			return Result{OK: false, Errors: []string{"syntax check timed out"}}
		}
		if err != nil {
			return Result{OK: false, Errors: []string{fmt.Sprintf("wait container: %v", err)}}
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			logs := c.collectLogs(ctx, containerID)
			return Result{OK: false, Errors: []string{logs}}
		}
	}
	return Result{OK: true}
}

func (c *DockerChecker) collectLogs(ctx context.Context, containerID string) string {
	out, err := c.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fmt.Sprintf("collect logs: %v", err)
	}
	defer out.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, out); err != nil && err != io.EOF {
		return fmt.Sprintf("demux logs: %v", err)
	}
	if stderr.Len() > 0 {
		return stderr.String()
	}
	return stdout.String()
}

// Close releases the underlying Docker client.
func (c *DockerChecker) Close() error { return c.client.Close() }
