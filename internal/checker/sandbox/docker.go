package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	appErr "checkhub/pkg/errors"
	"checkhub/pkg/utils/logger"
)

const containerWorkdir = "/sandbox"

// DockerClient wraps the Docker SDK client shared by all docker executors.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient connects to the local Docker daemon and verifies the
// connection with a ping.
func NewDockerClient(ctx context.Context) (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxCreateFailed)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxCreateFailed).WithMessage("docker daemon unreachable")
	}
	return &DockerClient{cli: cli}, nil
}

// Close releases the underlying SDK client.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// DockerExecutor runs commands inside one dedicated container with no
// network, a hard memory limit and a CPU quota. The container's main process
// is a sleep bounded by the wall-clock timeout, so even a lost executor
// cannot outlive its budget by much.
type DockerExecutor struct {
	client      *DockerClient
	containerID string
	limits      Limits

	closeOnce sync.Once
	closeErr  error
}

// NewDockerExecutor creates and starts a fresh container.
func NewDockerExecutor(ctx context.Context, dc *DockerClient, image string, limits Limits) (*DockerExecutor, error) {
	if dc == nil {
		return nil, appErr.New(appErr.SandboxCreateFailed).WithMessage("docker client not configured")
	}
	limits.setDefaults()

	// Keep the container alive slightly past the exec timeout so output
	// collection wins the race against the sleep expiring.
	lifetime := int(limits.Timeout/time.Second) + 5
	name := "checkhub-" + uuid.NewString()

	resp, err := dc.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      image,
			Cmd:        []string{"sleep", fmt.Sprintf("%d", lifetime)},
			WorkingDir: containerWorkdir,
		},
		&container.HostConfig{
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:   limits.MemoryBytes,
				NanoCPUs: int64(limits.CPUs * 1e9),
			},
		}, nil, nil, name)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxCreateFailed)
	}

	if err := dc.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = dc.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, appErr.Wrap(err, appErr.SandboxCreateFailed)
	}

	return &DockerExecutor{client: dc, containerID: resp.ID, limits: limits}, nil
}

// WriteFile copies content into the container through a tar stream.
func (e *DockerExecutor) WriteFile(ctx context.Context, filePath string, content string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: strings.TrimPrefix(filePath, "/"),
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	if err := tw.Close(); err != nil {
		return appErr.Wrap(err, appErr.SandboxFileTransfer)
	}

	err := e.client.cli.CopyToContainer(ctx, e.containerID, containerWorkdir, &buf, container.CopyToContainerOptions{})
	if err != nil {
		return appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	return nil
}

// ReadFile retrieves one file from the container.
func (e *DockerExecutor) ReadFile(ctx context.Context, filePath string) (string, error) {
	full := path.Join(containerWorkdir, filePath)
	reader, _, err := e.client.cli.CopyFromContainer(ctx, e.containerID, full)
	if err != nil {
		return "", appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", appErr.Wrap(err, appErr.SandboxFileTransfer)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return "", appErr.Wrap(err, appErr.SandboxFileTransfer)
		}
		return string(content), nil
	}
	return "", appErr.New(appErr.SandboxFileTransfer).WithMessagef("no regular file in archive for %s", filePath)
}

// Run executes a command inside the container and collects its demultiplexed
// output. Exceeding the wall-clock timeout reports TimedOut together with a
// SandboxExecTimeout error.
func (e *DockerExecutor) Run(ctx context.Context, args ...string) (Output, error) {
	if len(args) == 0 {
		return Output{}, appErr.ValidationError("args", "required")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	execResp, err := e.client.cli.ContainerExecCreate(runCtx, e.containerID, container.ExecOptions{
		Cmd:          args,
		WorkingDir:   containerWorkdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return Output{}, appErr.Wrap(err, appErr.SandboxExecFailed)
	}

	attach, err := e.client.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return Output{}, appErr.Wrap(err, appErr.SandboxExecFailed)
	}
	defer attach.Close()

	stdout, stderr, timedOut, copyErr := demuxOutput(runCtx, attach.Reader, attach.Close)
	if timedOut {
		out := Output{Stdout: stdout, Stderr: stderr, TimedOut: true}
		logger.Warnf(ctx, "sandbox command timed out after %s: %v", e.limits.Timeout, args)
		return out, appErr.New(appErr.SandboxExecTimeout).WithMessagef("command exceeded %s", e.limits.Timeout)
	}
	if copyErr != nil {
		return Output{}, appErr.Wrap(copyErr, appErr.SandboxExecFailed)
	}

	inspect, err := e.client.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return Output{}, appErr.Wrap(err, appErr.SandboxExecFailed)
	}

	return Output{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: inspect.ExitCode,
	}, nil
}

// demuxOutput copies the demultiplexed exec stream into buffers. When ctx
// expires, the source is closed to unblock the copy and the copy goroutine
// is joined before the buffers are read; the buffers are never touched while
// the copy still runs.
func demuxOutput(ctx context.Context, src io.Reader, closeSrc func()) (stdout, stderr string, timedOut bool, err error) {
	var outBuf, errBuf bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, src)
		copyDone <- copyErr
	}()

	select {
	case err = <-copyDone:
		return outBuf.String(), errBuf.String(), false, err
	case <-ctx.Done():
		closeSrc()
		<-copyDone
		return outBuf.String(), errBuf.String(), true, nil
	}
}

// Close force-removes the container. The removal uses a background context
// so teardown survives a canceled check.
func (e *DockerExecutor) Close() error {
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := e.client.cli.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			e.closeErr = appErr.Wrap(err, appErr.SandboxExecFailed)
		}
	})
	return e.closeErr
}
