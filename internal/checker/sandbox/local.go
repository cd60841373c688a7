package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	appErr "checkhub/pkg/errors"
)

// LocalExecutor runs commands in a throwaway directory on the host. It has
// no isolation at all and is only reachable when allowLocal is set.
type LocalExecutor struct {
	dir    string
	limits Limits

	closeOnce sync.Once
	closeErr  error
}

// NewLocalExecutor creates a temp working directory for one check.
func NewLocalExecutor(limits Limits) (*LocalExecutor, error) {
	limits.setDefaults()
	dir, err := os.MkdirTemp("", "checkhub-sandbox-")
	if err != nil {
		return nil, appErr.Wrap(err, appErr.SandboxCreateFailed)
	}
	return &LocalExecutor{dir: dir, limits: limits}, nil
}

// Dir returns the working directory, for tests.
func (e *LocalExecutor) Dir() string {
	return e.dir
}

func (e *LocalExecutor) resolve(filePath string) (string, error) {
	cleaned := filepath.Clean("/" + filePath)
	full := filepath.Join(e.dir, cleaned)
	if !strings.HasPrefix(full, e.dir) {
		return "", appErr.ValidationError("path", "escapes working directory")
	}
	return full, nil
}

// WriteFile places content under the working directory.
func (e *LocalExecutor) WriteFile(ctx context.Context, filePath string, content string) error {
	full, err := e.resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	return nil
}

// ReadFile reads a file from the working directory.
func (e *LocalExecutor) ReadFile(ctx context.Context, filePath string) (string, error) {
	full, err := e.resolve(filePath)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return "", appErr.Wrap(err, appErr.SandboxFileTransfer)
	}
	return string(content), nil
}

// Run executes the command in the working directory under the wall-clock
// timeout.
func (e *LocalExecutor) Run(ctx context.Context, args ...string) (Output, error) {
	if len(args) == 0 {
		return Output{}, appErr.ValidationError("args", "required")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = e.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		return out, appErr.New(appErr.SandboxExecTimeout).WithMessagef("command exceeded %s", e.limits.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, appErr.Wrap(err, appErr.SandboxExecFailed)
	}
	return out, nil
}

// Close removes the working directory.
func (e *LocalExecutor) Close() error {
	e.closeOnce.Do(func() {
		if err := os.RemoveAll(e.dir); err != nil {
			e.closeErr = appErr.Wrap(err, appErr.SandboxExecFailed)
		}
	})
	return e.closeErr
}
